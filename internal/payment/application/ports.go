package application

import (
	"context"

	orderdom "github.com/Sangram4321/kasturi-masale-sub000/internal/order/domain"
	walletdom "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/domain"
)

type PaymentRepository interface {
	Order(ctx context.Context, orderID string) (orderdom.Order, error)
	// MarkPaid flips the order to PAID and writes the prepaid reward credit
	// plus the OrderPaid outbox row in one transaction. The update is
	// predicated on the order still being unpaid, so a redelivered webhook
	// returns false instead of crediting twice.
	MarkPaid(ctx context.Context, orderID, paymentRef string, credit *walletdom.Transaction, eventPayload []byte) (bool, error)
}
