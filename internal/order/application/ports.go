package application

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/order/domain"
	walletdom "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/domain"
)

type ListFilter struct {
	Status domain.OrderStatus
	UserID string
	Limit  int
	Offset int
}

// TransitionEffects describes everything the repository must persist in the
// same transaction as the status change. The service decides the effects;
// the repository makes them atomic.
type TransitionEffects struct {
	SetAWB            string
	SetCourier        string
	StampShipped      bool
	StampDelivered    bool
	AssignBatches     bool
	ReverseBatches    bool
	WalletCredit      *walletdom.Transaction
	SetCoinsCredited  bool
	ComputeFinancials bool
	SetRefundStatus   domain.RefundStatus // empty means unchanged
	EventType         string
	EventPayload      []byte
}

type OrderRepository interface {
	// Create persists the order, its items, the optional redemption debit and
	// the OrderCreated outbox row in one transaction. The debit is validated
	// against the ledger balance inside the transaction under a user row lock.
	Create(ctx context.Context, o *domain.Order, debit *walletdom.Transaction, eventPayload []byte, traceparent string) error
	Get(ctx context.Context, id string) (domain.Order, error)
	GetByAWB(ctx context.Context, awb string) (domain.Order, error)
	List(ctx context.Context, f ListFilter) ([]domain.Order, error)
	// ApplyTransition commits the status change with an optimistic
	// compare-and-swap on the order version, the shipping log row, and every
	// effect, atomically. A lost race surfaces as a Conflict error.
	ApplyTransition(ctx context.Context, o domain.Order, rec domain.ShippingLog, eff TransitionEffects, traceparent string) error
	// AppendShippingLog records a rejected or ignored event without touching
	// the order.
	AppendShippingLog(ctx context.Context, orderID string, rec domain.ShippingLog) error
	BumpShipmentRetry(ctx context.Context, orderID string) error
	// SetRefundStatus records the outcome of a post-commit refund attempt.
	SetRefundStatus(ctx context.Context, orderID string, st domain.RefundStatus) error
	// PurgeCorrupted deletes records that violate key invariants (missing
	// business key or pricing). Data hygiene only; orders are never otherwise
	// physically deleted.
	PurgeCorrupted(ctx context.Context) (int64, error)
}

type WalletReader interface {
	Balance(ctx context.Context, userID string) (walletdom.Balance, error)
}

type ReferralValidator interface {
	Validate(ctx context.Context, code, userID, phone string, subtotal decimal.Decimal) (*domain.Referral, error)
}

type ShipmentInfo struct {
	AWB     string
	Courier string
}

type Checkpoint struct {
	Status      string `json:"status"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
}

type TrackingInfo struct {
	Available   bool         `json:"available"`
	Status      string       `json:"status"`
	Checkpoints []Checkpoint `json:"checkpoints,omitempty"`
}

// CourierClient is the outbound side of the courier integration. Cancel is
// the compensation gate: the internal cancellation must not commit unless it
// succeeds.
type CourierClient interface {
	CreateShipment(ctx context.Context, o domain.Order) (ShipmentInfo, error)
	CancelShipment(ctx context.Context, awb string) error
	Track(ctx context.Context, awb string) (TrackingInfo, error)
}

// RefundClient is the opaque payment-gateway refund hook. Refunds are
// attempted only after the cancellation has committed and never block it.
type RefundClient interface {
	Refund(ctx context.Context, orderID string, amount decimal.Decimal) error
}
