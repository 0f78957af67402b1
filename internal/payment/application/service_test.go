package application

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	orderdom "github.com/Sangram4321/kasturi-masale-sub000/internal/order/domain"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
	walletdom "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/domain"
)

type fakePaymentRepo struct {
	order   orderdom.Order
	paid    bool
	credits []walletdom.Transaction
}

func (r *fakePaymentRepo) Order(context.Context, string) (orderdom.Order, error) {
	return r.order, nil
}

func (r *fakePaymentRepo) MarkPaid(_ context.Context, _, _ string, credit *walletdom.Transaction, _ []byte) (bool, error) {
	if r.paid {
		return false, nil
	}
	r.paid = true
	r.order.PaymentStatus = orderdom.PaymentStatusPaid
	r.order.CoinsCredited = true
	if credit != nil {
		r.credits = append(r.credits, *credit)
	}
	return true, nil
}

const secret = "whsec_test"

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func prepaidOrder() orderdom.Order {
	return orderdom.Order{
		ID:            "KM-1001",
		UserID:        "u1",
		PaymentMethod: orderdom.PaymentPrepaid,
		PaymentStatus: orderdom.PaymentStatusPending,
		Pricing:       orderdom.Pricing{Total: decimal.NewFromInt(600)},
	}
}

func TestWebhookCapturedCreditsReward(t *testing.T) {
	repo := &fakePaymentRepo{order: prepaidOrder()}
	svc := NewService(slog.New(slog.DiscardHandler), repo, secret, walletdom.DefaultRules(), 365)

	body := []byte(`{"order_id":"KM-1001","payment_id":"pay_9","status":"captured"}`)
	res, err := svc.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Len(t, repo.credits, 1)
	require.EqualValues(t, 30, repo.credits[0].Amount, "5% of 600")

	// Redelivery: acknowledged, nothing re-applied.
	res, err = svc.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.False(t, res.Applied)
	require.Len(t, repo.credits, 1)
}

func TestWebhookBadSignature(t *testing.T) {
	repo := &fakePaymentRepo{order: prepaidOrder()}
	svc := NewService(slog.New(slog.DiscardHandler), repo, secret, walletdom.DefaultRules(), 365)

	body := []byte(`{"order_id":"KM-1001","status":"captured"}`)
	_, err := svc.HandleWebhook(context.Background(), body, "deadbeef")
	require.Error(t, err)
	require.Equal(t, "bad_signature", apperror.Reason(err))
	require.False(t, repo.paid)
}

func TestWebhookNonCapturedIgnored(t *testing.T) {
	repo := &fakePaymentRepo{order: prepaidOrder()}
	svc := NewService(slog.New(slog.DiscardHandler), repo, secret, walletdom.DefaultRules(), 365)

	body := []byte(`{"order_id":"KM-1001","payment_id":"pay_9","status":"failed"}`)
	res, err := svc.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.False(t, res.Applied)
	require.False(t, repo.paid)
}
