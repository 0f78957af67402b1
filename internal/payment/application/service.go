package application

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	orderdom "github.com/Sangram4321/kasturi-masale-sub000/internal/order/domain"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
	walletdom "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/domain"
)

// Service verifies the payment gateway's signed webhook and applies the
// post-payment effects. The gateway protocol is opaque beyond "signed JSON
// about an order"; everything vendor-specific stays in the wire struct.
type Service struct {
	log            *slog.Logger
	repo           PaymentRepository
	secret         []byte
	rules          walletdom.Rules
	coinExpiryDays int
}

func NewService(log *slog.Logger, repo PaymentRepository, secret string, rules walletdom.Rules, coinExpiryDays int) *Service {
	return &Service{log: log, repo: repo, secret: []byte(secret), rules: rules, coinExpiryDays: coinExpiryDays}
}

type webhookPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

type Result struct {
	Applied bool
	OrderID string
}

// HandleWebhook authenticates body against signature (hex HMAC-SHA256) and
// marks the order paid. Redelivery is acknowledged without re-applying.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (Result, error) {
	if !s.verify(body, signature) {
		return Result{}, apperror.Validation("bad_signature")
	}

	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, apperror.Wrap(apperror.KindValidation, "malformed_payload", err)
	}
	if p.OrderID == "" {
		return Result{}, apperror.Validation("missing_order_id")
	}
	if p.Status != "captured" {
		// Failed and pending gateway states are acknowledged but change nothing.
		s.log.Info("payment webhook ignored", "order_id", p.OrderID, "gateway_status", p.Status)
		return Result{OrderID: p.OrderID}, nil
	}

	o, err := s.repo.Order(ctx, p.OrderID)
	if err != nil {
		return Result{}, err
	}
	if !o.Prepaid() {
		return Result{}, apperror.Validation("order_not_prepaid")
	}

	// Prepaid orders earn their reward at payment; the coins_credited guard
	// shared with the delivery path makes the credit exactly-once across both.
	var credit *walletdom.Transaction
	if !o.CoinsCredited {
		if coins := s.rules.RewardCoins(o.Pricing.Total); coins > 0 {
			oid := o.ID
			expiry := time.Now().UTC().AddDate(0, 0, s.coinExpiryDays)
			credit = &walletdom.Transaction{
				UserID:    o.UserID,
				OrderID:   &oid,
				Type:      walletdom.TypeCredit,
				Amount:    coins,
				Status:    walletdom.StatusCompleted,
				Note:      "prepaid order reward",
				ExpiresAt: &expiry,
				CreatedAt: time.Now().UTC(),
			}
		}
	}

	payload, err := json.Marshal(orderdom.OrderPaid{OrderID: o.ID, PaymentRef: p.PaymentID})
	if err != nil {
		return Result{}, err
	}

	applied, err := s.repo.MarkPaid(ctx, o.ID, p.PaymentID, credit, payload)
	if err != nil {
		return Result{}, err
	}
	if !applied {
		s.log.Info("payment webhook replay ignored", "order_id", o.ID, "payment_id", p.PaymentID)
	} else {
		s.log.Info("payment captured", "order_id", o.ID, "payment_id", p.PaymentID)
	}
	return Result{Applied: applied, OrderID: o.ID}, nil
}

func (s *Service) verify(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}
