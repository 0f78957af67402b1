package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	orderdom "github.com/Sangram4321/kasturi-masale-sub000/internal/order/domain"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
	walletdom "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/domain"
)

type Config struct {
	MinCartValue     decimal.Decimal
	RewardCoins      int64
	ReturnWindowDays int
	CoinExpiryDays   int
}

type Service struct {
	log  *slog.Logger
	repo ReferralRepository
	cfg  Config
}

func NewService(log *slog.Logger, repo ReferralRepository, cfg Config) *Service {
	return &Service{log: log, repo: repo, cfg: cfg}
}

// Validate enforces the checkout-time referral rules and returns the
// sub-record to attach to the order. Any failure rejects the code before the
// order mutates anything.
func (s *Service) Validate(ctx context.Context, code, userID, phone string, subtotal decimal.Decimal) (*orderdom.Referral, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, apperror.Validation("referral_code_empty")
	}

	ref, err := s.repo.ReferrerByCode(ctx, code)
	if err != nil {
		if apperror.KindOf(err) == apperror.KindNotFound {
			return nil, apperror.Validation("referral_code_invalid")
		}
		return nil, err
	}
	if ref.UserID == userID {
		return nil, apperror.Validation("referral_self_use")
	}
	if subtotal.LessThan(s.cfg.MinCartValue) {
		return nil, apperror.Validation("referral_min_cart_not_met")
	}

	n, err := s.repo.OrderCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, apperror.Validation("referral_first_order_only")
	}

	// A referrer whose own order history contains this phone number is
	// referring themselves through a second account.
	matched, err := s.repo.ReferrerOrderedWithPhone(ctx, ref.UserID, phone)
	if err != nil {
		return nil, err
	}
	if matched {
		return nil, apperror.Validation("referral_phone_abuse")
	}

	return &orderdom.Referral{
		Code:         code,
		ReferrerID:   ref.UserID,
		RewardStatus: orderdom.RewardPendingMaturation,
	}, nil
}

type SweepReport struct {
	Examined int
	Credited int
	Voided   int64
}

// Mature is the scheduled sweep. It is safely re-runnable: the candidate
// query excludes CREDITED orders and CreditAndMark re-checks the predicate
// inside its transaction, so a crashed or doubled run credits nobody twice.
func (s *Service) Mature(ctx context.Context, now time.Time) (SweepReport, error) {
	voided, err := s.repo.VoidDead(ctx)
	if err != nil {
		return SweepReport{}, err
	}

	cutoff := now.AddDate(0, 0, -s.cfg.ReturnWindowDays)
	candidates, err := s.repo.DueForMaturation(ctx, cutoff, 500)
	if err != nil {
		return SweepReport{}, err
	}

	report := SweepReport{Examined: len(candidates), Voided: voided}
	for _, c := range candidates {
		oid := c.OrderID
		expiry := now.AddDate(0, 0, s.cfg.CoinExpiryDays)
		credit := walletdom.Transaction{
			UserID:    c.ReferrerID,
			OrderID:   &oid,
			Type:      walletdom.TypeCredit,
			Amount:    s.cfg.RewardCoins,
			Status:    walletdom.StatusCompleted,
			Note:      "referral reward matured",
			ExpiresAt: &expiry,
			CreatedAt: now,
		}
		payload, err := json.Marshal(orderdom.ReferralRewardCredited{
			OrderID:    c.OrderID,
			ReferrerID: c.ReferrerID,
			Coins:      s.cfg.RewardCoins,
		})
		if err != nil {
			return report, err
		}

		credited, err := s.repo.CreditAndMark(ctx, c.OrderID, credit, payload)
		if err != nil {
			s.log.Error("referral credit failed", "order_id", c.OrderID, "referrer_id", c.ReferrerID, "err", err)
			continue
		}
		if credited {
			report.Credited++
			s.log.Info("referral reward credited", "order_id", c.OrderID, "referrer_id", c.ReferrerID, "coins", s.cfg.RewardCoins)
		}
	}
	return report, nil
}
