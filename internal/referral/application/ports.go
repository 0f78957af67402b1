package application

import (
	"context"
	"time"

	walletdom "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/domain"
)

type Referrer struct {
	UserID string
	Code   string
}

// MaturationCandidate is a delivered order whose referral reward is still
// pending after the return window.
type MaturationCandidate struct {
	OrderID     string
	ReferrerID  string
	DeliveredAt time.Time
}

type ReferralRepository interface {
	ReferrerByCode(ctx context.Context, code string) (Referrer, error)
	OrderCount(ctx context.Context, userID string) (int, error)
	// ReferrerOrderedWithPhone reports whether any order of the referrer
	// carries the given phone number, the coarse self-dealing heuristic.
	ReferrerOrderedWithPhone(ctx context.Context, referrerID, phone string) (bool, error)
	// DueForMaturation returns delivered PENDING_MATURATION orders whose
	// return window has elapsed as of cutoff.
	DueForMaturation(ctx context.Context, cutoff time.Time, limit int) ([]MaturationCandidate, error)
	// CreditAndMark writes the referrer's ledger credit and flips the order's
	// reward status to CREDITED in one transaction, guarded by a predicate on
	// the current PENDING_MATURATION status so re-runs are no-ops.
	CreditAndMark(ctx context.Context, orderID string, credit walletdom.Transaction, eventPayload []byte) (bool, error)
	// VoidDead marks rewards on cancelled or returned orders VOID.
	VoidDead(ctx context.Context) (int64, error)
}
