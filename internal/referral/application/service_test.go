package application

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	orderdom "github.com/Sangram4321/kasturi-masale-sub000/internal/order/domain"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
	walletdom "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/domain"
)

type fakeReferralRepo struct {
	referrers    map[string]Referrer // by code
	orderCounts  map[string]int
	phoneMatches map[string]bool // referrerID -> match
	due          []MaturationCandidate
	rewardStatus map[string]orderdom.RewardStatus
	credits      []walletdom.Transaction
}

func (r *fakeReferralRepo) ReferrerByCode(_ context.Context, code string) (Referrer, error) {
	ref, ok := r.referrers[code]
	if !ok {
		return Referrer{}, apperror.NotFound("referrer_not_found")
	}
	return ref, nil
}

func (r *fakeReferralRepo) OrderCount(_ context.Context, userID string) (int, error) {
	return r.orderCounts[userID], nil
}

func (r *fakeReferralRepo) ReferrerOrderedWithPhone(_ context.Context, referrerID, _ string) (bool, error) {
	return r.phoneMatches[referrerID], nil
}

func (r *fakeReferralRepo) DueForMaturation(_ context.Context, cutoff time.Time, _ int) ([]MaturationCandidate, error) {
	var out []MaturationCandidate
	for _, c := range r.due {
		if r.rewardStatus[c.OrderID] == orderdom.RewardPendingMaturation && !c.DeliveredAt.After(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeReferralRepo) CreditAndMark(_ context.Context, orderID string, credit walletdom.Transaction, _ []byte) (bool, error) {
	if r.rewardStatus[orderID] != orderdom.RewardPendingMaturation {
		return false, nil
	}
	r.rewardStatus[orderID] = orderdom.RewardCredited
	r.credits = append(r.credits, credit)
	return true, nil
}

func (r *fakeReferralRepo) VoidDead(context.Context) (int64, error) { return 0, nil }

func testRepo() *fakeReferralRepo {
	return &fakeReferralRepo{
		referrers:    map[string]Referrer{"ASHA50": {UserID: "u-ref", Code: "ASHA50"}},
		orderCounts:  map[string]int{},
		phoneMatches: map[string]bool{},
		rewardStatus: map[string]orderdom.RewardStatus{},
	}
}

func testSvc(repo *fakeReferralRepo) *Service {
	return NewService(slog.New(slog.DiscardHandler), repo, Config{
		MinCartValue:     decimal.NewFromInt(300),
		RewardCoins:      50,
		ReturnWindowDays: 7,
		CoinExpiryDays:   90,
	})
}

func TestValidateHappyPath(t *testing.T) {
	svc := testSvc(testRepo())
	ref, err := svc.Validate(context.Background(), "asha50", "u-new", "9900112233", decimal.NewFromInt(500))
	require.NoError(t, err)
	require.Equal(t, "ASHA50", ref.Code)
	require.Equal(t, "u-ref", ref.ReferrerID)
	require.Equal(t, orderdom.RewardPendingMaturation, ref.RewardStatus)
}

func TestValidateRejections(t *testing.T) {
	repo := testRepo()
	repo.orderCounts["u-repeat"] = 3
	repo.phoneMatches["u-ref"] = false
	svc := testSvc(repo)
	ctx := context.Background()
	sub := decimal.NewFromInt(500)

	_, err := svc.Validate(ctx, "NOPE", "u-new", "99", sub)
	require.Equal(t, "referral_code_invalid", apperror.Reason(err))

	_, err = svc.Validate(ctx, "ASHA50", "u-ref", "99", sub)
	require.Equal(t, "referral_self_use", apperror.Reason(err))

	_, err = svc.Validate(ctx, "ASHA50", "u-new", "99", decimal.NewFromInt(250))
	require.Equal(t, "referral_min_cart_not_met", apperror.Reason(err))

	_, err = svc.Validate(ctx, "ASHA50", "u-repeat", "99", sub)
	require.Equal(t, "referral_first_order_only", apperror.Reason(err))

	repo.phoneMatches["u-ref"] = true
	_, err = svc.Validate(ctx, "ASHA50", "u-new", "99", sub)
	require.Equal(t, "referral_phone_abuse", apperror.Reason(err))
}

func TestMatureSweepIdempotent(t *testing.T) {
	repo := testRepo()
	now := time.Date(2025, 8, 31, 6, 0, 0, 0, time.UTC)
	repo.due = []MaturationCandidate{
		{OrderID: "KM-1", ReferrerID: "u-ref", DeliveredAt: now.AddDate(0, 0, -10)},
		{OrderID: "KM-2", ReferrerID: "u-ref", DeliveredAt: now.AddDate(0, 0, -3)}, // window open
	}
	repo.rewardStatus["KM-1"] = orderdom.RewardPendingMaturation
	repo.rewardStatus["KM-2"] = orderdom.RewardPendingMaturation
	svc := testSvc(repo)

	rep, err := svc.Mature(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Credited, "only the order past the return window matures")
	require.Len(t, repo.credits, 1)
	require.EqualValues(t, 50, repo.credits[0].Amount)
	require.NotNil(t, repo.credits[0].ExpiresAt)
	require.Equal(t, orderdom.RewardCredited, repo.rewardStatus["KM-1"])

	// Re-run: the predicate excludes CREDITED orders.
	rep, err = svc.Mature(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 0, rep.Credited)
	require.Len(t, repo.credits, 1)
}
