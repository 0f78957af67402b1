package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
)

type TxnType string

const (
	TypeCredit TxnType = "CREDIT"
	TypeDebit  TxnType = "DEBIT"
)

type TxnStatus string

const (
	StatusCompleted TxnStatus = "COMPLETED"
	StatusPending   TxnStatus = "PENDING"
	StatusFailed    TxnStatus = "FAILED"
	StatusVoid      TxnStatus = "VOID"
)

type AdjustReason string

const (
	ReasonGoodwill      AdjustReason = "GOODWILL"
	ReasonCorrection    AdjustReason = "CORRECTION"
	ReasonAbuseClawback AdjustReason = "ABUSE_CLAWBACK"
	ReasonPromotion     AdjustReason = "PROMOTION"
)

func (r AdjustReason) Valid() bool {
	switch r {
	case ReasonGoodwill, ReasonCorrection, ReasonAbuseClawback, ReasonPromotion:
		return true
	}
	return false
}

// Transaction is an immutable ledger entry. Amount is always positive; the
// sign is implied by Type. Balance is never stored anywhere, only derived.
type Transaction struct {
	ID        int64
	UserID    string
	OrderID   *string
	Type      TxnType
	Amount    int64
	Status    TxnStatus
	Note      string
	Reason    AdjustReason
	ActorID   string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Balance is the aggregation of a user's ledger grouped by entry status.
// Only COMPLETED entries are spendable.
type Balance struct {
	Active  int64
	Pending int64
}

type Tier string

const (
	TierBronze Tier = "BRONZE"
	TierSilver Tier = "SILVER"
	TierGold   Tier = "GOLD"
)

// tierBands is ordered by ascending threshold; classification walks it rather
// than hard-coding comparisons because the thresholds are business-tunable.
var tierBands = []struct {
	Min  int64
	Tier Tier
}{
	{0, TierBronze},
	{100, TierSilver},
	{300, TierGold},
}

func (b Balance) Tier() Tier {
	t := tierBands[0].Tier
	for _, band := range tierBands {
		if b.Active >= band.Min {
			t = band.Tier
		}
	}
	return t
}

// Rules are the redemption and reward tunables.
type Rules struct {
	MinRedeemCoins int64
	CoinValue      decimal.Decimal // currency units of discount per coin
	CapPercent     decimal.Decimal // of cart subtotal
	RewardPercent  decimal.Decimal // of payable total
}

func DefaultRules() Rules {
	return Rules{
		MinRedeemCoins: 100,
		CoinValue:      decimal.RequireFromString("0.8"),
		CapPercent:     decimal.RequireFromString("0.30"),
		RewardPercent:  decimal.RequireFromString("0.05"),
	}
}

// MaxRedeemableCoins clamps the coin count itself, not just the discount:
// the converted value of the returned count never exceeds CapPercent of the
// subtotal.
func (r Rules) MaxRedeemableCoins(subtotal decimal.Decimal) int64 {
	if !subtotal.IsPositive() || !r.CoinValue.IsPositive() {
		return 0
	}
	return subtotal.Mul(r.CapPercent).Div(r.CoinValue).IntPart()
}

// Discount converts a coin count to currency units.
func (r Rules) Discount(coins int64) decimal.Decimal {
	return r.CoinValue.Mul(decimal.NewFromInt(coins))
}

// RewardCoins is the delivery/payment reward: a fixed percentage of the
// payable total, floored to whole coins.
func (r Rules) RewardCoins(total decimal.Decimal) int64 {
	return total.Mul(r.RewardPercent).IntPart()
}

// ValidateRedemption enforces the checkout-time rule set. A request above
// the cap is rejected rather than silently clamped; the error carries the
// allowed maximum so the caller can retry with it.
func (r Rules) ValidateRedemption(coins, activeBalance int64, subtotal decimal.Decimal) error {
	if coins < r.MinRedeemCoins {
		return apperror.Validation("redeem_below_minimum")
	}
	if coins > activeBalance {
		return apperror.Validation("insufficient_coin_balance")
	}
	if max := r.MaxRedeemableCoins(subtotal); coins > max {
		return apperror.Validation("redeem_exceeds_cap")
	}
	return nil
}

// AuditEntry records an admin wallet adjustment alongside the ledger write,
// in the same transaction.
type AuditEntry struct {
	UserID    string
	ActorID   string
	Action    string
	Detail    string
	CreatedAt time.Time
}
