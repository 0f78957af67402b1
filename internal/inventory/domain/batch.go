package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
)

// Batch is one production run of one product variant. Remaining quantity is
// mutated only through history entries so the ledger invariant
// remaining == initial + sum(ADD) - sum(DEDUCT) over non-voided entries
// always holds.
type Batch struct {
	ID           int64
	Code         string
	VariantName  string
	MfgDate      time.Time
	CostPerUnit  decimal.Decimal
	InitialQty   int
	RemainingQty int
	IsActive     bool
	Version      int64
	CreatedAt    time.Time
}

type HistoryType string

const (
	HistoryCreated      HistoryType = "CREATED"
	HistoryOrderDeduct  HistoryType = "ORDER_DEDUCT"
	HistoryManualDeduct HistoryType = "MANUAL_DEDUCT"
	HistoryManualAdd    HistoryType = "MANUAL_ADD"
)

// HistoryEntry is append-only. Reversal is a soft-void, never a delete.
type HistoryEntry struct {
	ID         int64
	BatchID    int64
	Type       HistoryType
	Quantity   int
	OrderID    *string
	Note       string
	IsVoided   bool
	VoidReason string
	CreatedAt  time.Time
	VoidedAt   *time.Time
}

func (t HistoryType) Deducts() bool {
	return t == HistoryOrderDeduct || t == HistoryManualDeduct
}

// Remaining re-derives the quantity from the ledger. CREATED entries record
// the seed quantity and are excluded from the delta sum.
func Remaining(initial int, entries []HistoryEntry) int {
	q := initial
	for _, e := range entries {
		if e.IsVoided || e.Type == HistoryCreated {
			continue
		}
		if e.Type.Deducts() {
			q -= e.Quantity
		} else {
			q += e.Quantity
		}
	}
	return q
}

// Deduct consumes quantity from the batch and returns the history entry to
// append. The allocator tolerates a transient negative remainder under
// concurrent deduction; exhaustion flips IsActive.
func (b *Batch) Deduct(t HistoryType, qty int, orderID *string, note string, now time.Time) (HistoryEntry, error) {
	if !t.Deducts() {
		return HistoryEntry{}, apperror.Validation("history_type_not_deduct")
	}
	if qty <= 0 {
		return HistoryEntry{}, apperror.Validation("quantity_not_positive")
	}
	b.RemainingQty -= qty
	if b.RemainingQty <= 0 {
		b.IsActive = false
	}
	return HistoryEntry{
		BatchID:   b.ID,
		Type:      t,
		Quantity:  qty,
		OrderID:   orderID,
		Note:      note,
		CreatedAt: now,
	}, nil
}

func (b *Batch) Add(qty int, note string, now time.Time) (HistoryEntry, error) {
	if qty <= 0 {
		return HistoryEntry{}, apperror.Validation("quantity_not_positive")
	}
	b.RemainingQty += qty
	if b.RemainingQty > 0 {
		b.IsActive = true
	}
	return HistoryEntry{
		BatchID:   b.ID,
		Type:      HistoryManualAdd,
		Quantity:  qty,
		Note:      note,
		CreatedAt: now,
	}, nil
}

// Void reverses the quantity impact of entry exactly once and re-derives the
// active flag. CREATED entries seed the batch and cannot be voided.
func (b *Batch) Void(entry *HistoryEntry, reason string, now time.Time) error {
	if entry.IsVoided {
		return apperror.Conflict("history_entry_already_voided")
	}
	if entry.Type == HistoryCreated {
		return apperror.Validation("cannot_void_creation_entry")
	}
	if entry.BatchID != b.ID {
		return apperror.Validation("history_entry_batch_mismatch")
	}
	if entry.Type.Deducts() {
		b.RemainingQty += entry.Quantity
	} else {
		b.RemainingQty -= entry.Quantity
	}
	b.IsActive = b.RemainingQty > 0
	entry.IsVoided = true
	entry.VoidReason = reason
	entry.VoidedAt = &now
	return nil
}
