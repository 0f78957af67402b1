package application

import (
	"context"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/inventory/domain"
)

type BatchFilter struct {
	VariantName string
	ActiveOnly  bool
	Limit       int
	Offset      int
}

type BatchRepository interface {
	Create(ctx context.Context, b *domain.Batch, created domain.HistoryEntry) error
	Get(ctx context.Context, id int64) (domain.Batch, error)
	List(ctx context.Context, f BatchFilter) ([]domain.Batch, error)
	History(ctx context.Context, batchID int64) ([]domain.HistoryEntry, error)
	// Apply persists a mutated batch and its new history entry atomically,
	// with a compare-and-swap on the batch version.
	Apply(ctx context.Context, b domain.Batch, entry domain.HistoryEntry) error
	// VoidEntry marks the entry voided and applies the batch counters in one
	// transaction.
	VoidEntry(ctx context.Context, b domain.Batch, entry domain.HistoryEntry) error
	GetEntry(ctx context.Context, entryID int64) (domain.HistoryEntry, error)
}
