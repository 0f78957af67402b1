package application

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/inventory/domain"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
)

type fakeBatchRepo struct {
	batches map[int64]domain.Batch
	entries map[int64]domain.HistoryEntry
	nextID  int64
}

func newFakeBatchRepo() *fakeBatchRepo {
	return &fakeBatchRepo{batches: map[int64]domain.Batch{}, entries: map[int64]domain.HistoryEntry{}, nextID: 1}
}

func (f *fakeBatchRepo) Create(_ context.Context, b *domain.Batch, created domain.HistoryEntry) error {
	b.ID = f.nextID
	f.nextID++
	f.batches[b.ID] = *b
	created.BatchID = b.ID
	f.addEntry(created)
	return nil
}

func (f *fakeBatchRepo) addEntry(e domain.HistoryEntry) {
	e.ID = f.nextID
	f.nextID++
	f.entries[e.ID] = e
}

func (f *fakeBatchRepo) Get(_ context.Context, id int64) (domain.Batch, error) {
	b, ok := f.batches[id]
	if !ok {
		return domain.Batch{}, apperror.NotFound("batch_not_found")
	}
	return b, nil
}

func (f *fakeBatchRepo) List(_ context.Context, _ BatchFilter) ([]domain.Batch, error) {
	var out []domain.Batch
	for _, b := range f.batches {
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeBatchRepo) History(_ context.Context, batchID int64) ([]domain.HistoryEntry, error) {
	var out []domain.HistoryEntry
	for _, e := range f.entries {
		if e.BatchID == batchID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeBatchRepo) Apply(_ context.Context, b domain.Batch, entry domain.HistoryEntry) error {
	f.batches[b.ID] = b
	f.addEntry(entry)
	return nil
}

func (f *fakeBatchRepo) VoidEntry(_ context.Context, b domain.Batch, entry domain.HistoryEntry) error {
	f.batches[b.ID] = b
	f.entries[entry.ID] = entry
	return nil
}

func (f *fakeBatchRepo) GetEntry(_ context.Context, entryID int64) (domain.HistoryEntry, error) {
	e, ok := f.entries[entryID]
	if !ok {
		return domain.HistoryEntry{}, apperror.NotFound("history_entry_not_found")
	}
	return e, nil
}

func newInventoryService(repo *fakeBatchRepo) *Service {
	return NewService(slog.New(slog.DiscardHandler), repo)
}

func TestCreateBatchSeedsHistory(t *testing.T) {
	repo := newFakeBatchRepo()
	svc := newInventoryService(repo)

	b, err := svc.CreateBatch(context.Background(), CreateBatchInput{
		Code:        "B-2026-01",
		VariantName: "Goda Masala 100g",
		MfgDate:     time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		CostPerUnit: decimal.RequireFromString("42.50"),
		InitialQty:  200,
	})
	require.NoError(t, err)
	require.True(t, b.IsActive)
	require.Equal(t, 200, b.RemainingQty)

	entries, err := repo.History(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, domain.HistoryCreated, entries[0].Type)
}

func TestCreateBatchRejectsBadInput(t *testing.T) {
	svc := newInventoryService(newFakeBatchRepo())

	_, err := svc.CreateBatch(context.Background(), CreateBatchInput{VariantName: "x", InitialQty: 1})
	require.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	_, err = svc.CreateBatch(context.Background(), CreateBatchInput{Code: "B1", VariantName: "x", InitialQty: 0})
	require.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestManualAdjustNegativeDeducts(t *testing.T) {
	repo := newFakeBatchRepo()
	svc := newInventoryService(repo)
	b, err := svc.CreateBatch(context.Background(), CreateBatchInput{
		Code: "B1", VariantName: "Kanda Lasun 200g", InitialQty: 10, CostPerUnit: decimal.NewFromInt(30),
	})
	require.NoError(t, err)

	b2, err := svc.ManualAdjust(context.Background(), b.ID, -10, "damaged in storage")
	require.NoError(t, err)
	require.Equal(t, 0, b2.RemainingQty)
	require.False(t, b2.IsActive)
}

func TestVoidRestoresQuantityOnce(t *testing.T) {
	repo := newFakeBatchRepo()
	svc := newInventoryService(repo)
	b, err := svc.CreateBatch(context.Background(), CreateBatchInput{
		Code: "B1", VariantName: "Goda Masala 100g", InitialQty: 10, CostPerUnit: decimal.NewFromInt(30),
	})
	require.NoError(t, err)
	_, err = svc.ManualAdjust(context.Background(), b.ID, -4, "spillage")
	require.NoError(t, err)

	var deductID int64
	for id, e := range repo.entries {
		if e.Type == domain.HistoryManualDeduct {
			deductID = id
		}
	}

	b2, err := svc.VoidHistoryEntry(context.Background(), deductID, "miscounted")
	require.NoError(t, err)
	require.Equal(t, 10, b2.RemainingQty)

	_, err = svc.VoidHistoryEntry(context.Background(), deductID, "again")
	require.Equal(t, apperror.KindConflict, apperror.KindOf(err))
}

func TestVoidRequiresReason(t *testing.T) {
	svc := newInventoryService(newFakeBatchRepo())
	_, err := svc.VoidHistoryEntry(context.Background(), 1, "  ")
	require.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}
