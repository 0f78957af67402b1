package application

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/inventory/domain"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
)

// Service covers the admin-facing batch operations. Order-time FIFO
// allocation lives inside the order transaction, not here.
type Service struct {
	log  *slog.Logger
	repo BatchRepository
}

func NewService(log *slog.Logger, repo BatchRepository) *Service {
	return &Service{log: log, repo: repo}
}

type CreateBatchInput struct {
	Code        string
	VariantName string
	MfgDate     time.Time
	CostPerUnit decimal.Decimal
	InitialQty  int
}

func (s *Service) CreateBatch(ctx context.Context, in CreateBatchInput) (domain.Batch, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.VariantName = strings.TrimSpace(in.VariantName)
	switch {
	case in.Code == "":
		return domain.Batch{}, apperror.Validation("batch_code_empty")
	case in.VariantName == "":
		return domain.Batch{}, apperror.Validation("variant_name_empty")
	case in.InitialQty <= 0:
		return domain.Batch{}, apperror.Validation("initial_quantity_not_positive")
	case in.CostPerUnit.IsNegative():
		return domain.Batch{}, apperror.Validation("cost_negative")
	}

	now := time.Now().UTC()
	b := domain.Batch{
		Code:         in.Code,
		VariantName:  in.VariantName,
		MfgDate:      in.MfgDate,
		CostPerUnit:  in.CostPerUnit,
		InitialQty:   in.InitialQty,
		RemainingQty: in.InitialQty,
		IsActive:     true,
		Version:      1,
		CreatedAt:    now,
	}
	created := domain.HistoryEntry{
		Type:      domain.HistoryCreated,
		Quantity:  in.InitialQty,
		Note:      "batch created",
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, &b, created); err != nil {
		return domain.Batch{}, err
	}
	s.log.Info("batch created", "code", b.Code, "variant", b.VariantName, "qty", b.InitialQty)
	return b, nil
}

func (s *Service) GetBatch(ctx context.Context, id int64) (domain.Batch, []domain.HistoryEntry, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Batch{}, nil, err
	}
	entries, err := s.repo.History(ctx, id)
	if err != nil {
		return domain.Batch{}, nil, err
	}
	return b, entries, nil
}

func (s *Service) ListBatches(ctx context.Context, f BatchFilter) ([]domain.Batch, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return s.repo.List(ctx, f)
}

// ManualAdjust records an out-of-band stock correction, positive or negative.
func (s *Service) ManualAdjust(ctx context.Context, batchID int64, qty int, note string) (domain.Batch, error) {
	if qty == 0 {
		return domain.Batch{}, apperror.Validation("quantity_zero")
	}
	b, err := s.repo.Get(ctx, batchID)
	if err != nil {
		return domain.Batch{}, err
	}

	now := time.Now().UTC()
	var entry domain.HistoryEntry
	if qty > 0 {
		entry, err = b.Add(qty, note, now)
	} else {
		entry, err = b.Deduct(domain.HistoryManualDeduct, -qty, nil, note, now)
	}
	if err != nil {
		return domain.Batch{}, err
	}
	if err := s.repo.Apply(ctx, b, entry); err != nil {
		return domain.Batch{}, err
	}
	s.log.Info("batch adjusted", "batch_id", batchID, "qty", qty)
	return b, nil
}

// VoidHistoryEntry reverses one history entry's quantity impact. Voiding is
// once-only; a second attempt is a conflict.
func (s *Service) VoidHistoryEntry(ctx context.Context, entryID int64, reason string) (domain.Batch, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Batch{}, apperror.Validation("void_reason_empty")
	}
	entry, err := s.repo.GetEntry(ctx, entryID)
	if err != nil {
		return domain.Batch{}, err
	}
	b, err := s.repo.Get(ctx, entry.BatchID)
	if err != nil {
		return domain.Batch{}, err
	}
	if err := b.Void(&entry, reason, time.Now().UTC()); err != nil {
		return domain.Batch{}, err
	}
	if err := s.repo.VoidEntry(ctx, b, entry); err != nil {
		return domain.Batch{}, err
	}
	s.log.Info("history entry voided", "entry_id", entryID, "batch_id", b.ID, "reason", reason)
	return b, nil
}
