package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/domain"
)

type Service struct {
	log  *slog.Logger
	repo WalletRepository
}

func NewService(log *slog.Logger, repo WalletRepository) *Service {
	return &Service{log: log, repo: repo}
}

type WalletView struct {
	Balance domain.Balance
	Tier    domain.Tier
	History []domain.Transaction
}

func (s *Service) GetWallet(ctx context.Context, userID string, limit, offset int) (WalletView, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	bal, err := s.repo.Balance(ctx, userID)
	if err != nil {
		return WalletView{}, err
	}
	hist, err := s.repo.History(ctx, HistoryFilter{UserID: userID, Limit: limit, Offset: offset})
	if err != nil {
		return WalletView{}, err
	}
	return WalletView{Balance: bal, Tier: bal.Tier(), History: hist}, nil
}

func (s *Service) Balance(ctx context.Context, userID string) (domain.Balance, error) {
	return s.repo.Balance(ctx, userID)
}

type AdjustInput struct {
	UserID  string
	Type    domain.TxnType
	Amount  int64
	Reason  domain.AdjustReason
	Note    string
	ActorID string
}

// AdminAdjust is the manual mutation path. The reason enum is mandatory and
// the ledger write commits atomically with its audit record.
func (s *Service) AdminAdjust(ctx context.Context, in AdjustInput) error {
	if in.UserID == "" || in.ActorID == "" {
		return apperror.Validation("missing_user_or_actor")
	}
	if in.Amount <= 0 {
		return apperror.Validation("amount_not_positive")
	}
	if in.Type != domain.TypeCredit && in.Type != domain.TypeDebit {
		return apperror.Validation("unknown_txn_type")
	}
	if !in.Reason.Valid() {
		return apperror.Validation("unknown_adjust_reason")
	}

	now := time.Now().UTC()
	t := domain.Transaction{
		UserID:    in.UserID,
		Type:      in.Type,
		Amount:    in.Amount,
		Status:    domain.StatusCompleted,
		Reason:    in.Reason,
		Note:      in.Note,
		ActorID:   in.ActorID,
		CreatedAt: now,
	}
	audit := domain.AuditEntry{
		UserID:    in.UserID,
		ActorID:   in.ActorID,
		Action:    "wallet_adjust_" + string(in.Type),
		Detail:    string(in.Reason) + ": " + in.Note,
		CreatedAt: now,
	}
	if err := s.repo.Adjust(ctx, t, audit); err != nil {
		return err
	}
	s.log.Info("wallet adjusted", "user_id", in.UserID, "type", in.Type, "amount", in.Amount, "reason", in.Reason, "actor", in.ActorID)
	return nil
}

func (s *Service) ResolvePending(ctx context.Context, txnID int64, approve bool, actorID string) error {
	to := domain.StatusVoid
	if approve {
		to = domain.StatusCompleted
	}
	if err := s.repo.ResolvePending(ctx, txnID, to); err != nil {
		return err
	}
	s.log.Info("pending wallet entry resolved", "txn_id", txnID, "to", to, "actor", actorID)
	return nil
}

func (s *Service) SearchPending(ctx context.Context, limit int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.SearchPending(ctx, limit)
}
