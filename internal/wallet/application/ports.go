package application

import (
	"context"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/domain"
)

type HistoryFilter struct {
	UserID string
	Limit  int
	Offset int
}

type WalletRepository interface {
	// Balance aggregates the ledger grouped by entry status. There is no
	// stored counter to read.
	Balance(ctx context.Context, userID string) (domain.Balance, error)
	History(ctx context.Context, f HistoryFilter) ([]domain.Transaction, error)
	// Adjust writes the manual ledger entry and its audit record in a single
	// transaction, verifying a debit is covered by the active balance under a
	// user row lock.
	Adjust(ctx context.Context, t domain.Transaction, audit domain.AuditEntry) error
	// ResolvePending finalizes a PENDING entry to COMPLETED or VOID.
	ResolvePending(ctx context.Context, txnID int64, to domain.TxnStatus) error
	SearchPending(ctx context.Context, limit int) ([]domain.Transaction, error)
}
