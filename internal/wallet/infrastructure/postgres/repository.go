package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/application"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Balance(ctx context.Context, userID string) (domain.Balance, error) {
	return BalanceTx(ctx, r.pool, userID)
}

// BalanceTx aggregates the ledger grouped by status. It runs against any pgx
// querier so order creation can call it inside its own transaction.
func BalanceTx(ctx context.Context, q querier, userID string) (domain.Balance, error) {
	rows, err := q.Query(ctx, `
		SELECT status,
		       COALESCE(SUM(CASE WHEN type='CREDIT' THEN amount ELSE -amount END), 0)
		FROM wallet_transactions
		WHERE user_id = $1 AND status IN ('COMPLETED','PENDING')
		GROUP BY status
	`, userID)
	if err != nil {
		return domain.Balance{}, err
	}
	defer rows.Close()

	var b domain.Balance
	for rows.Next() {
		var status domain.TxnStatus
		var sum int64
		if err := rows.Scan(&status, &sum); err != nil {
			return domain.Balance{}, err
		}
		switch status {
		case domain.StatusCompleted:
			b.Active = sum
		case domain.StatusPending:
			b.Pending = sum
		}
	}
	return b, rows.Err()
}

// querier is the subset of pgx shared by pool and tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repository) History(ctx context.Context, f application.HistoryFilter) ([]domain.Transaction, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, order_id, type, amount, status, note, reason, actor_id, expires_at, created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, f.UserID, f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func scanTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var reason *string
		if err := rows.Scan(&t.ID, &t.UserID, &t.OrderID, &t.Type, &t.Amount, &t.Status,
			&t.Note, &reason, &t.ActorID, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		if reason != nil {
			t.Reason = domain.AdjustReason(*reason)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) Adjust(ctx context.Context, t domain.Transaction, audit domain.AuditEntry) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Serialize against concurrent ledger writes for this user.
	var uid string
	err = tx.QueryRow(ctx, `SELECT id FROM users WHERE id=$1 FOR UPDATE`, t.UserID).Scan(&uid)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NotFound("user_not_found")
	}
	if err != nil {
		return err
	}

	if t.Type == domain.TypeDebit {
		bal, err := BalanceTx(ctx, tx, t.UserID)
		if err != nil {
			return err
		}
		if bal.Active < t.Amount {
			return apperror.Validation("insufficient_coin_balance")
		}
	}

	if err := InsertTx(ctx, tx, t); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO wallet_audit_log (user_id, actor_id, action, detail, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, audit.UserID, audit.ActorID, audit.Action, audit.Detail, audit.CreatedAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// InsertTx writes one ledger entry using the caller's transaction. Order
// creation, delivery rewards, and refund returns all go through it so the
// ledger write commits or rolls back with the order change.
func InsertTx(ctx context.Context, tx pgx.Tx, t domain.Transaction) error {
	var reason *string
	if t.Reason != "" {
		s := string(t.Reason)
		reason = &s
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_transactions (user_id, order_id, type, amount, status, note, reason, actor_id, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, t.UserID, t.OrderID, t.Type, t.Amount, t.Status, t.Note, reason, t.ActorID, t.ExpiresAt, t.CreatedAt)
	return err
}

func (r *Repository) ResolvePending(ctx context.Context, txnID int64, to domain.TxnStatus) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE wallet_transactions SET status=$2 WHERE id=$1 AND status='PENDING'
	`, txnID, to)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperror.Conflict("transaction_not_pending")
	}
	return nil
}

func (r *Repository) SearchPending(ctx context.Context, limit int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, order_id, type, amount, status, note, reason, actor_id, expires_at, created_at
		FROM wallet_transactions
		WHERE status = 'PENDING'
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// ExpireCoins sweeps COMPLETED credits past their expiry. Ledger entries are
// never rewritten: each user gets one compensating DEBIT, capped at the
// current active balance since already-spent coins need no clawback. The
// swept credits are stamped expired_at so the next run skips them. Run from
// the sweep binary.
func (r *Repository) ExpireCoins(ctx context.Context) (int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT user_id FROM wallet_transactions
		WHERE status='COMPLETED' AND type='CREDIT'
		  AND expires_at < now() AND expired_at IS NULL
	`)
	if err != nil {
		return 0, err
	}
	var users []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			rows.Close()
			return 0, err
		}
		users = append(users, uid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var total int64
	for _, uid := range users {
		n, err := r.expireUser(ctx, uid)
		if err != nil {
			r.log.Error("coin expiry failed", "user_id", uid, "err", err)
			continue
		}
		total += n
	}
	return total, nil
}

func (r *Repository) expireUser(ctx context.Context, userID string) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var uid string
	if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id=$1 FOR UPDATE`, userID).Scan(&uid); err != nil {
		return 0, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, amount FROM wallet_transactions
		WHERE user_id=$1 AND status='COMPLETED' AND type='CREDIT'
		  AND expires_at < now() AND expired_at IS NULL
		FOR UPDATE
	`, userID)
	if err != nil {
		return 0, err
	}
	var ids []int64
	var expiring int64
	for rows.Next() {
		var id, amount int64
		if err := rows.Scan(&id, &amount); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
		expiring += amount
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, tx.Commit(ctx)
	}

	bal, err := BalanceTx(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	clawback := expiring
	if clawback > bal.Active {
		clawback = bal.Active
	}
	if clawback > 0 {
		err := InsertTx(ctx, tx, domain.Transaction{
			UserID:    userID,
			Type:      domain.TypeDebit,
			Amount:    clawback,
			Status:    domain.StatusCompleted,
			Note:      "coins expired",
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return 0, err
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE wallet_transactions SET expired_at=now() WHERE id = ANY($1)
	`, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}
