package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/referral/application"
	walletdom "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/domain"
	walletpg "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/infrastructure/postgres"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) ReferrerByCode(ctx context.Context, code string) (application.Referrer, error) {
	var ref application.Referrer
	err := r.pool.QueryRow(ctx, `SELECT id, referral_code FROM users WHERE referral_code=$1`, code).
		Scan(&ref.UserID, &ref.Code)
	if errors.Is(err, pgx.ErrNoRows) {
		return application.Referrer{}, apperror.NotFound("referral_code_invalid")
	}
	return ref, err
}

func (r *Repository) OrderCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE user_id=$1`, userID).Scan(&n)
	return n, err
}

func (r *Repository) ReferrerOrderedWithPhone(ctx context.Context, referrerID, phone string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM orders WHERE user_id=$1 AND phone=$2)
	`, referrerID, phone).Scan(&exists)
	return exists, err
}

func (r *Repository) DueForMaturation(ctx context.Context, cutoff time.Time, limit int) ([]application.MaturationCandidate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, referrer_id, delivered_at
		FROM orders
		WHERE reward_status = 'PENDING_MATURATION'
		  AND status = 'DELIVERED'
		  AND delivered_at IS NOT NULL
		  AND delivered_at <= $1
		ORDER BY delivered_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []application.MaturationCandidate
	for rows.Next() {
		var c application.MaturationCandidate
		if err := rows.Scan(&c.OrderID, &c.ReferrerID, &c.DeliveredAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreditAndMark credits the referrer and flips the reward in one transaction.
// The guarded UPDATE makes the sweep re-runnable: a row already CREDITED
// reads zero rows and skips the credit.
func (r *Repository) CreditAndMark(ctx context.Context, orderID string, credit walletdom.Transaction, eventPayload []byte) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET reward_status='CREDITED', updated_at=now()
		WHERE id=$1 AND reward_status='PENDING_MATURATION'
	`, orderID)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	if err := walletpg.InsertTx(ctx, tx, credit); err != nil {
		return false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		VALUES ('order', $1, 'ReferralRewardCredited', $2, '', 'pending')
	`, orderID, eventPayload)
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *Repository) VoidDead(ctx context.Context) (int64, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE orders SET reward_status='VOID', updated_at=now()
		WHERE reward_status='PENDING_MATURATION'
		  AND status IN ('CANCELLED','RTO_INITIATED','RTO_DELIVERED')
	`)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
