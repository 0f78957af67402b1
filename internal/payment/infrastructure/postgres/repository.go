package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	orderdom "github.com/Sangram4321/kasturi-masale-sub000/internal/order/domain"
	orderpg "github.com/Sangram4321/kasturi-masale-sub000/internal/order/infrastructure/postgres"
	walletdom "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/domain"
	walletpg "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/infrastructure/postgres"
)

type Repository struct {
	log    *slog.Logger
	pool   *pgxpool.Pool
	orders *orderpg.Repository
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool, orders *orderpg.Repository) *Repository {
	return &Repository{log: log, pool: pool, orders: orders}
}

func (r *Repository) Order(ctx context.Context, orderID string) (orderdom.Order, error) {
	return r.orders.Get(ctx, orderID)
}

// MarkPaid is predicated on the order still being unpaid, so a redelivered
// gateway webhook reads zero rows and returns false instead of crediting the
// reward twice.
func (r *Repository) MarkPaid(ctx context.Context, orderID, paymentRef string, credit *walletdom.Transaction, eventPayload []byte) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	coinsCredited := credit != nil
	ct, err := tx.Exec(ctx, `
		UPDATE orders
		SET payment_status='PAID', payment_ref=$2, coins_credited = coins_credited OR $3, updated_at=now()
		WHERE id=$1 AND payment_status='PENDING'
	`, orderID, paymentRef, coinsCredited)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	if credit != nil {
		if err := walletpg.InsertTx(ctx, tx, *credit); err != nil {
			return false, err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		VALUES ('order', $1, 'OrderPaid', $2, '', 'pending')
	`, orderID, eventPayload)
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}
