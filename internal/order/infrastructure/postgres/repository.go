package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	inventorypg "github.com/Sangram4321/kasturi-masale-sub000/internal/inventory/infrastructure/postgres"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/order/application"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/order/domain"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
	walletdom "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/domain"
	walletpg "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/infrastructure/postgres"
)

type Repository struct {
	log   *slog.Logger
	pool  *pgxpool.Pool
	rates domain.FinancialRates
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool, rates domain.FinancialRates) *Repository {
	return &Repository{log: log, pool: pool, rates: rates}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *Repository) Create(ctx context.Context, o *domain.Order, debit *walletdom.Transaction, eventPayload []byte, traceparent string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if debit != nil {
		// The row lock plus the in-transaction balance re-check closes the
		// race between two concurrent checkouts spending the same coins.
		var uid string
		err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id=$1 FOR UPDATE`, o.UserID).Scan(&uid)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperror.NotFound("user_not_found")
		}
		if err != nil {
			return err
		}
		bal, err := walletpg.BalanceTx(ctx, tx, o.UserID)
		if err != nil {
			return err
		}
		if bal.Active < debit.Amount {
			return apperror.Validation("insufficient_coin_balance")
		}
	}

	var refCode, refUserID, rewardStatus *string
	if o.Referral != nil {
		refCode = &o.Referral.Code
		refUserID = &o.Referral.ReferrerID
		s := string(o.Referral.RewardStatus)
		rewardStatus = &s
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, customer_name, phone, payment_method, payment_status, refund_status, status,
			subtotal, cod_fee, discount, coins_redeemed, coin_discount, total,
			referral_code, referrer_id, reward_status, coins_credited, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,false,$18,$19,$20)
	`, o.ID, o.UserID, o.CustomerName, o.Phone, o.PaymentMethod, o.PaymentStatus, o.RefundStatus, o.Status,
		o.Pricing.Subtotal, o.Pricing.CODFee, o.Pricing.Discount, o.Pricing.CoinsRedeemed, o.Pricing.CoinDiscount, o.Pricing.Total,
		refCode, refUserID, rewardStatus, o.Version, o.CreatedAt, o.UpdatedAt)
	if isUniqueViolation(err) {
		return apperror.Conflict("order_id_taken")
	}
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(`
			INSERT INTO order_items (order_id, variant_name, quantity, unit_price)
			VALUES ($1,$2,$3,$4)
		`, o.ID, it.VariantName, it.Quantity, it.UnitPrice)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	if debit != nil {
		if err := walletpg.InsertTx(ctx, tx, *debit); err != nil {
			return err
		}
	}

	if err := insertOutbox(ctx, tx, o.ID, "OrderCreated", eventPayload, traceparent); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertOutbox(ctx context.Context, tx pgx.Tx, orderID, eventType string, payload []byte, traceparent string) error {
	if eventType == "" {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		VALUES ('order', $1, $2, $3, $4, 'pending')
	`, orderID, eventType, payload, traceparent)
	return err
}

const orderColumns = `id, user_id, customer_name, phone, payment_method, payment_status, refund_status, status,
	subtotal, cod_fee, discount, coins_redeemed, coin_discount, total,
	COALESCE(awb,''), COALESCE(courier,''), shipment_retry_count,
	referral_code, referrer_id, reward_status, coins_credited, financials,
	version, created_at, updated_at, shipped_at, delivered_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var refCode, refUserID, rewardStatus *string
	var financials []byte
	err := row.Scan(&o.ID, &o.UserID, &o.CustomerName, &o.Phone, &o.PaymentMethod, &o.PaymentStatus, &o.RefundStatus, &o.Status,
		&o.Pricing.Subtotal, &o.Pricing.CODFee, &o.Pricing.Discount, &o.Pricing.CoinsRedeemed, &o.Pricing.CoinDiscount, &o.Pricing.Total,
		&o.Shipping.AWB, &o.Shipping.Courier, &o.Shipping.RetryCount,
		&refCode, &refUserID, &rewardStatus, &o.CoinsCredited, &financials,
		&o.Version, &o.CreatedAt, &o.UpdatedAt, &o.ShippedAt, &o.DeliveredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, apperror.NotFound("order_not_found")
	}
	if err != nil {
		return domain.Order{}, err
	}
	if refCode != nil {
		o.Referral = &domain.Referral{Code: *refCode}
		if refUserID != nil {
			o.Referral.ReferrerID = *refUserID
		}
		if rewardStatus != nil {
			o.Referral.RewardStatus = domain.RewardStatus(*rewardStatus)
		}
	}
	if len(financials) > 0 {
		var snap domain.FinancialSnapshot
		if err := json.Unmarshal(financials, &snap); err != nil {
			return domain.Order{}, err
		}
		o.Financials = &snap
	}
	return o, nil
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return domain.Order{}, err
	}
	return r.hydrate(ctx, o)
}

func (r *Repository) GetByAWB(ctx context.Context, awb string) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE awb=$1`, awb))
	if err != nil {
		return domain.Order{}, err
	}
	return r.hydrate(ctx, o)
}

func (r *Repository) hydrate(ctx context.Context, o domain.Order) (domain.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, variant_name, quantity, unit_price, batch_code, cost_at_order
		FROM order_items WHERE order_id=$1 ORDER BY id
	`, o.ID)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.LineItem
		if err := rows.Scan(&it.ID, &it.VariantName, &it.Quantity, &it.UnitPrice, &it.BatchCode, &it.CostAtTimeOfOrder); err != nil {
			return domain.Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return domain.Order{}, err
	}

	logRows, err := r.pool.Query(ctx, `
		SELECT id, proposed, source, raw_code, raw_description, applied, detail, created_at
		FROM shipping_logs WHERE order_id=$1 ORDER BY id
	`, o.ID)
	if err != nil {
		return domain.Order{}, err
	}
	defer logRows.Close()
	for logRows.Next() {
		var l domain.ShippingLog
		if err := logRows.Scan(&l.ID, &l.Proposed, &l.Source, &l.RawCode, &l.RawDescription, &l.Applied, &l.Detail, &l.CreatedAt); err != nil {
			return domain.Order{}, err
		}
		o.Shipping.Logs = append(o.Shipping.Logs, l)
	}
	return o, logRows.Err()
}

func (r *Repository) List(ctx context.Context, f application.ListFilter) ([]domain.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		q += ` AND status = $` + strconv.Itoa(len(args))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		q += ` AND user_id = $` + strconv.Itoa(len(args))
	}
	args = append(args, f.Limit, f.Offset)
	q += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repository) ApplyTransition(ctx context.Context, o domain.Order, rec domain.ShippingLog, eff application.TransitionEffects, traceparent string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := time.Now().UTC()
	newStatus := o.Status
	if rec.Applied {
		newStatus = rec.Proposed
	}

	set := `status=$2, version=version+1, updated_at=$3`
	args := []any{o.ID, newStatus, now}
	add := func(expr string, v any) {
		args = append(args, v)
		set += `, ` + expr + `$` + strconv.Itoa(len(args))
	}
	if eff.SetAWB != "" {
		add(`awb=`, eff.SetAWB)
		add(`courier=`, eff.SetCourier)
	}
	if eff.StampShipped {
		add(`shipped_at=`, now)
	}
	if eff.StampDelivered {
		add(`delivered_at=`, now)
	}
	if eff.SetCoinsCredited {
		set += `, coins_credited=true`
	}
	if eff.SetRefundStatus != "" {
		add(`refund_status=`, eff.SetRefundStatus)
	}
	args = append(args, o.Version)
	ct, err := tx.Exec(ctx, `UPDATE orders SET `+set+` WHERE id=$1 AND version=$`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperror.Conflict("order_version_conflict")
	}

	if err := insertShippingLog(ctx, tx, o.ID, rec); err != nil {
		return err
	}

	if eff.AssignBatches {
		if err := r.assignBatches(ctx, tx, &o); err != nil {
			return err
		}
	}

	if eff.ReverseBatches {
		n, err := inventorypg.ReverseOrderDeductTx(ctx, tx, o.ID, "order "+string(newStatus))
		if err != nil {
			return err
		}
		if n > 0 {
			r.log.Info("batch allocation reversed", "order_id", o.ID, "entries", n)
		}
	}

	if eff.ComputeFinancials {
		// Allocation above filled in the cost basis the snapshot depends on.
		snap := domain.ComputeFinancials(o, r.rates, now)
		buf, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE orders SET financials=$2 WHERE id=$1`, o.ID, buf); err != nil {
			return err
		}
	}

	if eff.WalletCredit != nil {
		if err := walletpg.InsertTx(ctx, tx, *eff.WalletCredit); err != nil {
			return err
		}
	}

	if err := insertOutbox(ctx, tx, o.ID, eff.EventType, eff.EventPayload, traceparent); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// assignBatches runs the FIFO allocator for every line item that has no
// batch yet and writes the resolved cost basis back to the item rows. An
// unmatched or short item is logged and left without a batch; fulfillment
// is never blocked on inventory bookkeeping.
func (r *Repository) assignBatches(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	for i := range o.Items {
		it := &o.Items[i]
		if it.BatchCode != nil {
			continue
		}
		assigned, full, err := inventorypg.AssignTx(ctx, tx, o.ID, it.VariantName, it.Quantity)
		if err != nil {
			return err
		}
		if assigned.BatchCode == "" {
			r.log.Warn("no batch matched line item", "order_id", o.ID, "variant", it.VariantName)
			continue
		}
		if !full {
			r.log.Warn("batch allocation short", "order_id", o.ID, "variant", it.VariantName)
		}
		code, cost := assigned.BatchCode, assigned.Cost
		it.BatchCode = &code
		it.CostAtTimeOfOrder = &cost
		// Keyed by item id: an order can carry the same variant on more than
		// one line, each with its own cost basis.
		_, err = tx.Exec(ctx, `
			UPDATE order_items SET batch_code=$2, cost_at_order=$3
			WHERE id=$1
		`, it.ID, code, cost)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertShippingLog(ctx context.Context, tx pgx.Tx, orderID string, rec domain.ShippingLog) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO shipping_logs (order_id, proposed, source, raw_code, raw_description, applied, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, orderID, rec.Proposed, rec.Source, rec.RawCode, rec.RawDescription, rec.Applied, rec.Detail, rec.CreatedAt)
	return err
}

func (r *Repository) AppendShippingLog(ctx context.Context, orderID string, rec domain.ShippingLog) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := insertShippingLog(ctx, tx, orderID, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) SetRefundStatus(ctx context.Context, orderID string, st domain.RefundStatus) error {
	_, err := r.pool.Exec(ctx, `UPDATE orders SET refund_status=$2, updated_at=now() WHERE id=$1`, orderID, st)
	return err
}

func (r *Repository) BumpShipmentRetry(ctx context.Context, orderID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE orders SET shipment_retry_count = shipment_retry_count + 1 WHERE id=$1`, orderID)
	return err
}

// PurgeCorrupted removes rows that violate core invariants. Referential
// children go first.
func (r *Repository) PurgeCorrupted(ctx context.Context) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const predicate = `id IS NULL OR id = '' OR user_id = '' OR total IS NULL OR total < 0`
	for _, q := range []string{
		`DELETE FROM shipping_logs WHERE order_id IN (SELECT id FROM orders WHERE ` + predicate + `)`,
		`DELETE FROM order_items WHERE order_id IN (SELECT id FROM orders WHERE ` + predicate + `)`,
	} {
		if _, err := tx.Exec(ctx, q); err != nil {
			return 0, err
		}
	}
	ct, err := tx.Exec(ctx, `DELETE FROM orders WHERE `+predicate)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
