package postgres

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/inventory/application"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/inventory/domain"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

const batchColumns = `id, code, variant_name, mfg_date, cost_per_unit, initial_qty, remaining_qty, is_active, version, created_at`

func scanBatch(row pgx.Row) (domain.Batch, error) {
	var b domain.Batch
	err := row.Scan(&b.ID, &b.Code, &b.VariantName, &b.MfgDate, &b.CostPerUnit,
		&b.InitialQty, &b.RemainingQty, &b.IsActive, &b.Version, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Batch{}, apperror.NotFound("batch_not_found")
	}
	return b, err
}

func (r *Repository) Create(ctx context.Context, b *domain.Batch, created domain.HistoryEntry) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = tx.QueryRow(ctx, `
		INSERT INTO batches (code, variant_name, mfg_date, cost_per_unit, initial_qty, remaining_qty, is_active, version, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`, b.Code, b.VariantName, b.MfgDate, b.CostPerUnit, b.InitialQty, b.RemainingQty, b.IsActive, b.Version, b.CreatedAt).Scan(&b.ID)
	if err != nil {
		return err
	}

	created.BatchID = b.ID
	if err := insertHistory(ctx, tx, created); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertHistory(ctx context.Context, tx pgx.Tx, e domain.HistoryEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO batch_history (batch_id, type, quantity, order_id, note, is_voided, created_at)
		VALUES ($1,$2,$3,$4,$5,false,$6)
	`, e.BatchID, e.Type, e.Quantity, e.OrderID, e.Note, e.CreatedAt)
	return err
}

func (r *Repository) Get(ctx context.Context, id int64) (domain.Batch, error) {
	return scanBatch(r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1`, id))
}

func (r *Repository) List(ctx context.Context, f application.BatchFilter) ([]domain.Batch, error) {
	q := `SELECT ` + batchColumns + ` FROM batches WHERE 1=1`
	args := []any{}
	if f.VariantName != "" {
		args = append(args, f.VariantName)
		q += ` AND variant_name ILIKE '%' || $1 || '%'`
	}
	if f.ActiveOnly {
		q += ` AND is_active`
	}
	args = append(args, f.Limit, f.Offset)
	q += ` ORDER BY mfg_date, id LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) History(ctx context.Context, batchID int64) ([]domain.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, batch_id, type, quantity, order_id, note, is_voided, COALESCE(void_reason,''), created_at, voided_at
		FROM batch_history
		WHERE batch_id = $1
		ORDER BY id
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.ID, &e.BatchID, &e.Type, &e.Quantity, &e.OrderID,
			&e.Note, &e.IsVoided, &e.VoidReason, &e.CreatedAt, &e.VoidedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) Apply(ctx context.Context, b domain.Batch, entry domain.HistoryEntry) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := casBatch(ctx, tx, b); err != nil {
		return err
	}
	if err := insertHistory(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func casBatch(ctx context.Context, tx pgx.Tx, b domain.Batch) error {
	ct, err := tx.Exec(ctx, `
		UPDATE batches SET remaining_qty=$2, is_active=$3, version=version+1
		WHERE id=$1 AND version=$4
	`, b.ID, b.RemainingQty, b.IsActive, b.Version)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperror.Conflict("batch_version_conflict")
	}
	return nil
}

func (r *Repository) VoidEntry(ctx context.Context, b domain.Batch, entry domain.HistoryEntry) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `
		UPDATE batch_history SET is_voided=true, void_reason=$2, voided_at=$3
		WHERE id=$1 AND NOT is_voided
	`, entry.ID, entry.VoidReason, entry.VoidedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperror.Conflict("history_entry_already_voided")
	}
	if err := casBatch(ctx, tx, b); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetEntry(ctx context.Context, entryID int64) (domain.HistoryEntry, error) {
	var e domain.HistoryEntry
	err := r.pool.QueryRow(ctx, `
		SELECT id, batch_id, type, quantity, order_id, note, is_voided, COALESCE(void_reason,''), created_at, voided_at
		FROM batch_history WHERE id=$1
	`, entryID).Scan(&e.ID, &e.BatchID, &e.Type, &e.Quantity, &e.OrderID,
		&e.Note, &e.IsVoided, &e.VoidReason, &e.CreatedAt, &e.VoidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.HistoryEntry{}, apperror.NotFound("history_entry_not_found")
	}
	return e, err
}

// Assignment is a line item's resolved cost basis.
type Assignment struct {
	BatchCode string
	Cost      decimal.Decimal
}

// AssignTx allocates quantity for one line item from the oldest matching
// active batches, FIFO by manufacture date, inside the caller's transaction.
// Matching tries the exact variant name first, then a contains match. Rows
// are locked to serialize concurrent allocation; a shortfall consumes what
// exists and reports ok=false so the order still ships with a partial cost
// basis.
func AssignTx(ctx context.Context, tx pgx.Tx, orderID, variantName string, qty int) (Assignment, bool, error) {
	batches, err := lockCandidates(ctx, tx, variantName)
	if err != nil {
		return Assignment{}, false, err
	}

	var first *domain.Batch
	remaining := qty
	now := time.Now().UTC()
	for i := range batches {
		if remaining <= 0 {
			break
		}
		b := &batches[i]
		take := remaining
		if b.RemainingQty < take {
			take = b.RemainingQty
		}
		if take <= 0 {
			continue
		}
		entry, err := b.Deduct(domain.HistoryOrderDeduct, take, &orderID, "order allocation", now)
		if err != nil {
			return Assignment{}, false, err
		}
		if err := casBatch(ctx, tx, *b); err != nil {
			return Assignment{}, false, err
		}
		if err := insertHistory(ctx, tx, entry); err != nil {
			return Assignment{}, false, err
		}
		if first == nil {
			first = b
		}
		remaining -= take
	}

	if first == nil {
		return Assignment{}, false, nil
	}
	// The cost basis comes from the first (oldest) batch touched, matching
	// how margins are reported per line rather than per split.
	return Assignment{BatchCode: first.Code, Cost: first.CostPerUnit}, remaining == 0, nil
}

// ReverseOrderDeductTx soft-voids every non-voided ORDER_DEDUCT entry for
// the order and restores the deducted quantity to its batch, inside the
// caller's transaction. Cancelled and returned orders give their stock back
// through here; the entries stay on the history with the void reason.
func ReverseOrderDeductTx(ctx context.Context, tx pgx.Tx, orderID, reason string) (int, error) {
	rows, err := tx.Query(ctx, `
		SELECT h.id, h.batch_id, h.quantity
		FROM batch_history h
		JOIN batches b ON b.id = h.batch_id
		WHERE h.order_id = $1 AND h.type = $2 AND NOT h.is_voided
		ORDER BY h.id
		FOR UPDATE OF b
	`, orderID, domain.HistoryOrderDeduct)
	if err != nil {
		return 0, err
	}
	type deduct struct {
		id      int64
		batchID int64
		qty     int
	}
	var entries []deduct
	for rows.Next() {
		var d deduct
		if err := rows.Scan(&d.id, &d.batchID, &d.qty); err != nil {
			rows.Close()
			return 0, err
		}
		entries = append(entries, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	for _, d := range entries {
		_, err := tx.Exec(ctx, `
			UPDATE batch_history SET is_voided=true, void_reason=$2, voided_at=$3
			WHERE id=$1
		`, d.id, reason, now)
		if err != nil {
			return 0, err
		}
		_, err = tx.Exec(ctx, `
			UPDATE batches
			SET remaining_qty = remaining_qty + $2,
			    is_active = remaining_qty + $2 > 0,
			    version = version + 1
			WHERE id=$1
		`, d.batchID, d.qty)
		if err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

func lockCandidates(ctx context.Context, tx pgx.Tx, variantName string) ([]domain.Batch, error) {
	collect := func(rows pgx.Rows, err error) ([]domain.Batch, error) {
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []domain.Batch
		for rows.Next() {
			b, err := scanBatch(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		return out, rows.Err()
	}

	exact, err := collect(tx.Query(ctx, `
		SELECT `+batchColumns+` FROM batches
		WHERE is_active AND variant_name = $1
		ORDER BY mfg_date, id
		FOR UPDATE
	`, variantName))
	if err != nil || len(exact) > 0 {
		return exact, err
	}
	return collect(tx.Query(ctx, `
		SELECT `+batchColumns+` FROM batches
		WHERE is_active AND variant_name ILIKE '%' || $1 || '%'
		ORDER BY mfg_date, id
		FOR UPDATE
	`, variantName))
}
