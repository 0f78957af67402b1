package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/courier/application"
)

// LogStore persists one row per inbound courier event, whatever its outcome.
type LogStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewLogStore(log *slog.Logger, pool *pgxpool.Pool) *LogStore {
	return &LogStore{log: log, pool: pool}
}

func (s *LogStore) Append(ctx context.Context, e application.LogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_logs (awb, raw_code, raw_description, outcome, error, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, e.AWB, e.RawCode, e.RawDescription, e.Outcome, e.Error, e.CreatedAt)
	return err
}

func (s *LogStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, `DELETE FROM webhook_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
