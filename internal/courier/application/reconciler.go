package application

import (
	"context"
	"log/slog"
	"time"

	courierdom "github.com/Sangram4321/kasturi-masale-sub000/internal/courier/domain"
	orderapp "github.com/Sangram4321/kasturi-masale-sub000/internal/order/application"
	orderdom "github.com/Sangram4321/kasturi-masale-sub000/internal/order/domain"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
)

type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeIgnored   Outcome = "IGNORED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeDuplicate Outcome = "DUPLICATE"
)

// LogEntry is the durable audit record: one row per inbound event, whatever
// happened to it.
type LogEntry struct {
	AWB            string
	RawCode        string
	RawDescription string
	Outcome        Outcome
	Error          string
	CreatedAt      time.Time
}

type LogStore interface {
	Append(ctx context.Context, e LogEntry) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type OrderTransitioner interface {
	UpdateStatusByAWB(ctx context.Context, awb string, proposed orderdom.OrderStatus, rawCode, rawDesc string) (orderapp.TransitionResult, error)
}

type Deduper interface {
	Key(source string, parts ...string) string
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type Event struct {
	AWB               string
	StatusCode        string
	StatusDescription string
}

type Result struct {
	Outcome   Outcome
	Updated   bool
	NewStatus orderdom.OrderStatus
}

// Reconciler turns unordered, redelivered courier events into at-most-once
// state machine inputs. Authoritative idempotency is the monotonic ordinal
// rule; Redis only short-circuits byte-identical redeliveries.
type Reconciler struct {
	log    *slog.Logger
	orders OrderTransitioner
	logs   LogStore
	dedup  Deduper
}

func NewReconciler(log *slog.Logger, orders OrderTransitioner, logs LogStore, dedup Deduper) *Reconciler {
	return &Reconciler{log: log, orders: orders, logs: logs, dedup: dedup}
}

// Process handles one inbound event. A non-nil error means the caller must
// answer non-2xx so the courier redelivers; every other path acknowledges.
// Exactly one log row is written per invocation.
func (r *Reconciler) Process(ctx context.Context, ev Event) (Result, error) {
	rec := LogEntry{
		AWB:            ev.AWB,
		RawCode:        ev.StatusCode,
		RawDescription: ev.StatusDescription,
		CreatedAt:      time.Now().UTC(),
	}

	if ev.AWB == "" {
		rec.Outcome = OutcomeFailed
		rec.Error = "missing_awb"
		r.append(ctx, rec)
		return Result{Outcome: OutcomeFailed}, apperror.Validation("missing_awb")
	}

	key := r.dedup.Key("courier", ev.AWB, ev.StatusCode, ev.StatusDescription)
	seen, err := r.dedup.Seen(ctx, key)
	if err != nil {
		// Dedup is best effort; the monotonic rule below still protects us.
		r.log.Warn("webhook dedup unavailable", "awb", ev.AWB, "err", err)
	} else if seen {
		rec.Outcome = OutcomeDuplicate
		r.append(ctx, rec)
		r.log.Info("duplicate webhook skipped", "awb", ev.AWB, "code", ev.StatusCode)
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	mapped, ok := courierdom.MapStatus(ev.StatusCode, ev.StatusDescription)
	if !ok {
		// Recorded but unapplied: no event is silently dropped, and the
		// courier must not keep retrying an event we will never understand.
		rec.Outcome = OutcomeIgnored
		rec.Error = "unmapped_status_code"
		r.append(ctx, rec)
		r.log.Warn("unmapped courier status", "awb", ev.AWB, "code", ev.StatusCode, "description", ev.StatusDescription)
		return Result{Outcome: OutcomeIgnored}, nil
	}

	res, err := r.orders.UpdateStatusByAWB(ctx, ev.AWB, mapped, ev.StatusCode, ev.StatusDescription)
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Error = apperror.Reason(err)
		r.append(ctx, rec)
		// Release the dedup claim so the redelivery is processed, not
		// misclassified as a duplicate.
		if fErr := r.dedup.Forget(ctx, key); fErr != nil {
			r.log.Warn("dedup forget failed", "awb", ev.AWB, "err", fErr)
		}
		return Result{Outcome: OutcomeFailed}, err
	}

	if res.Applied {
		rec.Outcome = OutcomeSuccess
	} else {
		rec.Outcome = OutcomeIgnored
		rec.Error = res.Detail
	}
	r.append(ctx, rec)
	return Result{Outcome: rec.Outcome, Updated: res.Applied, NewStatus: res.To}, nil
}

func (r *Reconciler) append(ctx context.Context, rec LogEntry) {
	if err := r.logs.Append(ctx, rec); err != nil {
		r.log.Error("webhook log append failed", "awb", rec.AWB, "err", err)
	}
}
