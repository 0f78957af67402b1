package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	orderapp "github.com/Sangram4321/kasturi-masale-sub000/internal/order/application"
	orderdom "github.com/Sangram4321/kasturi-masale-sub000/internal/order/domain"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
)

type fakeTransitioner struct {
	result orderapp.TransitionResult
	err    error
	calls  int
}

func (f *fakeTransitioner) UpdateStatusByAWB(_ context.Context, awb string, proposed orderdom.OrderStatus, rawCode, rawDesc string) (orderapp.TransitionResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeLogStore struct {
	entries []LogEntry
}

func (f *fakeLogStore) Append(_ context.Context, e LogEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeLogStore) PruneOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeDeduper struct {
	seen    map[string]bool
	forgets []string
}

func newFakeDeduper() *fakeDeduper { return &fakeDeduper{seen: map[string]bool{}} }

func (f *fakeDeduper) Key(source string, parts ...string) string {
	sum := sha256.Sum256([]byte(source + ":" + strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}

func (f *fakeDeduper) Seen(_ context.Context, key string) (bool, error) {
	if f.seen[key] {
		return true, nil
	}
	f.seen[key] = true
	return false, nil
}

func (f *fakeDeduper) Forget(_ context.Context, key string) error {
	delete(f.seen, key)
	f.forgets = append(f.forgets, key)
	return nil
}

func newReconciler(t *fakeTransitioner, l *fakeLogStore, d *fakeDeduper) *Reconciler {
	return NewReconciler(slog.New(slog.DiscardHandler), t, l, d)
}

func TestProcessAppliesMappedStatus(t *testing.T) {
	tr := &fakeTransitioner{result: orderapp.TransitionResult{Applied: true, From: orderdom.StatusPacked, To: orderdom.StatusShipped}}
	logs := &fakeLogStore{}
	rec := newReconciler(tr, logs, newFakeDeduper())

	res, err := rec.Process(context.Background(), Event{AWB: "AWB100", StatusCode: "2", StatusDescription: "Picked Up"})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.True(t, res.Updated)
	require.Equal(t, orderdom.StatusShipped, res.NewStatus)
	require.Len(t, logs.entries, 1)
	require.Equal(t, OutcomeSuccess, logs.entries[0].Outcome)
}

func TestProcessDuplicateShortCircuits(t *testing.T) {
	tr := &fakeTransitioner{result: orderapp.TransitionResult{Applied: true, To: orderdom.StatusShipped}}
	logs := &fakeLogStore{}
	rec := newReconciler(tr, logs, newFakeDeduper())

	ev := Event{AWB: "AWB100", StatusCode: "2", StatusDescription: "Picked Up"}
	_, err := rec.Process(context.Background(), ev)
	require.NoError(t, err)
	res, err := rec.Process(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, res.Outcome)
	require.False(t, res.Updated)
	require.Equal(t, 1, tr.calls)
	require.Len(t, logs.entries, 2)
	require.Equal(t, OutcomeDuplicate, logs.entries[1].Outcome)
}

func TestProcessUnmappedCodeIgnoredAndLogged(t *testing.T) {
	tr := &fakeTransitioner{}
	logs := &fakeLogStore{}
	rec := newReconciler(tr, logs, newFakeDeduper())

	res, err := rec.Process(context.Background(), Event{AWB: "AWB100", StatusCode: "99", StatusDescription: "Mystery"})
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, res.Outcome)
	require.Zero(t, tr.calls)
	require.Len(t, logs.entries, 1)
	require.Equal(t, "unmapped_status_code", logs.entries[0].Error)
}

func TestProcessMissingAWBFails(t *testing.T) {
	logs := &fakeLogStore{}
	rec := newReconciler(&fakeTransitioner{}, logs, newFakeDeduper())

	_, err := rec.Process(context.Background(), Event{StatusCode: "2"})
	require.Error(t, err)
	require.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	require.Len(t, logs.entries, 1)
	require.Equal(t, OutcomeFailed, logs.entries[0].Outcome)
}

func TestProcessTransitionErrorReleasesDedupClaim(t *testing.T) {
	tr := &fakeTransitioner{err: apperror.NotFound("order_not_found")}
	logs := &fakeLogStore{}
	dedup := newFakeDeduper()
	rec := newReconciler(tr, logs, dedup)

	ev := Event{AWB: "AWB404", StatusCode: "2", StatusDescription: "Picked Up"}
	_, err := rec.Process(context.Background(), ev)
	require.Error(t, err)
	require.Len(t, dedup.forgets, 1)
	require.Equal(t, OutcomeFailed, logs.entries[0].Outcome)

	// Redelivery after the failure is processed again, not treated as seen.
	tr.err = nil
	tr.result = orderapp.TransitionResult{Applied: true, To: orderdom.StatusShipped}
	res, err := rec.Process(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.Equal(t, 2, tr.calls)
}

func TestProcessBackwardEventIgnored(t *testing.T) {
	tr := &fakeTransitioner{result: orderapp.TransitionResult{Applied: false, From: orderdom.StatusDelivered, To: orderdom.StatusDelivered, Detail: "stale or out of order"}}
	logs := &fakeLogStore{}
	rec := newReconciler(tr, logs, newFakeDeduper())

	res, err := rec.Process(context.Background(), Event{AWB: "AWB100", StatusCode: "2", StatusDescription: "Picked Up"})
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, res.Outcome)
	require.False(t, res.Updated)
	require.Equal(t, "stale or out of order", logs.entries[0].Error)
}
