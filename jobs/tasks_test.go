package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/sitewise-erp/sitewise/internal/delivery"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAttacher struct {
	calls []EvidenceAttachPayload
	err   error
}

func (f *fakeAttacher) AttachEvidenceObject(ctx context.Context, challanID int64, kind delivery.EvidenceKind, url, key string) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, EvidenceAttachPayload{ChallanID: challanID, Kind: string(kind), URL: url, Key: key})
	return nil
}

func TestEvidenceAttachHandler(t *testing.T) {
	attacher := &fakeAttacher{}
	handler := NewEvidenceAttachHandler(attacher, discardLogger())

	task, err := NewEvidenceAttachTask(EvidenceAttachPayload{
		ChallanID: 42,
		Kind:      string(delivery.EvidenceInvoice),
		URL:       "https://cdn.example.com/uploads/2026/08/abc-invoice.jpg",
		Key:       "uploads/2026/08/abc-invoice.jpg",
	})
	require.NoError(t, err)
	require.Equal(t, TaskEvidenceAttach, task.Type())

	require.NoError(t, handler(context.Background(), task))
	require.Len(t, attacher.calls, 1)
	require.Equal(t, int64(42), attacher.calls[0].ChallanID)
	require.Equal(t, "INVOICE", attacher.calls[0].Kind)
}

func TestEvidenceAttachHandlerRetryBehaviour(t *testing.T) {
	task, err := NewEvidenceAttachTask(EvidenceAttachPayload{ChallanID: 1, Kind: "INVOICE"})
	require.NoError(t, err)

	// Transient errors propagate so Asynq retries.
	transient := &fakeAttacher{err: errors.New("db down")}
	err = NewEvidenceAttachHandler(transient, discardLogger())(context.Background(), task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)

	// Validation errors are permanent.
	invalid := &fakeAttacher{err: fmt.Errorf("bad kind: %w", delivery.ErrValidation)}
	err = NewEvidenceAttachHandler(invalid, discardLogger())(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	// Garbage payloads are never retried.
	err = NewEvidenceAttachHandler(&fakeAttacher{}, discardLogger())(context.Background(),
		asynq.NewTask(TaskEvidenceAttach, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeCleaner struct {
	got time.Duration
	err error
}

func (f *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) error {
	f.got = olderThan
	return f.err
}

func TestIdempotencyCleanupHandler(t *testing.T) {
	cleaner := &fakeCleaner{}
	handler := NewIdempotencyCleanupHandler(cleaner, discardLogger())

	task, err := NewIdempotencyCleanupTask(72 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, 72*time.Hour, cleaner.got)

	// Zero retention falls back to the default window.
	task, err = NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, 30*24*time.Hour, cleaner.got)

	cleaner.err = errors.New("db down")
	require.Error(t, handler(context.Background(), task))
}
