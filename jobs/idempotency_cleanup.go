package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/sitewise-erp/sitewise/internal/jobs"
)

// TaskIdempotencyCleanup prunes processed idempotency keys past retention.
const TaskIdempotencyCleanup = "idempotency:cleanup"

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for key cleanup. Meant
// to be registered on the scheduler, not enqueued ad hoc.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	payload := IdempotencyCleanupPayload{RetentionHours: int(retention.Hours())}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// KeyCleaner is the slice of the idempotency store the task needs.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// NewIdempotencyCleanupHandler processes TaskIdempotencyCleanup tasks.
func NewIdempotencyCleanupHandler(store KeyCleaner, logger *slog.Logger) asynq.HandlerFunc {
	metrics := jobmetrics.NewMetrics(nil)
	return func(ctx context.Context, t *asynq.Task) error {
		track := metrics.Track(TaskIdempotencyCleanup)
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return track.End(asynq.SkipRetry)
		}
		retention := time.Duration(payload.RetentionHours) * time.Hour
		if retention <= 0 {
			retention = 30 * 24 * time.Hour
		}
		if err := store.Cleanup(ctx, retention); err != nil {
			logger.Warn("idempotency cleanup failed", slog.Any("error", err))
			return track.End(err)
		}
		logger.Info("idempotency keys pruned", slog.Duration("retention", retention))
		return track.End(nil)
	}
}
