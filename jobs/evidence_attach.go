// Package jobs holds background task definitions and the Asynq worker glue.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/sitewise-erp/sitewise/internal/delivery"
	jobmetrics "github.com/sitewise-erp/sitewise/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskEvidenceAttach retries linking an uploaded evidence object to its
	// challan after the synchronous database write failed.
	TaskEvidenceAttach = "evidence:attach"
)

// EvidenceAttachPayload identifies the uploaded object and its challan.
type EvidenceAttachPayload struct {
	ChallanID int64  `json:"challan_id"`
	Kind      string `json:"kind"`
	URL       string `json:"url"`
	Key       string `json:"key"`
}

// NewEvidenceAttachTask constructs an Asynq task for the evidence retry.
func NewEvidenceAttachTask(payload EvidenceAttachPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEvidenceAttach, body, asynq.Queue(QueueDefault), asynq.MaxRetry(10)), nil
}

// EvidenceAttacher is the slice of the delivery service the task needs.
type EvidenceAttacher interface {
	AttachEvidenceObject(ctx context.Context, challanID int64, kind delivery.EvidenceKind, url, key string) error
}

// NewEvidenceAttachHandler processes TaskEvidenceAttach tasks.
func NewEvidenceAttachHandler(svc EvidenceAttacher, logger *slog.Logger) asynq.HandlerFunc {
	metrics := jobmetrics.NewMetrics(nil)
	return func(ctx context.Context, t *asynq.Task) error {
		track := metrics.Track(TaskEvidenceAttach)
		var payload EvidenceAttachPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return track.End(asynq.SkipRetry)
		}
		err := svc.AttachEvidenceObject(ctx, payload.ChallanID, delivery.EvidenceKind(payload.Kind), payload.URL, payload.Key)
		if err != nil {
			logger.Warn("evidence attach retry failed",
				slog.Int64("challan_id", payload.ChallanID),
				slog.String("kind", payload.Kind),
				slog.Any("error", err))
			if errors.Is(err, delivery.ErrValidation) {
				return track.End(asynq.SkipRetry)
			}
			return track.End(err)
		}
		logger.Info("evidence attached",
			slog.Int64("challan_id", payload.ChallanID),
			slog.String("kind", payload.Kind))
		return track.End(nil)
	}
}
