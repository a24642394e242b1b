package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// AuditCleaner deletes audit entries older than a cutoff. Satisfied by
// shared.AuditLogger.
type AuditCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
}

// NewAuditRetentionHandler builds the audit cleanup handler.
func NewAuditRetentionHandler(logger *slog.Logger, cleaner AuditCleaner) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload AuditRetentionPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Retention <= 0 {
			return asynq.SkipRetry
		}
		cutoff := time.Now().UTC().Add(-payload.Retention)
		deleted, err := cleaner.Cleanup(ctx, cutoff)
		if err != nil {
			logger.Error("audit retention cleanup failed", "error", err)
			return err
		}
		if deleted > 0 {
			logger.Info("audit retention cleanup", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
		}
		return nil
	}
}
