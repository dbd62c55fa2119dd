package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stockyard-pos/stockyard/internal/expiry"
)

// NewExpirySweepHandler processes TaskExpirySweep. The sweep itself is
// idempotent, so a retried task after a partial failure is safe.
func NewExpirySweepHandler(sweeper *expiry.Sweeper, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ExpirySweepPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		started := time.Now()
		report, err := sweeper.Sweep(ctx)
		if err != nil {
			logger.Error("expiry sweep task failed", slog.Any("error", err))
			return err
		}
		logger.Info("expiry sweep task done",
			slog.Int("checked", report.TotalChecked),
			slog.Int("retired", len(report.BatchesUpdated)),
			slog.Int("errors", len(report.Errors)),
			slog.Duration("took", time.Since(started)))
		return nil
	}
}
