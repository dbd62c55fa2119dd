package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/stockyard-pos/stockyard/internal/barcode"
)

// NewBarcodeResyncHandler processes TaskBarcodeResync. The resync is a
// read-then-write over the whole code set, so the issuance lock is held for
// the duration; a held lock defers the task to a retry.
func NewBarcodeResyncHandler(resync *barcode.Resync, lock *barcode.IssuanceLock, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload BarcodeResyncPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		if !payload.DryRun && lock != nil {
			if err := lock.Acquire(ctx); err != nil {
				if errors.Is(err, barcode.ErrLockHeld) {
					logger.Warn("barcode resync deferred, lock held")
				}
				return err
			}
			defer func() {
				if err := lock.Release(ctx); err != nil {
					logger.Warn("barcode resync lock release failed", slog.Any("error", err))
				}
			}()
		}

		report, err := resync.Run(ctx, payload.DryRun)
		if err != nil {
			logger.Error("barcode resync task failed", slog.Any("error", err))
			return err
		}
		logger.Info("barcode resync task done",
			slog.Int("scanned", report.ScannedCodes),
			slog.Int64("max_sequence", report.MaxSequence),
			slog.Int64("previous", report.Previous),
			slog.Bool("committed", report.Committed))
		return nil
	}
}
