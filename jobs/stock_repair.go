package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stockyard-pos/stockyard/internal/catalog"
	"github.com/stockyard-pos/stockyard/internal/shared"
)

// NewStockRepairHandler processes TaskStockRepair, converging every product
// aggregate on the batch-derived truth.
func NewStockRepairHandler(svc *catalog.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		repairs, err := svc.RepairAllStock(ctx)
		if err != nil {
			logger.Error("stock repair task failed", slog.Any("error", err))
			return err
		}
		var drifted int
		for _, r := range repairs {
			if r.Drift != 0 {
				drifted++
			}
		}
		logger.Info("stock repair task done",
			slog.Int("products", len(repairs)),
			slog.Int("drifted", drifted))
		return nil
	}
}

// NewSaleRefCleanupHandler processes TaskSaleRefCleanup.
func NewSaleRefCleanupHandler(refs *shared.SaleRefStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		payload := SaleRefCleanupPayload{OlderThanHours: 72}
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		if err := refs.Cleanup(ctx, time.Duration(payload.OlderThanHours)*time.Hour); err != nil {
			logger.Error("sale ref cleanup task failed", slog.Any("error", err))
			return err
		}
		logger.Info("sale ref cleanup task done", slog.Int("older_than_hours", payload.OlderThanHours))
		return nil
	}
}
