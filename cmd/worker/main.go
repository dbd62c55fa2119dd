package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/stockyard-pos/stockyard/internal/app"
	"github.com/stockyard-pos/stockyard/internal/barcode"
	"github.com/stockyard-pos/stockyard/internal/batch"
	"github.com/stockyard-pos/stockyard/internal/catalog"
	"github.com/stockyard-pos/stockyard/internal/expiry"
	jobmetrics "github.com/stockyard-pos/stockyard/internal/jobs"
	"github.com/stockyard-pos/stockyard/internal/platform/cache"
	"github.com/stockyard-pos/stockyard/internal/platform/db"
	"github.com/stockyard-pos/stockyard/internal/shared"
	"github.com/stockyard-pos/stockyard/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable at startup", slog.Any("error", err))
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	catalogRepo := catalog.NewRepository(pool)
	batchRepo := batch.NewRepository(pool)
	ledger := batch.NewLedger(pool)
	saleRefs := shared.NewSaleRefStore(pool)

	jsonCache := cache.NewJSON(redisClient, cfg.StatsCacheTTL)

	batchService := batch.NewService(batchRepo, ledger, catalogRepo, saleRefs, jsonCache, logger)
	sweeper := expiry.NewSweeper(batchRepo, batchService, batchRepo, jsonCache, nil, logger, cfg.ExpiringSoonDays)

	counter := barcode.NewCounter(pool)
	generator := barcode.NewGenerator(counter, cfg.BarcodePrefix)
	catalogService := catalog.NewService(catalogRepo, generator, batchRepo, logger)

	resync := barcode.NewResync(catalogRepo, counter, cfg.BarcodePrefix)
	issuanceLock := barcode.NewIssuanceLock(redisClient, cfg.ResyncLockTTL)

	sweepTask, err := jobs.NewExpirySweepTask(time.Now().UTC())
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewSaleRefCleanupTask(72)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExpirySweep, Handler: jobs.NewExpirySweepHandler(sweeper, logger)},
			{Type: jobs.TaskBarcodeResync, Handler: jobs.NewBarcodeResyncHandler(resync, issuanceLock, logger)},
			{Type: jobs.TaskStockRepair, Handler: jobs.NewStockRepairHandler(catalogService, logger)},
			{Type: jobs.TaskSaleRefCleanup, Handler: jobs.NewSaleRefCleanupHandler(saleRefs, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * *", Task: jobs.NewStockRepairTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "15 3 * * 0", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
		Metrics: jobmetrics.NewMetrics(nil),
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
