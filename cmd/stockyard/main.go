package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stockyard-pos/stockyard/cmd/stockyard/cli"
	"github.com/stockyard-pos/stockyard/internal/app"
	"github.com/stockyard-pos/stockyard/internal/barcode"
	"github.com/stockyard-pos/stockyard/internal/batch"
	"github.com/stockyard-pos/stockyard/internal/catalog"
	"github.com/stockyard-pos/stockyard/internal/expiry"
	"github.com/stockyard-pos/stockyard/internal/observability"
	"github.com/stockyard-pos/stockyard/internal/platform/cache"
	"github.com/stockyard-pos/stockyard/internal/platform/db"
	"github.com/stockyard-pos/stockyard/internal/shared"
	"github.com/stockyard-pos/stockyard/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if len(os.Args) > 1 {
		runSubcommand(ctx, cfg, logger, os.Args[1], os.Args[2:])
		return
	}
	serve(ctx, stop, cfg, logger)
}

func runSubcommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, name string, args []string) {
	switch name {
	case "serve":
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		serve(ctx, stop, cfg, logger)
	case "sweep":
		pool := mustPool(ctx, cfg, logger)
		defer pool.Close()
		report, err := cli.NewSweepCLI(pool, logger, cfg.ExpiringSoonDays).Run(ctx)
		if err != nil {
			logger.Error("sweep", slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Printf("sweep done: checked=%d retired=%d errors=%d\n",
			report.TotalChecked, len(report.BatchesUpdated), len(report.Errors))
		for _, msg := range report.Errors {
			fmt.Println("  error:", msg)
		}
	case "barcode-sync":
		fs := flag.NewFlagSet("barcode-sync", flag.ExitOnError)
		dryRun := fs.Bool("dry-run", false, "report without committing the counter")
		_ = fs.Parse(args)

		pool := mustPool(ctx, cfg, logger)
		defer pool.Close()
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = redisClient.Close() }()

		report, err := cli.NewBarcodeCLI(pool, redisClient, cfg.BarcodePrefix, cfg.ResyncLockTTL).Resync(ctx, *dryRun)
		if err != nil {
			logger.Error("barcode-sync", slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Printf("barcode-sync: scanned=%d max_sequence=%d previous=%d committed=%v\n",
			report.ScannedCodes, report.MaxSequence, report.Previous, report.Committed)
	case "jobs":
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "usage: stockyard jobs <task-type|stats>")
			os.Exit(2)
		}
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			logger.Error("jobs cli", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = jobsCLI.Close() }()
		if args[0] == "stats" {
			stats, err := jobsCLI.InspectQueue(ctx)
			if err != nil {
				logger.Error("queue stats", slog.Any("error", err))
				os.Exit(1)
			}
			fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
			return
		}
		info, err := jobsCLI.Trigger(ctx, args[0])
		if err != nil {
			logger.Error("trigger job", slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Printf("enqueued %s id=%s\n", args[0], info.ID)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", name)
		os.Exit(2)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) {
	pool := mustPool(ctx, cfg, logger)
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, caching and job triggers degraded", slog.Any("error", err))
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jsonCache := cache.NewJSON(redisClient, cfg.StatsCacheTTL)

	catalogRepo := catalog.NewRepository(pool)
	counter := barcode.NewCounter(pool)
	generator := barcode.NewGenerator(countedSequencer{counter, metrics}, cfg.BarcodePrefix)

	batchRepo := batch.NewRepository(pool)
	ledger := batch.NewLedger(pool)
	saleRefs := shared.NewSaleRefStore(pool)

	batchService := batch.NewService(batchRepo, ledger, catalogRepo, saleRefs, jsonCache, logger)
	catalogService := catalog.NewService(catalogRepo, generator, batchRepo, logger)
	sweeper := expiry.NewSweeper(batchRepo, batchService, batchRepo, jsonCache, metrics, logger, cfg.ExpiringSoonDays)

	catalogHandler := catalog.NewHandler(logger, catalogService)
	batchHandler := batch.NewHandler(logger, batchService)
	expiryHandler := expiry.NewHandler(logger, sweeper)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = jobClient.Close() }()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		CatalogHandler: catalogHandler,
		BatchHandler:   batchHandler,
		ExpiryHandler:  expiryHandler,
		JobHandler:     jobHandler,
		Pool:           pool,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func mustPool(ctx context.Context, cfg *app.Config, logger *slog.Logger) *pgxpool.Pool {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	return pool
}

// countedSequencer bumps the issuance metric alongside the counter.
type countedSequencer struct {
	counter *barcode.Counter
	metrics *observability.Metrics
}

func (s countedSequencer) Next(ctx context.Context) (int64, error) {
	seq, err := s.counter.Next(ctx)
	if err == nil && s.metrics != nil {
		s.metrics.BarcodesIssued.Inc()
	}
	return seq, err
}
