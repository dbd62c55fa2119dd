package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockyard-pos/stockyard/internal/batch"
	"github.com/stockyard-pos/stockyard/internal/catalog"
	"github.com/stockyard-pos/stockyard/internal/expiry"
)

// SweepCLI runs the expiry sweep directly against the database for the
// sweep subcommand, without going through the queue.
type SweepCLI struct {
	sweeper *expiry.Sweeper
}

// NewSweepCLI wires a sweeper against live storage.
func NewSweepCLI(pool *pgxpool.Pool, logger *slog.Logger, windowDays int) *SweepCLI {
	batchRepo := batch.NewRepository(pool)
	ledger := batch.NewLedger(pool)
	catalogRepo := catalog.NewRepository(pool)
	batchService := batch.NewService(batchRepo, ledger, catalogRepo, nil, nil, logger)
	return &SweepCLI{
		sweeper: expiry.NewSweeper(batchRepo, batchService, batchRepo, nil, nil, logger, windowDays),
	}
}

// Run performs one sweep pass.
func (c *SweepCLI) Run(ctx context.Context) (expiry.Report, error) {
	if c == nil || c.sweeper == nil {
		return expiry.Report{}, errors.New("sweep cli: not configured")
	}
	return c.sweeper.Sweep(ctx)
}

// Statistics reports the expiry buckets without mutating anything.
func (c *SweepCLI) Statistics(ctx context.Context) (expiry.Statistics, error) {
	if c == nil || c.sweeper == nil {
		return expiry.Statistics{}, errors.New("sweep cli: not configured")
	}
	return c.sweeper.Statistics(ctx)
}
