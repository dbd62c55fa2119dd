// Package cli hosts the helpers behind the stockyard maintenance
// subcommands, kept separate from main so they stay testable.
package cli

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stockyard-pos/stockyard/internal/barcode"
	"github.com/stockyard-pos/stockyard/internal/catalog"
)

// BarcodeCLI wraps the counter resync for the barcode-sync subcommand.
type BarcodeCLI struct {
	resync *barcode.Resync
	lock   *barcode.IssuanceLock
}

// NewBarcodeCLI wires the resync against live storage. redisClient may be
// nil; the resync then runs without the advisory lock.
func NewBarcodeCLI(pool *pgxpool.Pool, redisClient *redis.Client, prefix string, lockTTL time.Duration) *BarcodeCLI {
	var lock *barcode.IssuanceLock
	if redisClient != nil {
		lock = barcode.NewIssuanceLock(redisClient, lockTTL)
	}
	return &BarcodeCLI{
		resync: barcode.NewResync(catalog.NewRepository(pool), barcode.NewCounter(pool), prefix),
		lock:   lock,
	}
}

// Resync recomputes the counter from issued barcodes. A dry run only
// reports; a committing run holds the issuance lock for its duration.
func (c *BarcodeCLI) Resync(ctx context.Context, dryRun bool) (barcode.Report, error) {
	if c == nil || c.resync == nil {
		return barcode.Report{}, errors.New("barcode cli: not configured")
	}
	if !dryRun && c.lock != nil {
		if err := c.lock.Acquire(ctx); err != nil {
			return barcode.Report{}, err
		}
		defer func() { _ = c.lock.Release(ctx) }()
	}
	return c.resync.Run(ctx, dryRun)
}
