// Package expiry retires batches that passed their expiry date and reports
// on stock approaching it.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stockyard-pos/stockyard/internal/batch"
	"github.com/stockyard-pos/stockyard/internal/observability"
	"github.com/stockyard-pos/stockyard/internal/platform/cache"
)

// Lister finds batches by expiry date.
type Lister interface {
	ListExpired(ctx context.Context, asOf time.Time) ([]batch.Batch, error)
	ListExpiringWithin(ctx context.Context, from, to time.Time) ([]batch.Batch, error)
}

// Retirer writes off a batch, journals the write-off and keeps the product
// aggregate in step. Implemented by the batch service.
type Retirer interface {
	UpdateBatchStatus(ctx context.Context, batchID int64, status batch.Status, notes string, actorID int64) (batch.Batch, error)
}

// StatsSource aggregates expiry buckets.
type StatsSource interface {
	StatsExpired(ctx context.Context, asOf time.Time) (batch.StatsBucket, error)
	StatsExpiringWithin(ctx context.Context, from, to time.Time) (batch.StatsBucket, error)
	StatsActive(ctx context.Context) (batch.StatsBucket, error)
}

// RetiredBatch is one batch written off during a sweep.
type RetiredBatch struct {
	BatchID     int64     `json:"batch_id"`
	BatchNumber string    `json:"batch_number"`
	ProductID   int64     `json:"product_id"`
	Quantity    int64     `json:"quantity_written_off"`
	ExpiryDate  time.Time `json:"expiry_date"`
}

// Report summarises one sweep run. Success means the run completed, even
// when individual batches failed; per-batch failures land in Errors.
type Report struct {
	Success        bool           `json:"success"`
	Timestamp      time.Time      `json:"timestamp"`
	TotalChecked   int            `json:"total_checked"`
	BatchesUpdated []RetiredBatch `json:"batches_updated"`
	Errors         []string       `json:"errors,omitempty"`
}

// Statistics is the three-bucket expiry snapshot.
type Statistics struct {
	Expired      batch.StatsBucket `json:"expired"`
	ExpiringSoon batch.StatsBucket `json:"expiring_soon"`
	Active       batch.StatsBucket `json:"active"`
	WindowDays   int               `json:"window_days"`
	GeneratedAt  time.Time         `json:"generated_at"`
}

// Sweeper runs the scheduled expiry pass.
type Sweeper struct {
	lister     Lister
	retirer    Retirer
	stats      StatsSource
	cache      *cache.JSON
	metrics    *observability.Metrics
	log        *slog.Logger
	windowDays int
	now        func() time.Time
}

// NewSweeper constructs Sweeper. windowDays bounds the "expiring soon"
// bucket; cache and metrics may be nil.
func NewSweeper(lister Lister, retirer Retirer, stats StatsSource, jsonCache *cache.JSON, metrics *observability.Metrics, log *slog.Logger, windowDays int) *Sweeper {
	if windowDays <= 0 {
		windowDays = 30
	}
	return &Sweeper{
		lister:     lister,
		retirer:    retirer,
		stats:      stats,
		cache:      jsonCache,
		metrics:    metrics,
		log:        log,
		windowDays: windowDays,
		now:        time.Now,
	}
}

// Sweep retires every batch past its expiry date. One failing batch never
// stops the rest, and a batch another run already retired counts as checked
// without being an error, so overlapping runs converge on the same state.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	now := s.now().UTC()
	report := Report{Timestamp: now}

	expired, err := s.lister.ListExpired(ctx, now)
	if err != nil {
		return report, fmt.Errorf("expiry: list expired: %w", err)
	}
	report.TotalChecked = len(expired)

	for _, b := range expired {
		updated, err := s.retirer.UpdateBatchStatus(ctx, b.ID, batch.StatusExpired, "expiry sweep", 0)
		if err != nil {
			if errors.Is(err, batch.ErrTerminalStatus) || errors.Is(err, batch.ErrBatchNotFound) {
				continue
			}
			report.Errors = append(report.Errors, fmt.Sprintf("batch %s: %v", b.BatchNumber, err))
			s.log.Error("expiry sweep: retire failed", "batch", b.BatchNumber, "error", err)
			if s.metrics != nil {
				s.metrics.SweepErrors.Inc()
			}
			continue
		}
		report.BatchesUpdated = append(report.BatchesUpdated, RetiredBatch{
			BatchID:     updated.ID,
			BatchNumber: updated.BatchNumber,
			ProductID:   updated.ProductID,
			Quantity:    b.CurrentQuantity,
			ExpiryDate:  b.ExpiryDate,
		})
		if s.metrics != nil {
			s.metrics.SweepRetired.Inc()
		}
	}

	report.Success = true
	if s.metrics != nil {
		s.metrics.SweepRuns.Inc()
	}
	s.log.Info("expiry sweep finished",
		"checked", report.TotalChecked,
		"retired", len(report.BatchesUpdated),
		"errors", len(report.Errors))
	return report, nil
}

// ExpiringSoon lists active stocked batches expiring inside the window.
func (s *Sweeper) ExpiringSoon(ctx context.Context, windowDays int) ([]batch.Batch, error) {
	if windowDays <= 0 {
		windowDays = s.windowDays
	}
	now := s.now().UTC()
	return s.lister.ListExpiringWithin(ctx, now, now.AddDate(0, 0, windowDays))
}

// Statistics aggregates the expired, expiring-soon and active buckets. The
// snapshot is served from the versioned cache; every retire bumps the version
// through the batch service, so a sweep invalidates it as a side effect.
func (s *Sweeper) Statistics(ctx context.Context) (Statistics, error) {
	key, err := s.cache.Key(ctx, "expiry", "statistics")
	if err != nil {
		s.log.Warn("expiry statistics cache key", "error", err)
		return s.collectStatistics(ctx)
	}
	var out Statistics
	err = s.cache.Fetch(ctx, key, &out, func(ctx context.Context) (interface{}, error) {
		return s.collectStatistics(ctx)
	})
	if err != nil {
		return Statistics{}, err
	}
	return out, nil
}

func (s *Sweeper) collectStatistics(ctx context.Context) (Statistics, error) {
	now := s.now().UTC()
	out := Statistics{WindowDays: s.windowDays, GeneratedAt: now}

	var err error
	if out.Expired, err = s.stats.StatsExpired(ctx, now); err != nil {
		return Statistics{}, fmt.Errorf("expiry: expired bucket: %w", err)
	}
	if out.ExpiringSoon, err = s.stats.StatsExpiringWithin(ctx, now, now.AddDate(0, 0, s.windowDays)); err != nil {
		return Statistics{}, fmt.Errorf("expiry: expiring bucket: %w", err)
	}
	if out.Active, err = s.stats.StatsActive(ctx); err != nil {
		return Statistics{}, fmt.Errorf("expiry: active bucket: %w", err)
	}
	return out, nil
}
