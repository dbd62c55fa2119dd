package barcode

import (
	"context"
	"errors"
	"fmt"
)

// CodeSource lists every barcode issued under the engine's prefix.
type CodeSource interface {
	ListBarcodes(ctx context.Context) ([]string, error)
}

// CounterStore is the narrow counter contract the resync needs.
type CounterStore interface {
	Current(ctx context.Context) (int64, error)
	Set(ctx context.Context, seq int64) error
}

// Resync recomputes the counter from stored barcodes after a bulk import.
// It performs a non-atomic read-then-write, so callers must hold the
// issuance lock while it runs.
type Resync struct {
	codes   CodeSource
	counter CounterStore
	prefix  string
}

// NewResync constructs Resync.
func NewResync(codes CodeSource, counter CounterStore, prefix string) *Resync {
	return &Resync{codes: codes, counter: counter, prefix: prefix}
}

// Report summarises a resync run.
type Report struct {
	ScannedCodes int   `json:"scanned_codes"`
	MaxSequence  int64 `json:"max_sequence"`
	Previous     int64 `json:"previous_sequence"`
	Committed    bool  `json:"committed"`
}

// Run scans all issued barcodes, takes the maximum embedded sequence and
// sets the counter to it, so the next mint yields max+1. With dryRun the
// counter is left untouched and only the report is produced.
func (r *Resync) Run(ctx context.Context, dryRun bool) (Report, error) {
	if r == nil || r.codes == nil || r.counter == nil {
		return Report{}, errors.New("barcode: resync not initialised")
	}
	codes, err := r.codes.ListBarcodes(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("barcode: list codes: %w", err)
	}
	prev, err := r.counter.Current(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("barcode: read counter: %w", err)
	}
	report := Report{
		ScannedCodes: len(codes),
		MaxSequence:  MaxSequence(r.prefix, codes),
		Previous:     prev,
	}
	if dryRun {
		return report, nil
	}
	if err := r.counter.Set(ctx, report.MaxSequence); err != nil {
		return Report{}, fmt.Errorf("barcode: set counter: %w", err)
	}
	report.Committed = true
	return report, nil
}
