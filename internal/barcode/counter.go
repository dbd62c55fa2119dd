package barcode

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CounterKey identifies the singleton sequence row.
const CounterKey = "barcode_sequence"

// Counter mints monotonically increasing barcode sequence numbers backed by
// a single row. Next delegates the increment to one conditional upsert so
// two concurrent callers can never observe the same value; no in-process
// locking is involved.
type Counter struct {
	pool *pgxpool.Pool
}

// NewCounter constructs Counter.
func NewCounter(pool *pgxpool.Pool) *Counter {
	return &Counter{pool: pool}
}

// Next atomically increments the sequence and returns the new value,
// creating the row on first use.
func (c *Counter) Next(ctx context.Context) (int64, error) {
	if c == nil || c.pool == nil {
		return 0, errors.New("barcode: counter not initialised")
	}
	var seq int64
	err := c.pool.QueryRow(ctx, `INSERT INTO barcode_counters (key, sequence)
VALUES ($1, 1)
ON CONFLICT (key) DO UPDATE SET sequence = barcode_counters.sequence + 1
RETURNING sequence`, CounterKey).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Current reads the sequence without advancing it. Returns 0 when the row
// does not exist yet.
func (c *Counter) Current(ctx context.Context) (int64, error) {
	if c == nil || c.pool == nil {
		return 0, errors.New("barcode: counter not initialised")
	}
	var seq int64
	err := c.pool.QueryRow(ctx, `SELECT COALESCE((SELECT sequence FROM barcode_counters WHERE key = $1), 0)`, CounterKey).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Set overwrites the sequence. Only the resync maintenance path uses this;
// it is a plain write, not an atomic increment, and must run with barcode
// issuance paused.
func (c *Counter) Set(ctx context.Context, seq int64) error {
	if c == nil || c.pool == nil {
		return errors.New("barcode: counter not initialised")
	}
	_, err := c.pool.Exec(ctx, `INSERT INTO barcode_counters (key, sequence)
VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET sequence = EXCLUDED.sequence`, CounterKey, seq)
	return err
}
