package batch

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists batches in PostgreSQL. Every mutation is a single
// conditional statement, so no multi-row transaction is required for the
// correctness guarantees the service relies on.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const batchColumns = `id, batch_number, product_id, COALESCE(supplier_id, 0), COALESCE(purchase_order_id, 0),
initial_quantity, current_quantity, reserved_quantity, cost_price, selling_price, COALESCE(mrp, 0),
purchase_date, manufacture_date, expiry_date, status, COALESCE(location, ''), COALESCE(notes, ''),
COALESCE(created_by, 0), created_at, updated_at`

// Insert stores a new batch and returns it with identity fields populated.
func (r *Repository) Insert(ctx context.Context, b Batch) (Batch, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO batches
(batch_number, product_id, supplier_id, purchase_order_id, initial_quantity, current_quantity,
 reserved_quantity, cost_price, selling_price, mrp, purchase_date, manufacture_date, expiry_date,
 status, location, notes, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW(),NOW())
RETURNING id, created_at, updated_at`,
		b.BatchNumber, b.ProductID, nullInt(b.SupplierID), nullInt(b.PurchaseOrderID),
		b.InitialQuantity, b.CurrentQuantity, b.ReservedQuantity, b.CostPrice, b.SellingPrice,
		nullFloat(b.MRP), b.PurchaseDate, nullTime(b.ManufactureDate), nullTime(b.ExpiryDate),
		string(b.Status), b.Location, b.Notes, nullInt(b.CreatedBy),
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Batch{}, ErrNumberTaken
		}
		return Batch{}, err
	}
	return b, nil
}

// Get fetches one batch by id.
func (r *Repository) Get(ctx context.Context, id int64) (Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id)
	return scanBatch(row)
}

// GetByNumber fetches one batch by its unique batch number.
func (r *Repository) GetByNumber(ctx context.Context, number string) (Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE batch_number = $1`, number)
	return scanBatch(row)
}

// ListActiveFIFO returns a product's sellable batches oldest purchase first.
// Ordering follows purchase_date, not insertion order.
func (r *Repository) ListActiveFIFO(ctx context.Context, productID int64) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM batches
WHERE product_id = $1 AND status = 'active' AND current_quantity > 0
ORDER BY purchase_date ASC, id ASC`, productID)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

// CountCreatedOn counts batches received on the given day, for the
// same-day running suffix of batch numbers.
func (r *Repository) CountCreatedOn(ctx context.Context, day time.Time) (int64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM batches WHERE created_at >= $1 AND created_at < $2`, start, end).Scan(&count)
	return count, err
}

// Consume atomically decrements a batch's quantity, guarded so the
// available quantity cannot go negative under concurrent sales. The status
// flips to depleted in the same statement when the batch drains to zero.
// Returns ErrStale when the guard rejects the decrement; the caller
// re-reads the batch and retries with a smaller amount.
func (r *Repository) Consume(ctx context.Context, batchID, qty int64) (int64, error) {
	var remaining int64
	err := r.pool.QueryRow(ctx, `UPDATE batches
SET current_quantity = current_quantity - $2,
    status = CASE WHEN current_quantity - $2 = 0 THEN 'depleted' ELSE status END,
    updated_at = NOW()
WHERE id = $1 AND status = 'active' AND current_quantity - reserved_quantity >= $2
RETURNING current_quantity`, batchID, qty).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrStale
		}
		return 0, err
	}
	return remaining, nil
}

// Restore puts quantity back on a batch after a failed multi-batch sale,
// reviving a depleted status when stock returns. Bounded by the initial
// quantity.
func (r *Repository) Restore(ctx context.Context, batchID, qty int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE batches
SET current_quantity = current_quantity + $2,
    status = CASE WHEN status = 'depleted' THEN 'active' ELSE status END,
    updated_at = NOW()
WHERE id = $1 AND current_quantity + $2 <= initial_quantity`, batchID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// Retire moves an active batch to a terminal status, zeroing its quantity,
// and reports how much stock was removed.
func (r *Repository) Retire(ctx context.Context, batchID int64, status Status) (int64, error) {
	var removed int64
	err := r.pool.QueryRow(ctx, `WITH prev AS (
    SELECT id, current_quantity FROM batches WHERE id = $1 AND status = 'active' FOR UPDATE
)
UPDATE batches b
SET current_quantity = 0, status = $2, updated_at = NOW()
FROM prev
WHERE b.id = prev.id
RETURNING prev.current_quantity`, batchID, string(status)).Scan(&removed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.Get(ctx, batchID); getErr != nil {
				return 0, getErr
			}
			return 0, ErrTerminalStatus
		}
		return 0, err
	}
	return removed, nil
}

// Correct overwrites the current quantity of an active batch (explicit
// stock correction) and returns the previous quantity. The new quantity
// stays within [0, initial_quantity]. The batch stays active even at zero:
// only a sale drains a batch into depleted, so a later count can raise the
// quantity again.
func (r *Repository) Correct(ctx context.Context, batchID, newQty int64) (int64, error) {
	var prev int64
	err := r.pool.QueryRow(ctx, `WITH prev AS (
    SELECT id, current_quantity FROM batches WHERE id = $1 AND status = 'active' FOR UPDATE
)
UPDATE batches b
SET current_quantity = $2,
    updated_at = NOW()
FROM prev
WHERE b.id = prev.id AND $2 >= 0 AND $2 <= b.initial_quantity
RETURNING prev.current_quantity`, batchID, newQty).Scan(&prev)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.Get(ctx, batchID); getErr != nil {
				return 0, getErr
			}
			return 0, ErrTerminalStatus
		}
		return 0, err
	}
	return prev, nil
}

// ListExpired returns active batches whose expiry date passed before asOf
// and that still hold stock.
func (r *Repository) ListExpired(ctx context.Context, asOf time.Time) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM batches
WHERE status = 'active' AND current_quantity > 0 AND expiry_date IS NOT NULL AND expiry_date < $1
ORDER BY expiry_date ASC, id ASC`, asOf)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

// ListExpiringWithin returns active stocked batches expiring inside
// [from, to].
func (r *Repository) ListExpiringWithin(ctx context.Context, from, to time.Time) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM batches
WHERE status = 'active' AND current_quantity > 0 AND expiry_date IS NOT NULL
  AND expiry_date >= $1 AND expiry_date <= $2
ORDER BY expiry_date ASC, id ASC`, from, to)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

// ActiveQuantitySum recomputes a product's stock from its active batches.
// The catalog uses it as the repair source of truth.
func (r *Repository) ActiveQuantitySum(ctx context.Context, productID int64) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(current_quantity), 0) FROM batches
WHERE product_id = $1 AND status = 'active'`, productID).Scan(&sum)
	return sum, err
}

// LatestPrices returns the price pair of the most recently created batch
// for the product, feeding the catalog price snapshot.
func (r *Repository) LatestPrices(ctx context.Context, productID int64) (float64, float64, error) {
	var cost, sell float64
	err := r.pool.QueryRow(ctx, `SELECT cost_price, selling_price FROM batches
WHERE product_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, productID).Scan(&cost, &sell)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrBatchNotFound
		}
		return 0, 0, err
	}
	return cost, sell, nil
}

// Valuation aggregates worth across all active stocked batches.
func (r *Repository) Valuation(ctx context.Context) (Valuation, error) {
	var v Valuation
	err := r.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT product_id), COUNT(*),
COALESCE(SUM(current_quantity), 0),
COALESCE(SUM(current_quantity * cost_price), 0),
COALESCE(SUM(current_quantity * selling_price), 0)
FROM batches WHERE status = 'active' AND current_quantity > 0`).Scan(
		&v.TotalProducts, &v.TotalBatches, &v.TotalQuantity, &v.TotalCostValue, &v.TotalSellingValue)
	if err != nil {
		return Valuation{}, err
	}
	v.TotalPotentialProfit = v.TotalSellingValue - v.TotalCostValue
	return v, nil
}

// StatsExpired aggregates active stocked batches already past expiry.
func (r *Repository) StatsExpired(ctx context.Context, asOf time.Time) (StatsBucket, error) {
	return r.statsWhere(ctx, `AND expiry_date IS NOT NULL AND expiry_date < $1`, asOf)
}

// StatsExpiringWithin aggregates active stocked batches expiring in
// [from, to].
func (r *Repository) StatsExpiringWithin(ctx context.Context, from, to time.Time) (StatsBucket, error) {
	return r.statsWhere(ctx, `AND expiry_date IS NOT NULL AND expiry_date >= $1 AND expiry_date <= $2`, from, to)
}

// StatsActive aggregates all active stocked batches.
func (r *Repository) StatsActive(ctx context.Context) (StatsBucket, error) {
	return r.statsWhere(ctx, ``)
}

func (r *Repository) statsWhere(ctx context.Context, cond string, args ...any) (StatsBucket, error) {
	var b StatsBucket
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(current_quantity), 0),
COALESCE(SUM(current_quantity * cost_price), 0)
FROM batches WHERE status = 'active' AND current_quantity > 0 `+cond, args...).Scan(
		&b.TotalBatches, &b.TotalQuantity, &b.TotalValue)
	if err != nil {
		return StatsBucket{}, err
	}
	return b, nil
}

func collectBatches(rows pgx.Rows) ([]Batch, error) {
	defer rows.Close()
	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	var status string
	var manufacture, expiry *time.Time
	err := row.Scan(&b.ID, &b.BatchNumber, &b.ProductID, &b.SupplierID, &b.PurchaseOrderID,
		&b.InitialQuantity, &b.CurrentQuantity, &b.ReservedQuantity, &b.CostPrice, &b.SellingPrice,
		&b.MRP, &b.PurchaseDate, &manufacture, &expiry, &status, &b.Location, &b.Notes,
		&b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	b.Status = Status(status)
	if manufacture != nil {
		b.ManufactureDate = *manufacture
	}
	if expiry != nil {
		b.ExpiryDate = *expiry
	}
	return b, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullFloat(value float64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
