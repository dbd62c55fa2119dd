package batch

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger is the append-only stock movement journal. Entries are written
// after the batch mutation they describe has succeeded; they are never
// updated or deleted.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger constructs Ledger.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Append records one movement and returns it with id and timestamp set.
func (l *Ledger) Append(ctx context.Context, m Movement) (Movement, error) {
	err := l.pool.QueryRow(ctx, `INSERT INTO stock_movements
(product_id, batch_id, movement_type, quantity, previous_stock, new_stock, reference, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
RETURNING id, created_at`,
		m.ProductID, nullInt(m.BatchID), string(m.Type), m.Quantity, m.PreviousStock,
		m.NewStock, m.Reference, m.Notes, nullInt(m.CreatedBy),
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Movement{}, err
	}
	return m, nil
}

const movementColumns = `id, product_id, COALESCE(batch_id, 0), movement_type, quantity,
previous_stock, new_stock, COALESCE(reference, ''), COALESCE(notes, ''), COALESCE(created_by, 0), created_at`

// ListByProduct returns a product's most recent movements, newest first.
func (l *Ledger) ListByProduct(ctx context.Context, productID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE product_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

// ListByBatch returns all movements touching one batch, oldest first.
func (l *Ledger) ListByBatch(ctx context.Context, batchID int64) ([]Movement, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE batch_id = $1 ORDER BY created_at ASC, id ASC`, batchID)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

// ListSince returns movements of a given type recorded at or after from,
// for reconciliation reports.
func (l *Ledger) ListSince(ctx context.Context, movementType MovementType, from time.Time) ([]Movement, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE movement_type = $1 AND created_at >= $2 ORDER BY created_at ASC, id ASC`, string(movementType), from)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		var kind string
		if err := rows.Scan(&m.ID, &m.ProductID, &m.BatchID, &kind, &m.Quantity,
			&m.PreviousStock, &m.NewStock, &m.Reference, &m.Notes, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(kind)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}
