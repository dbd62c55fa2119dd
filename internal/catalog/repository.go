package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockyard-pos/stockyard/internal/barcode"
)

// Repository persists products in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, sku, name, COALESCE(barcode, ''), current_stock, cost_price, selling_price,
COALESCE(mrp, 0), is_active, created_at, updated_at`

// Create inserts a product. A unique violation on the barcode column maps
// to barcode.ErrDuplicate so the generator's retry loop can mint another
// code; a SKU collision maps to ErrDuplicateSKU.
func (r *Repository) Create(ctx context.Context, p Product) (Product, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO products
(sku, name, barcode, current_stock, cost_price, selling_price, mrp, is_active, created_at, updated_at)
VALUES ($1,$2,$3,0,$4,$5,$6,$7,NOW(),NOW())
RETURNING id, created_at, updated_at`,
		p.SKU, p.Name, p.Barcode, p.CostPrice, p.SellingPrice, p.MRP, p.IsActive,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if strings.Contains(pgErr.ConstraintName, "barcode") {
				return Product{}, barcode.ErrDuplicate
			}
			return Product{}, ErrDuplicateSKU
		}
		return Product{}, err
	}
	return p, nil
}

// Get fetches one product by id.
func (r *Repository) Get(ctx context.Context, id int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

// GetByBarcode fetches one product by its barcode.
func (r *Repository) GetByBarcode(ctx context.Context, code string) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE barcode = $1`, code)
	return scanProduct(row)
}

// List pages through products, newest first.
func (r *Repository) List(ctx context.Context, activeOnly bool, limit, offset int) ([]Product, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + productColumns + ` FROM products`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ListBarcodes returns every assigned barcode, feeding the counter resync.
func (r *Repository) ListBarcodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT barcode FROM products WHERE barcode IS NOT NULL AND barcode <> ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// AddStock applies a stock delta atomically and returns the new total.
func (r *Repository) AddStock(ctx context.Context, productID, delta int64) (int64, error) {
	var stock int64
	err := r.pool.QueryRow(ctx, `UPDATE products
SET current_stock = current_stock + $2, updated_at = NOW()
WHERE id = $1
RETURNING current_stock`, productID, delta).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProductNotFound
		}
		return 0, err
	}
	return stock, nil
}

// SetPriceSnapshot overwrites the denormalized price pair.
func (r *Repository) SetPriceSnapshot(ctx context.Context, productID int64, costPrice, sellingPrice float64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products
SET cost_price = $2, selling_price = $3, updated_at = NOW()
WHERE id = $1`, productID, costPrice, sellingPrice)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// SetStock overwrites the stock aggregate and returns the previous value,
// used by the repair pass to converge on the batch-derived truth.
func (r *Repository) SetStock(ctx context.Context, productID, stock int64) (int64, error) {
	var prev int64
	err := r.pool.QueryRow(ctx, `UPDATE products p
SET current_stock = $2, updated_at = NOW()
FROM (SELECT current_stock FROM products WHERE id = $1 FOR UPDATE) old
WHERE p.id = $1
RETURNING old.current_stock`, productID, stock).Scan(&prev)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProductNotFound
		}
		return 0, err
	}
	return prev, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Barcode, &p.CurrentStock, &p.CostPrice,
		&p.SellingPrice, &p.MRP, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}
