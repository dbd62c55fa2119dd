package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateReference indicates a sale reference was already processed.
var ErrDuplicateReference = errors.New("sale reference already processed")

// SaleRefStore persists processed sale references so a resubmitted sale
// request with the same reference is rejected instead of double-consuming
// stock.
type SaleRefStore struct {
	pool *pgxpool.Pool
}

// NewSaleRefStore constructs the store.
func NewSaleRefStore(pool *pgxpool.Pool) *SaleRefStore {
	return &SaleRefStore{pool: pool}
}

// CheckAndInsert claims a reference, failing on duplicates.
func (s *SaleRefStore) CheckAndInsert(ctx context.Context, ref string) error {
	if s == nil || s.pool == nil {
		return nil
	}
	if ref == "" {
		return errors.New("sale reference required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO sale_refs (ref, created_at) VALUES ($1, NOW())`, ref)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

// Release removes a claimed reference after the sale it guarded failed.
func (s *SaleRefStore) Release(ctx context.Context, ref string) error {
	if s == nil || s.pool == nil || ref == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM sale_refs WHERE ref = $1`, ref)
	return err
}

// Cleanup removes references older than the retention window.
func (s *SaleRefStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil || s.pool == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM sale_refs WHERE created_at < $1`, cutoff)
	return err
}
