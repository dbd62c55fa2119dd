package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stockyard-pos/stockyard/internal/barcode"
)

// Store is the product persistence port.
type Store interface {
	Create(ctx context.Context, p Product) (Product, error)
	Get(ctx context.Context, id int64) (Product, error)
	GetByBarcode(ctx context.Context, code string) (Product, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]Product, error)
	AddStock(ctx context.Context, productID, delta int64) (int64, error)
	SetPriceSnapshot(ctx context.Context, productID int64, costPrice, sellingPrice float64) error
	SetStock(ctx context.Context, productID, stock int64) (int64, error)
}

// BatchSource exposes the slice of the batch engine the catalog needs to
// keep its denormalized fields honest. Implemented by the batch repository
// and wired in main, which keeps the import direction one way.
type BatchSource interface {
	ActiveQuantitySum(ctx context.Context, productID int64) (int64, error)
	LatestPrices(ctx context.Context, productID int64) (float64, float64, error)
}

// CreateProductInput describes a new product. An empty Barcode asks the
// engine to mint an internal EAN-13.
type CreateProductInput struct {
	SKU          string
	Name         string
	Barcode      string
	CostPrice    float64
	SellingPrice float64
	MRP          float64
}

// StockRepair reports one product's stock reconciliation.
type StockRepair struct {
	ProductID int64 `json:"product_id"`
	Previous  int64 `json:"previous_stock"`
	Corrected int64 `json:"corrected_stock"`
	Drift     int64 `json:"drift"`
}

const barcodeAttempts = 3

// Service implements catalog operations.
type Service struct {
	store   Store
	gen     *barcode.Generator
	batches BatchSource
	log     *slog.Logger
}

// NewService constructs Service.
func NewService(store Store, gen *barcode.Generator, batches BatchSource, log *slog.Logger) *Service {
	return &Service{store: store, gen: gen, batches: batches, log: log}
}

// CreateProduct registers a product, minting an internal barcode when none
// is supplied. Minting retries through fresh sequences when the insert
// reports the code as taken.
func (s *Service) CreateProduct(ctx context.Context, in CreateProductInput) (Product, error) {
	in.SKU = strings.TrimSpace(in.SKU)
	in.Name = strings.TrimSpace(in.Name)
	if in.SKU == "" || in.Name == "" {
		return Product{}, errors.New("catalog: sku and name are required")
	}
	if in.CostPrice < 0 || in.SellingPrice < 0 || in.MRP < 0 {
		return Product{}, errors.New("catalog: prices must be non-negative")
	}

	p := Product{
		SKU:          in.SKU,
		Name:         in.Name,
		Barcode:      in.Barcode,
		CostPrice:    in.CostPrice,
		SellingPrice: in.SellingPrice,
		MRP:          in.MRP,
		IsActive:     true,
	}

	if in.Barcode != "" {
		return s.store.Create(ctx, p)
	}

	var created Product
	_, err := s.gen.GenerateWithRetry(ctx, barcodeAttempts, func(ctx context.Context, code string) error {
		p.Barcode = code
		out, err := s.store.Create(ctx, p)
		if err != nil {
			return err
		}
		created = out
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	return created, nil
}

// GetProduct fetches one product by id.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.store.Get(ctx, id)
}

// GetProductByBarcode fetches one product by barcode.
func (s *Service) GetProductByBarcode(ctx context.Context, code string) (Product, error) {
	return s.store.GetByBarcode(ctx, code)
}

// ListProducts pages through products.
func (s *Service) ListProducts(ctx context.Context, activeOnly bool, limit, offset int) ([]Product, error) {
	return s.store.List(ctx, activeOnly, limit, offset)
}

// RefreshPriceSnapshot recopies the most recent batch prices onto the
// product.
func (s *Service) RefreshPriceSnapshot(ctx context.Context, productID int64) error {
	cost, sell, err := s.batches.LatestPrices(ctx, productID)
	if err != nil {
		return fmt.Errorf("catalog: latest batch prices: %w", err)
	}
	return s.store.SetPriceSnapshot(ctx, productID, cost, sell)
}

// RepairStock overwrites the product's stock aggregate with the sum of its
// active batches and reports the drift. Derived writes that failed after a
// canonical batch mutation are healed here.
func (s *Service) RepairStock(ctx context.Context, productID int64) (StockRepair, error) {
	sum, err := s.batches.ActiveQuantitySum(ctx, productID)
	if err != nil {
		return StockRepair{}, fmt.Errorf("catalog: batch quantity sum: %w", err)
	}
	prev, err := s.store.SetStock(ctx, productID, sum)
	if err != nil {
		return StockRepair{}, err
	}
	repair := StockRepair{ProductID: productID, Previous: prev, Corrected: sum, Drift: sum - prev}
	if repair.Drift != 0 {
		s.log.Warn("stock aggregate drift repaired",
			"product_id", productID, "previous", prev, "corrected", sum)
	}
	return repair, nil
}

// RepairAllStock runs RepairStock over every product, carrying on past
// per-product failures.
func (s *Service) RepairAllStock(ctx context.Context) ([]StockRepair, error) {
	const pageSize = 200
	var repairs []StockRepair
	var failed int
	for offset := 0; ; offset += pageSize {
		products, err := s.store.List(ctx, false, pageSize, offset)
		if err != nil {
			return repairs, err
		}
		if len(products) == 0 {
			break
		}
		for _, p := range products {
			repair, err := s.RepairStock(ctx, p.ID)
			if err != nil {
				failed++
				s.log.Error("stock repair failed", "product_id", p.ID, "error", err)
				continue
			}
			repairs = append(repairs, repair)
		}
		if len(products) < pageSize {
			break
		}
	}
	if failed > 0 {
		return repairs, fmt.Errorf("catalog: %d products failed stock repair", failed)
	}
	return repairs, nil
}
