package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/stockyard-pos/stockyard/internal/catalog"
	"github.com/stockyard-pos/stockyard/internal/platform/cache"
)

// Store is the batch persistence port.
type Store interface {
	Insert(ctx context.Context, b Batch) (Batch, error)
	Get(ctx context.Context, id int64) (Batch, error)
	GetByNumber(ctx context.Context, number string) (Batch, error)
	ListActiveFIFO(ctx context.Context, productID int64) ([]Batch, error)
	CountCreatedOn(ctx context.Context, day time.Time) (int64, error)
	Consume(ctx context.Context, batchID, qty int64) (int64, error)
	Restore(ctx context.Context, batchID, qty int64) error
	Retire(ctx context.Context, batchID int64, status Status) (int64, error)
	Correct(ctx context.Context, batchID, newQty int64) (int64, error)
	ListExpired(ctx context.Context, asOf time.Time) ([]Batch, error)
	ListExpiringWithin(ctx context.Context, from, to time.Time) ([]Batch, error)
	Valuation(ctx context.Context) (Valuation, error)
}

// Journal is the movement ledger port.
type Journal interface {
	Append(ctx context.Context, m Movement) (Movement, error)
	ListByProduct(ctx context.Context, productID int64, limit int) ([]Movement, error)
	ListByBatch(ctx context.Context, batchID int64) ([]Movement, error)
}

// ProductPort is the slice of the catalog the batch engine needs. AddStock
// must apply the delta atomically and return the resulting stock.
type ProductPort interface {
	Get(ctx context.Context, id int64) (catalog.Product, error)
	GetByBarcode(ctx context.Context, code string) (catalog.Product, error)
	AddStock(ctx context.Context, productID, delta int64) (int64, error)
	SetPriceSnapshot(ctx context.Context, productID int64, costPrice, sellingPrice float64) error
}

// RefPort deduplicates sale references across retries.
type RefPort interface {
	CheckAndInsert(ctx context.Context, ref string) error
	Release(ctx context.Context, ref string) error
}

// Attempts before giving up when a concurrent sale keeps invalidating a
// batch read, and when same-day batch numbers collide.
const (
	consumeAttempts = 3
	numberAttempts  = 5
)

// Service implements batch inventory accounting. Batches are the canonical
// stock record; the product aggregate and the ledger are derived writes that
// follow each canonical mutation.
type Service struct {
	store    Store
	journal  Journal
	products ProductPort
	refs     RefPort
	cache    *cache.JSON
	flight   singleflight.Group
	log      *slog.Logger
	now      func() time.Time
}

// NewService constructs Service. refs and jsonCache may be nil; the service
// then skips reference dedup and valuation caching.
func NewService(store Store, journal Journal, products ProductPort, refs RefPort, jsonCache *cache.JSON, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		journal:  journal,
		products: products,
		refs:     refs,
		cache:    jsonCache,
		log:      log,
		now:      time.Now,
	}
}

// CreateBatch receives stock: it inserts the batch, bumps the product
// aggregate, refreshes the product price snapshot and journals a purchase
// movement. The batch row is canonical; when a derived write fails the
// batch stands and the failure is logged for the stock repair pass.
func (s *Service) CreateBatch(ctx context.Context, in CreateInput) (Batch, error) {
	if in.Quantity <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	if in.CostPrice < 0 || in.SellingPrice < 0 || in.MRP < 0 {
		return Batch{}, ErrInvalidPrice
	}
	if !in.ExpiryDate.IsZero() && !in.ManufactureDate.IsZero() && !in.ExpiryDate.After(in.ManufactureDate) {
		return Batch{}, ErrInvalidDates
	}

	if _, err := s.products.Get(ctx, in.ProductID); err != nil {
		return Batch{}, err
	}

	now := s.now().UTC()
	if !in.ExpiryDate.IsZero() && in.ExpiryDate.Before(now) {
		return Batch{}, fmt.Errorf("%w: refusing receipt of stock expired %s", ErrExpiredBatch, in.ExpiryDate.Format("2006-01-02"))
	}
	b := Batch{
		ProductID:       in.ProductID,
		SupplierID:      in.SupplierID,
		PurchaseOrderID: in.PurchaseOrderID,
		InitialQuantity: in.Quantity,
		CurrentQuantity: in.Quantity,
		CostPrice:       in.CostPrice,
		SellingPrice:    in.SellingPrice,
		MRP:             in.MRP,
		PurchaseDate:    now,
		ManufactureDate: in.ManufactureDate,
		ExpiryDate:      in.ExpiryDate,
		Status:          StatusActive,
		Location:        in.Location,
		Notes:           in.Notes,
		CreatedBy:       in.CreatedBy,
	}

	created, err := s.insertNumbered(ctx, b, now)
	if err != nil {
		return Batch{}, err
	}

	newStock, err := s.products.AddStock(ctx, in.ProductID, in.Quantity)
	if err != nil {
		s.log.Error("product stock increment failed after batch insert, repair needed",
			"batch", created.BatchNumber, "product_id", in.ProductID, "error", err)
		newStock = in.Quantity
	}
	if err := s.products.SetPriceSnapshot(ctx, in.ProductID, in.CostPrice, in.SellingPrice); err != nil {
		s.log.Error("price snapshot refresh failed", "product_id", in.ProductID, "error", err)
	}

	if _, err := s.journal.Append(ctx, Movement{
		ProductID:     in.ProductID,
		BatchID:       created.ID,
		Type:          MovementPurchase,
		Quantity:      in.Quantity,
		PreviousStock: newStock - in.Quantity,
		NewStock:      newStock,
		Reference:     created.BatchNumber,
		Notes:         in.Notes,
		CreatedBy:     in.CreatedBy,
	}); err != nil {
		s.log.Error("purchase movement append failed", "batch", created.BatchNumber, "error", err)
	}

	s.bumpCache(ctx)
	return created, nil
}

// insertNumbered mints a BATCH<yymmdd><nnn> number and inserts, bumping the
// suffix when a concurrent receipt claims the same number.
func (s *Service) insertNumbered(ctx context.Context, b Batch, day time.Time) (Batch, error) {
	count, err := s.store.CountCreatedOn(ctx, day)
	if err != nil {
		return Batch{}, err
	}
	for attempt := 0; attempt < numberAttempts; attempt++ {
		b.BatchNumber = fmt.Sprintf("BATCH%s%03d", day.Format("060102"), count+int64(attempt)+1)
		created, err := s.store.Insert(ctx, b)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, ErrNumberTaken) {
			return Batch{}, err
		}
	}
	return Batch{}, fmt.Errorf("mint batch number: %w", ErrNumberTaken)
}

// ProcessSaleFIFO sells quantity from a product's oldest batches first.
// Expired batches never participate. The sale is all or nothing: when the
// walk cannot cover the full quantity, every consumed batch is restored and
// no movement is written.
func (s *Service) ProcessSaleFIFO(ctx context.Context, in SaleInput) (SaleResult, error) {
	if in.Quantity <= 0 {
		return SaleResult{}, ErrInvalidQuantity
	}
	if in.Reference == "" {
		in.Reference = "SALE-" + uuid.NewString()
	}
	if s.refs != nil {
		if err := s.refs.CheckAndInsert(ctx, in.Reference); err != nil {
			return SaleResult{}, err
		}
	}

	result, err := s.sellFIFO(ctx, in)
	if err != nil && s.refs != nil {
		if relErr := s.refs.Release(ctx, in.Reference); relErr != nil {
			s.log.Error("sale reference release failed", "reference", in.Reference, "error", relErr)
		}
	}
	return result, err
}

type consumed struct {
	batch Batch
	qty   int64
}

func (s *Service) sellFIFO(ctx context.Context, in SaleInput) (SaleResult, error) {
	now := s.now().UTC()
	batches, err := s.store.ListActiveFIFO(ctx, in.ProductID)
	if err != nil {
		return SaleResult{}, err
	}

	var eligible []Batch
	var available int64
	for _, b := range batches {
		if b.ExpiredAt(now) {
			continue
		}
		if b.Available() <= 0 {
			continue
		}
		eligible = append(eligible, b)
		available += b.Available()
	}
	if available < in.Quantity {
		return SaleResult{}, fmt.Errorf("%w: need %d, have %d sellable", ErrInsufficientStock, in.Quantity, available)
	}

	taken, err := s.consumeWalk(ctx, eligible, in.Quantity)
	if err != nil {
		s.unwind(ctx, taken)
		return SaleResult{}, err
	}

	newStock, err := s.products.AddStock(ctx, in.ProductID, -in.Quantity)
	if err != nil {
		s.log.Error("product stock decrement failed after sale, repair needed",
			"product_id", in.ProductID, "quantity", in.Quantity, "error", err)
		newStock = 0
	}

	result := SaleResult{ProductID: in.ProductID, QuantitySold: in.Quantity, Reference: in.Reference}
	prev := newStock + in.Quantity
	for _, c := range taken {
		bd := Breakdown{
			BatchNumber:  c.batch.BatchNumber,
			Quantity:     c.qty,
			CostPrice:    c.batch.CostPrice,
			SellingPrice: c.batch.SellingPrice,
			TotalCost:    float64(c.qty) * c.batch.CostPrice,
			TotalRevenue: float64(c.qty) * c.batch.SellingPrice,
		}
		result.Batches = append(result.Batches, bd)
		result.TotalCost += bd.TotalCost
		result.TotalRevenue += bd.TotalRevenue

		if _, err := s.journal.Append(ctx, Movement{
			ProductID:     in.ProductID,
			BatchID:       c.batch.ID,
			Type:          MovementSale,
			Quantity:      c.qty,
			PreviousStock: prev,
			NewStock:      prev - c.qty,
			Reference:     in.Reference,
			Notes:         in.Notes,
			CreatedBy:     in.ActorID,
		}); err != nil {
			s.log.Error("sale movement append failed", "batch", c.batch.BatchNumber, "error", err)
		}
		prev -= c.qty
	}

	result.Profit = result.TotalRevenue - result.TotalCost
	if result.TotalRevenue > 0 {
		result.ProfitMargin = result.Profit / result.TotalRevenue * 100
	}
	result.AverageCostPrice = result.TotalCost / float64(in.Quantity)
	result.AverageSellingPrice = result.TotalRevenue / float64(in.Quantity)

	s.bumpCache(ctx)
	return result, nil
}

// consumeWalk takes stock batch by batch in FIFO order. A stale read means
// a concurrent sale moved the batch underneath us; the batch is re-read and
// the take shrunk before retrying.
func (s *Service) consumeWalk(ctx context.Context, eligible []Batch, quantity int64) ([]consumed, error) {
	var taken []consumed
	remaining := quantity
	for _, b := range eligible {
		if remaining == 0 {
			break
		}
		take := min(remaining, b.Available())
		for attempt := 0; attempt < consumeAttempts && take > 0; attempt++ {
			if _, err := s.store.Consume(ctx, b.ID, take); err == nil {
				taken = append(taken, consumed{batch: b, qty: take})
				remaining -= take
				take = 0
				break
			} else if !errors.Is(err, ErrStale) {
				return taken, err
			}
			fresh, err := s.store.Get(ctx, b.ID)
			if err != nil || fresh.Status != StatusActive {
				take = 0
				break
			}
			b = fresh
			take = min(remaining, fresh.Available())
		}
	}
	if remaining > 0 {
		return taken, fmt.Errorf("%w: %d left uncovered after contention", ErrInsufficientStock, remaining)
	}
	return taken, nil
}

// unwind restores every batch consumed by a failed sale.
func (s *Service) unwind(ctx context.Context, taken []consumed) {
	for _, c := range taken {
		if err := s.store.Restore(ctx, c.batch.ID, c.qty); err != nil {
			s.log.Error("sale unwind failed, repair needed",
				"batch", c.batch.BatchNumber, "quantity", c.qty, "error", err)
		}
	}
}

// UpdateBatchStatus retires an active batch as expired, damaged or
// returned, writing off its remaining stock.
func (s *Service) UpdateBatchStatus(ctx context.Context, batchID int64, status Status, notes string, actorID int64) (Batch, error) {
	if !status.Terminal() || status == StatusDepleted {
		return Batch{}, fmt.Errorf("%w: cannot move to %q by hand", ErrTerminalStatus, status)
	}
	removed, err := s.store.Retire(ctx, batchID, status)
	if err != nil {
		return Batch{}, err
	}
	b, err := s.store.Get(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}

	if removed > 0 {
		newStock, err := s.products.AddStock(ctx, b.ProductID, -removed)
		if err != nil {
			s.log.Error("product stock write-off failed, repair needed",
				"batch", b.BatchNumber, "error", err)
			newStock = 0
		}
		if _, err := s.journal.Append(ctx, Movement{
			ProductID:     b.ProductID,
			BatchID:       b.ID,
			Type:          movementForStatus(status),
			Quantity:      removed,
			PreviousStock: newStock + removed,
			NewStock:      newStock,
			Reference:     b.BatchNumber,
			Notes:         notes,
			CreatedBy:     actorID,
		}); err != nil {
			s.log.Error("write-off movement append failed", "batch", b.BatchNumber, "error", err)
		}
	}
	s.bumpCache(ctx)
	return b, nil
}

func movementForStatus(status Status) MovementType {
	switch status {
	case StatusDamaged:
		return MovementDamage
	case StatusReturned:
		return MovementReturn
	default:
		return MovementExpired
	}
}

// CorrectQuantity overwrites a batch's current quantity after a physical
// count and journals the delta as an adjustment.
func (s *Service) CorrectQuantity(ctx context.Context, batchID, newQty int64, notes string, actorID int64) (Batch, error) {
	if newQty < 0 {
		return Batch{}, ErrInvalidQuantity
	}
	prev, err := s.store.Correct(ctx, batchID, newQty)
	if err != nil {
		return Batch{}, err
	}
	b, err := s.store.Get(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}

	delta := newQty - prev
	if delta != 0 {
		newStock, err := s.products.AddStock(ctx, b.ProductID, delta)
		if err != nil {
			s.log.Error("product stock adjustment failed, repair needed",
				"batch", b.BatchNumber, "error", err)
			newStock = 0
		}
		if _, err := s.journal.Append(ctx, Movement{
			ProductID:     b.ProductID,
			BatchID:       b.ID,
			Type:          MovementAdjustment,
			Quantity:      delta,
			PreviousStock: newStock - delta,
			NewStock:      newStock,
			Reference:     b.BatchNumber,
			Notes:         notes,
			CreatedBy:     actorID,
		}); err != nil {
			s.log.Error("adjustment movement append failed", "batch", b.BatchNumber, "error", err)
		}
	}
	s.bumpCache(ctx)
	return b, nil
}

// GetBatch fetches one batch by id.
func (s *Service) GetBatch(ctx context.Context, id int64) (Batch, error) {
	return s.store.Get(ctx, id)
}

// GetBatchesByProduct resolves key as a 13-digit barcode or a numeric
// product id and returns the product's batch summary in FIFO order.
func (s *Service) GetBatchesByProduct(ctx context.Context, key string) (Summary, error) {
	product, err := s.resolveProduct(ctx, key)
	if err != nil {
		return Summary{}, err
	}
	batches, err := s.store.ListActiveFIFO(ctx, product.ID)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		ProductID:   product.ID,
		ProductName: product.Name,
		Barcode:     product.Barcode,
	}
	for i, b := range batches {
		entry := SummaryEntry{Batch: b, BatchValue: float64(b.CurrentQuantity) * b.CostPrice}
		if b.SellingPrice > 0 {
			entry.ProfitMargin = (b.SellingPrice - b.CostPrice) / b.SellingPrice * 100
		}
		summary.Batches = append(summary.Batches, entry)
		summary.TotalQuantity += b.CurrentQuantity

		if i == 0 {
			summary.PriceRange = PriceRange{
				MinCostPrice: b.CostPrice, MaxCostPrice: b.CostPrice,
				MinSellingPrice: b.SellingPrice, MaxSellingPrice: b.SellingPrice,
			}
			continue
		}
		pr := &summary.PriceRange
		pr.MinCostPrice = min(pr.MinCostPrice, b.CostPrice)
		pr.MaxCostPrice = max(pr.MaxCostPrice, b.CostPrice)
		pr.MinSellingPrice = min(pr.MinSellingPrice, b.SellingPrice)
		pr.MaxSellingPrice = max(pr.MaxSellingPrice, b.SellingPrice)
	}
	summary.TotalBatches = len(summary.Batches)
	return summary, nil
}

func (s *Service) resolveProduct(ctx context.Context, key string) (catalog.Product, error) {
	if len(key) == 13 {
		if _, err := strconv.ParseUint(key, 10, 64); err == nil {
			return s.products.GetByBarcode(ctx, key)
		}
	}
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("%w: %q is neither a barcode nor an id", catalog.ErrProductNotFound, key)
	}
	return s.products.Get(ctx, id)
}

// GetInventoryValuation aggregates active stock worth, cached for a few
// minutes and deduplicated across concurrent callers.
func (s *Service) GetInventoryValuation(ctx context.Context) (Valuation, error) {
	v, err, _ := s.flight.Do("valuation", func() (any, error) {
		key, err := s.cache.Key(ctx, "valuation")
		if err != nil {
			return s.store.Valuation(ctx)
		}
		var out Valuation
		err = s.cache.Fetch(ctx, key, &out, func(ctx context.Context) (interface{}, error) {
			return s.store.Valuation(ctx)
		})
		return out, err
	})
	if err != nil {
		return Valuation{}, err
	}
	return v.(Valuation), nil
}

// GetExpiringBatches lists active stocked batches expiring within the next
// windowDays days.
func (s *Service) GetExpiringBatches(ctx context.Context, windowDays int) ([]Batch, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	now := s.now().UTC()
	return s.store.ListExpiringWithin(ctx, now, now.AddDate(0, 0, windowDays))
}

// MovementsByProduct returns a product's recent ledger entries.
func (s *Service) MovementsByProduct(ctx context.Context, productID int64, limit int) ([]Movement, error) {
	return s.journal.ListByProduct(ctx, productID, limit)
}

// MovementsByBatch returns the full ledger of one batch.
func (s *Service) MovementsByBatch(ctx context.Context, batchID int64) ([]Movement, error) {
	return s.journal.ListByBatch(ctx, batchID)
}

func (s *Service) bumpCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.log.Warn("cache version bump failed", "error", err)
	}
}

