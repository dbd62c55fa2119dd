package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stockyard-pos/stockyard/internal/catalog"
	"github.com/stockyard-pos/stockyard/internal/shared"
)

type memoryStore struct {
	mu        sync.Mutex
	nextID    int64
	batches   map[int64]Batch
	staleOnce map[int64]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{batches: map[int64]Batch{}, staleOnce: map[int64]bool{}}
}

func (s *memoryStore) Insert(ctx context.Context, b Batch) (Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.batches {
		if existing.BatchNumber == b.BatchNumber {
			return Batch{}, ErrNumberTaken
		}
	}
	s.nextID++
	b.ID = s.nextID
	b.CreatedAt = time.Now().UTC()
	b.UpdatedAt = b.CreatedAt
	s.batches[b.ID] = b
	return b, nil
}

func (s *memoryStore) Get(ctx context.Context, id int64) (Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

func (s *memoryStore) GetByNumber(ctx context.Context, number string) (Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.batches {
		if b.BatchNumber == number {
			return b, nil
		}
	}
	return Batch{}, ErrBatchNotFound
}

func (s *memoryStore) ListActiveFIFO(ctx context.Context, productID int64) ([]Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Batch
	for _, b := range s.batches {
		if b.ProductID == productID && b.Status == StatusActive && b.CurrentQuantity > 0 {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PurchaseDate.Equal(out[j].PurchaseDate) {
			return out[i].PurchaseDate.Before(out[j].PurchaseDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) CountCreatedOn(ctx context.Context, day time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, b := range s.batches {
		if b.CreatedAt.UTC().Truncate(24 * time.Hour).Equal(day.UTC().Truncate(24 * time.Hour)) {
			count++
		}
	}
	return count, nil
}

func (s *memoryStore) Consume(ctx context.Context, batchID, qty int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleOnce[batchID] {
		delete(s.staleOnce, batchID)
		return 0, ErrStale
	}
	b, ok := s.batches[batchID]
	if !ok || b.Status != StatusActive || b.Available() < qty {
		return 0, ErrStale
	}
	b.CurrentQuantity -= qty
	if b.CurrentQuantity == 0 {
		b.Status = StatusDepleted
	}
	s.batches[batchID] = b
	return b.CurrentQuantity, nil
}

func (s *memoryStore) Restore(ctx context.Context, batchID, qty int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok || b.CurrentQuantity+qty > b.InitialQuantity {
		return ErrBatchNotFound
	}
	b.CurrentQuantity += qty
	if b.Status == StatusDepleted {
		b.Status = StatusActive
	}
	s.batches[batchID] = b
	return nil
}

func (s *memoryStore) Retire(ctx context.Context, batchID int64, status Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return 0, ErrBatchNotFound
	}
	if b.Status != StatusActive {
		return 0, ErrTerminalStatus
	}
	removed := b.CurrentQuantity
	b.CurrentQuantity = 0
	b.Status = status
	s.batches[batchID] = b
	return removed, nil
}

func (s *memoryStore) Correct(ctx context.Context, batchID, newQty int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return 0, ErrBatchNotFound
	}
	if b.Status != StatusActive {
		return 0, ErrTerminalStatus
	}
	if newQty < 0 || newQty > b.InitialQuantity {
		return 0, ErrInvalidQuantity
	}
	prev := b.CurrentQuantity
	b.CurrentQuantity = newQty
	s.batches[batchID] = b
	return prev, nil
}

func (s *memoryStore) ListExpired(ctx context.Context, asOf time.Time) ([]Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Batch
	for _, b := range s.batches {
		if b.Status == StatusActive && b.CurrentQuantity > 0 && b.ExpiredAt(asOf) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) ListExpiringWithin(ctx context.Context, from, to time.Time) ([]Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Batch
	for _, b := range s.batches {
		if b.Status != StatusActive || b.CurrentQuantity == 0 || b.ExpiryDate.IsZero() {
			continue
		}
		if !b.ExpiryDate.Before(from) && !b.ExpiryDate.After(to) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryDate.Before(out[j].ExpiryDate) })
	return out, nil
}

func (s *memoryStore) Valuation(ctx context.Context) (Valuation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var v Valuation
	products := map[int64]struct{}{}
	for _, b := range s.batches {
		if b.Status != StatusActive || b.CurrentQuantity == 0 {
			continue
		}
		products[b.ProductID] = struct{}{}
		v.TotalBatches++
		v.TotalQuantity += b.CurrentQuantity
		v.TotalCostValue += float64(b.CurrentQuantity) * b.CostPrice
		v.TotalSellingValue += float64(b.CurrentQuantity) * b.SellingPrice
	}
	v.TotalProducts = len(products)
	v.TotalPotentialProfit = v.TotalSellingValue - v.TotalCostValue
	return v, nil
}

type memoryJournal struct {
	mu        sync.Mutex
	movements []Movement
}

func (j *memoryJournal) Append(ctx context.Context, m Movement) (Movement, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	m.ID = int64(len(j.movements) + 1)
	m.CreatedAt = time.Now().UTC()
	j.movements = append(j.movements, m)
	return m, nil
}

func (j *memoryJournal) ListByProduct(ctx context.Context, productID int64, limit int) ([]Movement, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Movement
	for i := len(j.movements) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if j.movements[i].ProductID == productID {
			out = append(out, j.movements[i])
		}
	}
	return out, nil
}

func (j *memoryJournal) ListByBatch(ctx context.Context, batchID int64) ([]Movement, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Movement
	for _, m := range j.movements {
		if m.BatchID == batchID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (j *memoryJournal) ofType(kind MovementType) []Movement {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Movement
	for _, m := range j.movements {
		if m.Type == kind {
			out = append(out, m)
		}
	}
	return out
}

type memoryProducts struct {
	mu       sync.Mutex
	products map[int64]catalog.Product
}

func newMemoryProducts(products ...catalog.Product) *memoryProducts {
	m := &memoryProducts{products: map[int64]catalog.Product{}}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *memoryProducts) Get(ctx context.Context, id int64) (catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return p, nil
}

func (m *memoryProducts) GetByBarcode(ctx context.Context, code string) (catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.Barcode == code {
			return p, nil
		}
	}
	return catalog.Product{}, catalog.ErrProductNotFound
}

func (m *memoryProducts) AddStock(ctx context.Context, productID, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return 0, catalog.ErrProductNotFound
	}
	p.CurrentStock += delta
	m.products[productID] = p
	return p.CurrentStock, nil
}

func (m *memoryProducts) SetPriceSnapshot(ctx context.Context, productID int64, costPrice, sellingPrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return catalog.ErrProductNotFound
	}
	p.CostPrice = costPrice
	p.SellingPrice = sellingPrice
	m.products[productID] = p
	return nil
}

func (m *memoryProducts) stock(productID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[productID].CurrentStock
}

type memoryRefs struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newMemoryRefs() *memoryRefs { return &memoryRefs{seen: map[string]struct{}{}} }

func (r *memoryRefs) CheckAndInsert(ctx context.Context, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[ref]; ok {
		return shared.ErrDuplicateReference
	}
	r.seen[ref] = struct{}{}
	return nil
}

func (r *memoryRefs) Release(ctx context.Context, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, ref)
	return nil
}

func testService(store *memoryStore, journal *memoryJournal, products *memoryProducts, refs RefPort) *Service {
	return NewService(store, journal, products, refs, nil, slog.New(slog.DiscardHandler))
}

func seedBatch(t *testing.T, store *memoryStore, b Batch) Batch {
	t.Helper()
	if b.Status == "" {
		b.Status = StatusActive
	}
	created, err := store.Insert(context.Background(), b)
	require.NoError(t, err)
	return created
}

func TestCreateBatch(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	journal := &memoryJournal{}
	products := newMemoryProducts(catalog.Product{ID: 1, Name: "Milk 1L", Barcode: "2100000000012"})
	svc := testService(store, journal, products, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) }

	created, err := svc.CreateBatch(ctx, CreateInput{
		ProductID:    1,
		Quantity:     100,
		CostPrice:    20,
		SellingPrice: 25,
		ExpiryDate:   time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, "BATCH260315001", created.BatchNumber)
	require.Equal(t, StatusActive, created.Status)
	require.EqualValues(t, 100, created.CurrentQuantity)
	require.EqualValues(t, 100, created.InitialQuantity)

	require.EqualValues(t, 100, products.stock(1))
	p, err := products.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 20.0, p.CostPrice)
	require.Equal(t, 25.0, p.SellingPrice)

	purchases := journal.ofType(MovementPurchase)
	require.Len(t, purchases, 1)
	require.EqualValues(t, 0, purchases[0].PreviousStock)
	require.EqualValues(t, 100, purchases[0].NewStock)
	require.Equal(t, created.BatchNumber, purchases[0].Reference)
}

func TestCreateBatchSameDayNumbers(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	products := newMemoryProducts(catalog.Product{ID: 1})
	svc := testService(store, &memoryJournal{}, products, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) }

	first, err := svc.CreateBatch(ctx, CreateInput{ProductID: 1, Quantity: 5, CostPrice: 1, SellingPrice: 2})
	require.NoError(t, err)
	second, err := svc.CreateBatch(ctx, CreateInput{ProductID: 1, Quantity: 5, CostPrice: 1, SellingPrice: 2})
	require.NoError(t, err)
	require.Equal(t, "BATCH260315001", first.BatchNumber)
	require.Equal(t, "BATCH260315002", second.BatchNumber)
}

func TestCreateBatchValidation(t *testing.T) {
	ctx := context.Background()
	svc := testService(newMemoryStore(), &memoryJournal{}, newMemoryProducts(catalog.Product{ID: 1}), nil)

	_, err := svc.CreateBatch(ctx, CreateInput{ProductID: 1, Quantity: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.CreateBatch(ctx, CreateInput{ProductID: 1, Quantity: 1, CostPrice: -1})
	require.ErrorIs(t, err, ErrInvalidPrice)

	_, err = svc.CreateBatch(ctx, CreateInput{
		ProductID: 1, Quantity: 1,
		ManufactureDate: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		ExpiryDate:      time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, ErrInvalidDates)

	_, err = svc.CreateBatch(ctx, CreateInput{
		ProductID: 1, Quantity: 1,
		ExpiryDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, ErrExpiredBatch)

	_, err = svc.CreateBatch(ctx, CreateInput{ProductID: 99, Quantity: 1})
	require.ErrorIs(t, err, catalog.ErrProductNotFound)
}

// Two receipts at different prices, one sale spanning both: the older batch
// drains completely at its own prices before the newer one is touched.
func TestProcessSaleFIFOAcrossBatches(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	journal := &memoryJournal{}
	products := newMemoryProducts(catalog.Product{ID: 1, CurrentStock: 250})
	svc := testService(store, journal, products, nil)

	older := seedBatch(t, store, Batch{
		BatchNumber: "BATCH260101001", ProductID: 1,
		InitialQuantity: 100, CurrentQuantity: 100,
		CostPrice: 20, SellingPrice: 25,
		PurchaseDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	newer := seedBatch(t, store, Batch{
		BatchNumber: "BATCH260201001", ProductID: 1,
		InitialQuantity: 150, CurrentQuantity: 150,
		CostPrice: 22, SellingPrice: 28,
		PurchaseDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})

	result, err := svc.ProcessSaleFIFO(ctx, SaleInput{ProductID: 1, Quantity: 120})
	require.NoError(t, err)

	require.EqualValues(t, 120, result.QuantitySold)
	require.Len(t, result.Batches, 2)
	require.Equal(t, older.BatchNumber, result.Batches[0].BatchNumber)
	require.EqualValues(t, 100, result.Batches[0].Quantity)
	require.Equal(t, newer.BatchNumber, result.Batches[1].BatchNumber)
	require.EqualValues(t, 20, result.Batches[1].Quantity)

	require.Equal(t, 2440.0, result.TotalCost)
	require.Equal(t, 3060.0, result.TotalRevenue)
	require.Equal(t, 620.0, result.Profit)
	require.InDelta(t, 20.26, result.ProfitMargin, 0.01)
	require.InDelta(t, 20.33, result.AverageCostPrice, 0.01)
	require.InDelta(t, 25.5, result.AverageSellingPrice, 0.01)

	drained, err := store.Get(ctx, older.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDepleted, drained.Status)
	require.Zero(t, drained.CurrentQuantity)

	partial, err := store.Get(ctx, newer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusActive, partial.Status)
	require.EqualValues(t, 130, partial.CurrentQuantity)

	require.EqualValues(t, 130, products.stock(1))

	sales := journal.ofType(MovementSale)
	require.Len(t, sales, 2)
	require.EqualValues(t, 250, sales[0].PreviousStock)
	require.EqualValues(t, 150, sales[0].NewStock)
	require.EqualValues(t, 150, sales[1].PreviousStock)
	require.EqualValues(t, 130, sales[1].NewStock)
}

func TestProcessSaleInsufficientStock(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	journal := &memoryJournal{}
	products := newMemoryProducts(catalog.Product{ID: 1, CurrentStock: 30})
	svc := testService(store, journal, products, nil)

	b := seedBatch(t, store, Batch{
		BatchNumber: "BATCH260101001", ProductID: 1,
		InitialQuantity: 30, CurrentQuantity: 30,
		CostPrice: 5, SellingPrice: 8,
		PurchaseDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	_, err := svc.ProcessSaleFIFO(ctx, SaleInput{ProductID: 1, Quantity: 31})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// Nothing moved.
	after, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	require.EqualValues(t, 30, after.CurrentQuantity)
	require.EqualValues(t, 30, products.stock(1))
	require.Empty(t, journal.ofType(MovementSale))
}

func TestProcessSaleSkipsExpired(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	products := newMemoryProducts(catalog.Product{ID: 1, CurrentStock: 60})
	svc := testService(store, &memoryJournal{}, products, nil)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	expired := seedBatch(t, store, Batch{
		BatchNumber: "BATCH260101001", ProductID: 1,
		InitialQuantity: 40, CurrentQuantity: 40,
		CostPrice: 5, SellingPrice: 8,
		PurchaseDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpiryDate:   now.AddDate(0, 0, -1),
	})
	fresh := seedBatch(t, store, Batch{
		BatchNumber: "BATCH260301001", ProductID: 1,
		InitialQuantity: 20, CurrentQuantity: 20,
		CostPrice: 6, SellingPrice: 9,
		PurchaseDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ExpiryDate:   now.AddDate(0, 6, 0),
	})

	// 25 > 20 sellable: the expired 40 must not count.
	_, err := svc.ProcessSaleFIFO(ctx, SaleInput{ProductID: 1, Quantity: 25})
	require.ErrorIs(t, err, ErrInsufficientStock)

	result, err := svc.ProcessSaleFIFO(ctx, SaleInput{ProductID: 1, Quantity: 15})
	require.NoError(t, err)
	require.Len(t, result.Batches, 1)
	require.Equal(t, fresh.BatchNumber, result.Batches[0].BatchNumber)

	untouched, err := store.Get(ctx, expired.ID)
	require.NoError(t, err)
	require.EqualValues(t, 40, untouched.CurrentQuantity)
}

func TestProcessSaleRetriesStaleRead(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	products := newMemoryProducts(catalog.Product{ID: 1, CurrentStock: 50})
	svc := testService(store, &memoryJournal{}, products, nil)

	b := seedBatch(t, store, Batch{
		BatchNumber: "BATCH260101001", ProductID: 1,
		InitialQuantity: 50, CurrentQuantity: 50,
		CostPrice: 5, SellingPrice: 8,
		PurchaseDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	store.staleOnce[b.ID] = true

	result, err := svc.ProcessSaleFIFO(ctx, SaleInput{ProductID: 1, Quantity: 10})
	require.NoError(t, err)
	require.EqualValues(t, 10, result.QuantitySold)

	after, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	require.EqualValues(t, 40, after.CurrentQuantity)
}

func TestProcessSaleDuplicateReference(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	products := newMemoryProducts(catalog.Product{ID: 1, CurrentStock: 50})
	refs := newMemoryRefs()
	svc := testService(store, &memoryJournal{}, products, refs)

	seedBatch(t, store, Batch{
		BatchNumber: "BATCH260101001", ProductID: 1,
		InitialQuantity: 50, CurrentQuantity: 50,
		CostPrice: 5, SellingPrice: 8,
		PurchaseDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	_, err := svc.ProcessSaleFIFO(ctx, SaleInput{ProductID: 1, Quantity: 10, Reference: "POS-1001"})
	require.NoError(t, err)

	_, err = svc.ProcessSaleFIFO(ctx, SaleInput{ProductID: 1, Quantity: 10, Reference: "POS-1001"})
	require.ErrorIs(t, err, shared.ErrDuplicateReference)
	require.EqualValues(t, 40, products.stock(1))

	// A failed sale releases its reference so the client can retry.
	_, err = svc.ProcessSaleFIFO(ctx, SaleInput{ProductID: 1, Quantity: 1000, Reference: "POS-1002"})
	require.ErrorIs(t, err, ErrInsufficientStock)
	_, ok := refs.seen["POS-1002"]
	require.False(t, ok)
}

func TestUpdateBatchStatus(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	journal := &memoryJournal{}
	products := newMemoryProducts(catalog.Product{ID: 1, CurrentStock: 40})
	svc := testService(store, journal, products, nil)

	b := seedBatch(t, store, Batch{
		BatchNumber: "BATCH260101001", ProductID: 1,
		InitialQuantity: 40, CurrentQuantity: 40,
		CostPrice: 5, SellingPrice: 8,
		PurchaseDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	updated, err := svc.UpdateBatchStatus(ctx, b.ID, StatusDamaged, "water damage", 7)
	require.NoError(t, err)
	require.Equal(t, StatusDamaged, updated.Status)
	require.Zero(t, updated.CurrentQuantity)
	require.EqualValues(t, 0, products.stock(1))

	damages := journal.ofType(MovementDamage)
	require.Len(t, damages, 1)
	require.EqualValues(t, 40, damages[0].Quantity)
	require.EqualValues(t, 7, damages[0].CreatedBy)

	_, err = svc.UpdateBatchStatus(ctx, b.ID, StatusReturned, "", 7)
	require.ErrorIs(t, err, ErrTerminalStatus)

	_, err = svc.UpdateBatchStatus(ctx, b.ID, StatusActive, "", 7)
	require.ErrorIs(t, err, ErrTerminalStatus)
	_, err = svc.UpdateBatchStatus(ctx, b.ID, StatusDepleted, "", 7)
	require.ErrorIs(t, err, ErrTerminalStatus)
}

func TestCorrectQuantity(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	journal := &memoryJournal{}
	products := newMemoryProducts(catalog.Product{ID: 1, CurrentStock: 40})
	svc := testService(store, journal, products, nil)

	b := seedBatch(t, store, Batch{
		BatchNumber: "BATCH260101001", ProductID: 1,
		InitialQuantity: 40, CurrentQuantity: 40,
		CostPrice: 5, SellingPrice: 8,
		PurchaseDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	corrected, err := svc.CorrectQuantity(ctx, b.ID, 35, "shrinkage count", 7)
	require.NoError(t, err)
	require.EqualValues(t, 35, corrected.CurrentQuantity)
	require.EqualValues(t, 35, products.stock(1))

	adjustments := journal.ofType(MovementAdjustment)
	require.Len(t, adjustments, 1)
	require.EqualValues(t, -5, adjustments[0].Quantity)
	require.EqualValues(t, 40, adjustments[0].PreviousStock)
	require.EqualValues(t, 35, adjustments[0].NewStock)

	// Counting down to zero keeps the batch active: only a sale depletes.
	corrected, err = svc.CorrectQuantity(ctx, b.ID, 0, "full recall", 7)
	require.NoError(t, err)
	require.Equal(t, StatusActive, corrected.Status)
	require.Zero(t, corrected.CurrentQuantity)
}

func TestGetBatchesByProduct(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	products := newMemoryProducts(catalog.Product{ID: 1, Name: "Milk 1L", Barcode: "2100000000012"})
	svc := testService(store, &memoryJournal{}, products, nil)

	seedBatch(t, store, Batch{
		BatchNumber: "BATCH260101001", ProductID: 1,
		InitialQuantity: 100, CurrentQuantity: 80,
		CostPrice: 20, SellingPrice: 25,
		PurchaseDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	seedBatch(t, store, Batch{
		BatchNumber: "BATCH260201001", ProductID: 1,
		InitialQuantity: 150, CurrentQuantity: 150,
		CostPrice: 22, SellingPrice: 28,
		PurchaseDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})

	for _, key := range []string{"1", "2100000000012"} {
		summary, err := svc.GetBatchesByProduct(ctx, key)
		require.NoError(t, err, "key %s", key)
		require.Equal(t, "Milk 1L", summary.ProductName)
		require.Equal(t, 2, summary.TotalBatches)
		require.EqualValues(t, 230, summary.TotalQuantity)
		require.Equal(t, "BATCH260101001", summary.Batches[0].BatchNumber, "FIFO order")
		require.Equal(t, 20.0, summary.PriceRange.MinCostPrice)
		require.Equal(t, 22.0, summary.PriceRange.MaxCostPrice)
		require.Equal(t, 25.0, summary.PriceRange.MinSellingPrice)
		require.Equal(t, 28.0, summary.PriceRange.MaxSellingPrice)
		require.Equal(t, 1600.0, summary.Batches[0].BatchValue)
		require.InDelta(t, 20.0, summary.Batches[0].ProfitMargin, 0.01)
	}

	_, err := svc.GetBatchesByProduct(ctx, "not-a-key")
	require.ErrorIs(t, err, catalog.ErrProductNotFound)
}

func TestGetInventoryValuation(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	svc := testService(store, &memoryJournal{}, newMemoryProducts(), nil)

	seedBatch(t, store, Batch{
		BatchNumber: "BATCH260101001", ProductID: 1,
		InitialQuantity: 100, CurrentQuantity: 80,
		CostPrice: 20, SellingPrice: 25,
		PurchaseDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	seedBatch(t, store, Batch{
		BatchNumber: "BATCH260101002", ProductID: 2,
		InitialQuantity: 10, CurrentQuantity: 10,
		CostPrice: 100, SellingPrice: 150,
		PurchaseDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	v, err := svc.GetInventoryValuation(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, v.TotalProducts)
	require.Equal(t, 2, v.TotalBatches)
	require.EqualValues(t, 90, v.TotalQuantity)
	require.Equal(t, 2600.0, v.TotalCostValue)
	require.Equal(t, 3500.0, v.TotalSellingValue)
	require.Equal(t, 900.0, v.TotalPotentialProfit)
}

func TestGetExpiringBatches(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	svc := testService(store, &memoryJournal{}, newMemoryProducts(), nil)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	for i, days := range []int{5, 40, -2} {
		seedBatch(t, store, Batch{
			BatchNumber: fmt.Sprintf("BATCH26010100%d", i+1), ProductID: 1,
			InitialQuantity: 10, CurrentQuantity: 10,
			CostPrice: 1, SellingPrice: 2,
			PurchaseDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			ExpiryDate:   now.AddDate(0, 0, days),
		})
	}

	soon, err := svc.GetExpiringBatches(ctx, 30)
	require.NoError(t, err)
	require.Len(t, soon, 1, "already-expired and far-future batches are out")
	require.Equal(t, "BATCH260101001", soon[0].BatchNumber)
}
