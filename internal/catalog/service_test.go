package catalog

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stockyard-pos/stockyard/internal/barcode"
)

type memoryStore struct {
	mu       sync.Mutex
	nextID   int64
	products map[int64]Product
}

func newMemoryStore() *memoryStore {
	return &memoryStore{products: map[int64]Product{}}
}

func (s *memoryStore) Create(ctx context.Context, p Product) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.products {
		if existing.Barcode != "" && existing.Barcode == p.Barcode {
			return Product{}, barcode.ErrDuplicate
		}
		if existing.SKU == p.SKU {
			return Product{}, ErrDuplicateSKU
		}
	}
	s.nextID++
	p.ID = s.nextID
	s.products[p.ID] = p
	return p, nil
}

func (s *memoryStore) Get(ctx context.Context, id int64) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (s *memoryStore) GetByBarcode(ctx context.Context, code string) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.Barcode == code {
			return p, nil
		}
	}
	return Product{}, ErrProductNotFound
}

func (s *memoryStore) List(ctx context.Context, activeOnly bool, limit, offset int) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Product
	for id := int64(1); id <= s.nextID; id++ {
		p, ok := s.products[id]
		if !ok || (activeOnly && !p.IsActive) {
			continue
		}
		out = append(out, p)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) AddStock(ctx context.Context, productID, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return 0, ErrProductNotFound
	}
	p.CurrentStock += delta
	s.products[productID] = p
	return p.CurrentStock, nil
}

func (s *memoryStore) SetPriceSnapshot(ctx context.Context, productID int64, costPrice, sellingPrice float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	p.CostPrice = costPrice
	p.SellingPrice = sellingPrice
	s.products[productID] = p
	return nil
}

func (s *memoryStore) SetStock(ctx context.Context, productID, stock int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return 0, ErrProductNotFound
	}
	prev := p.CurrentStock
	p.CurrentStock = stock
	s.products[productID] = p
	return prev, nil
}

type fakeSequencer struct {
	mu  sync.Mutex
	seq int64
}

func (s *fakeSequencer) Next(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

type fakeBatchSource struct {
	sum  int64
	cost float64
	sell float64
}

func (f *fakeBatchSource) ActiveQuantitySum(ctx context.Context, productID int64) (int64, error) {
	return f.sum, nil
}

func (f *fakeBatchSource) LatestPrices(ctx context.Context, productID int64) (float64, float64, error) {
	return f.cost, f.sell, nil
}

func testService(store *memoryStore, batches BatchSource) *Service {
	gen := barcode.NewGenerator(&fakeSequencer{}, "21")
	return NewService(store, gen, batches, slog.New(slog.DiscardHandler))
}

func TestCreateProductMintsBarcode(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	svc := testService(store, &fakeBatchSource{})

	p, err := svc.CreateProduct(ctx, CreateProductInput{SKU: "MILK-1L", Name: "Milk 1L", CostPrice: 20, SellingPrice: 25})
	require.NoError(t, err)
	require.Equal(t, "2100000000012", p.Barcode)
	require.True(t, p.IsActive)
	require.Zero(t, p.CurrentStock, "stock arrives through batches, not product creation")

	_, ok := barcode.SequenceOf("21", p.Barcode)
	require.True(t, ok)
}

func TestCreateProductRetriesTakenBarcode(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	svc := testService(store, &fakeBatchSource{})

	// A previously imported product already holds the code for sequence 1.
	first, err := barcode.Compose("21", 1)
	require.NoError(t, err)
	_, err = store.Create(ctx, Product{SKU: "IMPORTED", Name: "Imported", Barcode: first})
	require.NoError(t, err)

	p, err := svc.CreateProduct(ctx, CreateProductInput{SKU: "MILK-1L", Name: "Milk 1L"})
	require.NoError(t, err)
	second, err := barcode.Compose("21", 2)
	require.NoError(t, err)
	require.Equal(t, second, p.Barcode)
}

func TestCreateProductKeepsSuppliedBarcode(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	svc := testService(store, &fakeBatchSource{})

	p, err := svc.CreateProduct(ctx, CreateProductInput{SKU: "COLA", Name: "Cola", Barcode: "4006381333931"})
	require.NoError(t, err)
	require.Equal(t, "4006381333931", p.Barcode)

	_, err = svc.CreateProduct(ctx, CreateProductInput{SKU: "COLA-2", Name: "Cola Again", Barcode: "4006381333931"})
	require.ErrorIs(t, err, barcode.ErrDuplicate)
}

func TestCreateProductValidation(t *testing.T) {
	ctx := context.Background()
	svc := testService(newMemoryStore(), &fakeBatchSource{})

	_, err := svc.CreateProduct(ctx, CreateProductInput{SKU: " ", Name: "x"})
	require.Error(t, err)
	_, err = svc.CreateProduct(ctx, CreateProductInput{SKU: "A", Name: "x", CostPrice: -1})
	require.Error(t, err)
}

func TestRepairStock(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	batches := &fakeBatchSource{sum: 130}
	svc := testService(store, batches)

	created, err := store.Create(ctx, Product{SKU: "MILK-1L", Name: "Milk 1L"})
	require.NoError(t, err)
	_, err = store.SetStock(ctx, created.ID, 117)
	require.NoError(t, err)

	repair, err := svc.RepairStock(ctx, created.ID)
	require.NoError(t, err)
	require.EqualValues(t, 117, repair.Previous)
	require.EqualValues(t, 130, repair.Corrected)
	require.EqualValues(t, 13, repair.Drift)

	p, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.EqualValues(t, 130, p.CurrentStock)

	// Second pass is a no-op.
	repair, err = svc.RepairStock(ctx, created.ID)
	require.NoError(t, err)
	require.Zero(t, repair.Drift)
}

func TestRefreshPriceSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	svc := testService(store, &fakeBatchSource{cost: 22, sell: 28})

	created, err := store.Create(ctx, Product{SKU: "MILK-1L", Name: "Milk 1L", CostPrice: 20, SellingPrice: 25})
	require.NoError(t, err)

	require.NoError(t, svc.RefreshPriceSnapshot(ctx, created.ID))
	p, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, 22.0, p.CostPrice)
	require.Equal(t, 28.0, p.SellingPrice)
}
