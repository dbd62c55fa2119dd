package batch

import (
	"errors"
	"time"
)

// Status enumerates the batch lifecycle.
type Status string

const (
	// StatusActive marks a batch eligible for sale.
	StatusActive Status = "active"
	// StatusDepleted is reached exactly when a sale drains the batch to zero.
	StatusDepleted Status = "depleted"
	// StatusExpired marks stock retired by the expiry sweep.
	StatusExpired Status = "expired"
	// StatusDamaged marks stock written off as damaged.
	StatusDamaged Status = "damaged"
	// StatusReturned marks stock sent back to the supplier.
	StatusReturned Status = "returned"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusDepleted, StatusExpired, StatusDamaged, StatusReturned:
		return true
	}
	return false
}

// MovementType enumerates ledger entry kinds.
type MovementType string

const (
	MovementPurchase   MovementType = "purchase"
	MovementSale       MovementType = "sale"
	MovementAdjustment MovementType = "adjustment"
	MovementReturn     MovementType = "return"
	MovementDamage     MovementType = "damage"
	MovementTransfer   MovementType = "transfer"
	MovementExpired    MovementType = "expired"
)

// Batch is one physical receipt of a product at one price point. Quantities
// only ever move down outside of explicit corrections; prices are fixed at
// creation and never retroactively changed by later batches.
type Batch struct {
	ID               int64     `json:"id"`
	BatchNumber      string    `json:"batch_number"`
	ProductID        int64     `json:"product_id"`
	SupplierID       int64     `json:"supplier_id,omitempty"`
	PurchaseOrderID  int64     `json:"purchase_order_id,omitempty"`
	InitialQuantity  int64     `json:"initial_quantity"`
	CurrentQuantity  int64     `json:"current_quantity"`
	ReservedQuantity int64     `json:"reserved_quantity"`
	CostPrice        float64   `json:"cost_price"`
	SellingPrice     float64   `json:"selling_price"`
	MRP              float64   `json:"mrp,omitempty"`
	PurchaseDate     time.Time `json:"purchase_date"`
	ManufactureDate  time.Time `json:"manufacture_date,omitempty"`
	ExpiryDate       time.Time `json:"expiry_date,omitempty"`
	Status           Status    `json:"status"`
	Location         string    `json:"location,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	CreatedBy        int64     `json:"created_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Available is the quantity on hand minus holds for in-flight orders.
func (b Batch) Available() int64 {
	return b.CurrentQuantity - b.ReservedQuantity
}

// ExpiredAt reports whether the batch has an expiry date earlier than at.
func (b Batch) ExpiredAt(at time.Time) bool {
	return !b.ExpiryDate.IsZero() && b.ExpiryDate.Before(at)
}

// Movement is an immutable audit record of one quantity change, carrying
// the product stock before and after. Never updated or deleted.
type Movement struct {
	ID            int64        `json:"id"`
	ProductID     int64        `json:"product_id"`
	BatchID       int64        `json:"batch_id,omitempty"`
	Type          MovementType `json:"type"`
	Quantity      int64        `json:"quantity"`
	PreviousStock int64        `json:"previous_stock"`
	NewStock      int64        `json:"new_stock"`
	Reference     string       `json:"reference,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	CreatedBy     int64        `json:"created_by,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// CreateInput describes a batch receipt.
type CreateInput struct {
	ProductID       int64
	Quantity        int64
	CostPrice       float64
	SellingPrice    float64
	MRP             float64
	SupplierID      int64
	PurchaseOrderID int64
	ExpiryDate      time.Time
	ManufactureDate time.Time
	Location        string
	Notes           string
	CreatedBy       int64
}

// SaleInput describes a FIFO sale request.
type SaleInput struct {
	ProductID int64
	Quantity  int64
	ActorID   int64
	Reference string
	Notes     string
}

// Breakdown reports the consumption taken from a single batch during a sale.
type Breakdown struct {
	BatchNumber  string  `json:"batch_number"`
	Quantity     int64   `json:"quantity"`
	CostPrice    float64 `json:"cost_price"`
	SellingPrice float64 `json:"selling_price"`
	TotalCost    float64 `json:"total_cost"`
	TotalRevenue float64 `json:"total_revenue"`
}

// SaleResult aggregates a completed FIFO sale.
type SaleResult struct {
	ProductID           int64       `json:"product_id"`
	QuantitySold        int64       `json:"quantity_sold"`
	Batches             []Breakdown `json:"batches"`
	TotalCost           float64     `json:"total_cost"`
	TotalRevenue        float64     `json:"total_revenue"`
	Profit              float64     `json:"profit"`
	ProfitMargin        float64     `json:"profit_margin"`
	AverageCostPrice    float64     `json:"average_cost_price"`
	AverageSellingPrice float64     `json:"average_selling_price"`
	Reference           string      `json:"reference,omitempty"`
}

// SummaryEntry is one batch row inside a product summary.
type SummaryEntry struct {
	Batch
	BatchValue   float64 `json:"batch_value"`
	ProfitMargin float64 `json:"profit_margin"`
}

// PriceRange spans the active batches of a product.
type PriceRange struct {
	MinCostPrice    float64 `json:"min_cost_price"`
	MaxCostPrice    float64 `json:"max_cost_price"`
	MinSellingPrice float64 `json:"min_selling_price"`
	MaxSellingPrice float64 `json:"max_selling_price"`
}

// Summary describes a product's batch inventory in FIFO order.
type Summary struct {
	ProductID     int64          `json:"product_id"`
	ProductName   string         `json:"product_name"`
	Barcode       string         `json:"barcode"`
	TotalBatches  int            `json:"total_batches"`
	TotalQuantity int64          `json:"total_quantity"`
	PriceRange    PriceRange     `json:"price_range"`
	Batches       []SummaryEntry `json:"batches"`
}

// Valuation aggregates the worth of all active batches across products.
type Valuation struct {
	TotalProducts        int     `json:"total_products"`
	TotalBatches         int     `json:"total_batches"`
	TotalQuantity        int64   `json:"total_quantity"`
	TotalCostValue       float64 `json:"total_cost_value"`
	TotalSellingValue    float64 `json:"total_selling_value"`
	TotalPotentialProfit float64 `json:"total_potential_profit"`
}

// StatsBucket aggregates one expiry statistics bucket.
type StatsBucket struct {
	TotalBatches  int     `json:"total_batches"`
	TotalQuantity int64   `json:"total_quantity"`
	TotalValue    float64 `json:"total_value"`
}

// Domain errors.
var (
	ErrInvalidQuantity   = errors.New("batch: quantity must be positive")
	ErrInvalidPrice      = errors.New("batch: price must be non-negative")
	ErrInvalidDates      = errors.New("batch: expiry must follow manufacture")
	ErrBatchNotFound     = errors.New("batch: not found")
	ErrInsufficientStock = errors.New("batch: insufficient eligible stock")
	ErrExpiredBatch      = errors.New("batch: expired stock cannot be sold")
	ErrTerminalStatus    = errors.New("batch: status is terminal")
	ErrStale             = errors.New("batch: concurrent update lost, re-read required")
	ErrNumberTaken       = errors.New("batch: batch number already taken")
)
