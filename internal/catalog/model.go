package catalog

import (
	"errors"
	"time"
)

// Product is the catalog aggregate. The batch engine owns the stock-related
// fields (current_stock, cost_price, selling_price): current_stock mirrors
// the sum of active batch quantities, and the price pair is a denormalized
// snapshot of the most recently received batch. Everything else belongs to
// the catalog.
type Product struct {
	ID           int64     `json:"id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	Barcode      string    `json:"barcode"`
	CurrentStock int64     `json:"current_stock"`
	CostPrice    float64   `json:"cost_price"`
	SellingPrice float64   `json:"selling_price"`
	MRP          float64   `json:"mrp"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ErrProductNotFound indicates a missing product row.
var ErrProductNotFound = errors.New("catalog: product not found")

// ErrDuplicateSKU indicates the SKU is already taken.
var ErrDuplicateSKU = errors.New("catalog: sku already exists")
