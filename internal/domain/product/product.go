package product

import (
	"context"

	"github.com/shopspring/decimal"
)

// Product is a snapshot of a catalog entry owned by the product authority.
type Product struct {
	ID            string
	SKU           string
	Name          string
	Description   string
	Price         decimal.Decimal
	StockQuantity int
	// Version increases on every stock write and is used for conflict detection.
	Version int64
}

// Catalog provides read access to the product authority.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
}
