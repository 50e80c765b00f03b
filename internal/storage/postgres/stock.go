package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/orderflow/internal/apperr"
	"github.com/xenking/orderflow/internal/stock"
)

const (
	getStockSQL = `SELECT quantity, version FROM product_stock WHERE product_id = $1`

	swapStockSQL = `UPDATE product_stock SET quantity = $3, version = version + 1, updated_at = now()
		WHERE product_id = $1 AND version = $2
		RETURNING quantity, version`

	upsertStockSQL = `INSERT INTO product_stock (product_id, quantity) VALUES ($1, $2)
		ON CONFLICT (product_id) DO UPDATE
		SET quantity = EXCLUDED.quantity, version = product_stock.version + 1, updated_at = now()`
)

var _ stock.Store = (*StockStore)(nil)

// StockStore implements stock.Store backed by PostgreSQL.
type StockStore struct {
	pool *pgxpool.Pool
}

// NewStockStore returns a StockStore that uses the given pool.
func NewStockStore(pool *pgxpool.Pool) *StockStore {
	return &StockStore{pool: pool}
}

// Get returns the stock level of productID.
func (s *StockStore) Get(ctx context.Context, productID string) (stock.Level, error) {
	var lvl stock.Level
	err := s.pool.QueryRow(ctx, getStockSQL, productID).Scan(&lvl.Quantity, &lvl.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stock.Level{}, apperr.NotFoundf("product", productID)
		}
		return stock.Level{}, fmt.Errorf("getting stock of %q: %w", productID, err)
	}
	return lvl, nil
}

// CompareAndSwap writes quantity when the stored version equals expected.
func (s *StockStore) CompareAndSwap(ctx context.Context, productID string, expected int64, quantity int) (stock.Level, error) {
	var lvl stock.Level
	err := s.pool.QueryRow(ctx, swapStockSQL, productID, expected, quantity).Scan(&lvl.Quantity, &lvl.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stock.Level{}, stock.ErrVersionConflict
		}
		return stock.Level{}, fmt.Errorf("updating stock of %q: %w", productID, err)
	}
	return lvl, nil
}

// Upsert sets the quantity of productID, creating the row if needed. It is
// used for seeding and bypasses the ledger.
func (s *StockStore) Upsert(ctx context.Context, productID string, quantity int) error {
	if _, err := s.pool.Exec(ctx, upsertStockSQL, productID, quantity); err != nil {
		return fmt.Errorf("upserting stock of %q: %w", productID, err)
	}
	return nil
}
