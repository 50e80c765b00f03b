package gateway

import (
	"context"
	"fmt"

	"github.com/xenking/orderflow/internal/apperr"
)

// RemoteStock delegates stock mutations to the product catalog through the
// product breaker. Each mutation is attempted once: a retried request whose
// first attempt reached the catalog would apply twice.
type RemoteStock struct {
	products ProductAuthority
	exec     *Executor
	onChange func(ctx context.Context, productID string)
}

// RemoteStockOption configures RemoteStock.
type RemoteStockOption func(*RemoteStock)

// WithStockChange registers a hook run after every successful mutation.
func WithStockChange(fn func(ctx context.Context, productID string)) RemoteStockOption {
	return func(s *RemoteStock) {
		s.onChange = fn
	}
}

// RemoteStock returns the stock ledger backed by the product catalog.
func (g *Gateway) RemoteStock(opts ...RemoteStockOption) *RemoteStock {
	s := &RemoteStock{
		products: g.products,
		exec:     g.productExec.Once(),
		onChange: func(context.Context, string) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deduct removes qty units of productID. The returned quantity is -1 when
// the catalog does not report it.
func (s *RemoteStock) Deduct(ctx context.Context, productID string, qty int) (int, error) {
	return s.mutate(ctx, productID, qty, "deduct", s.products.DeductStock)
}

// Restore returns qty units of productID to stock.
func (s *RemoteStock) Restore(ctx context.Context, productID string, qty int) (int, error) {
	return s.mutate(ctx, productID, qty, "restore", s.products.RestoreStock)
}

func (s *RemoteStock) mutate(
	ctx context.Context,
	productID string,
	qty int,
	op string,
	call func(ctx context.Context, id string, qty int) (int, error),
) (int, error) {
	if qty <= 0 {
		return 0, apperr.Validation(apperr.ReasonInvalidQuantity,
			fmt.Sprintf("%s quantity must be greater than 0, got %d", op, qty))
	}
	left, err := Execute(ctx, s.exec, func(ctx context.Context) (int, error) {
		return call(ctx, productID, qty)
	}, stockFallback)
	if err != nil {
		return 0, err
	}
	s.onChange(ctx, productID)
	return left, nil
}
