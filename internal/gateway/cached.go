package gateway

import (
	"context"

	"github.com/xenking/orderflow/internal/cache"
	"github.com/xenking/orderflow/internal/domain/customer"
	"github.com/xenking/orderflow/internal/domain/product"
)

// CachedDirectory serves customer lookups through a read-through cache.
type CachedDirectory struct {
	next  customer.Directory
	store *cache.Store[*customer.Customer]
}

var _ customer.Directory = (*CachedDirectory)(nil)

// NewCachedDirectory wraps next with store.
func NewCachedDirectory(next customer.Directory, store *cache.Store[*customer.Customer]) *CachedDirectory {
	return &CachedDirectory{next: next, store: store}
}

// GetCustomer returns the cached customer or fetches it from next.
func (d *CachedDirectory) GetCustomer(ctx context.Context, id string) (*customer.Customer, error) {
	return d.store.GetOrLoad(ctx, cache.CustomerKey(id), func(ctx context.Context) (*customer.Customer, error) {
		return d.next.GetCustomer(ctx, id)
	})
}

// Invalidate drops every cached entry a change to customer id can affect.
func (d *CachedDirectory) Invalidate(id string) {
	d.store.Invalidate(cache.CustomerWriteKeys(id)...)
	d.store.InvalidatePrefix(cache.CustomerSearchPrefix)
}

// CachedCatalog serves product lookups through a read-through cache.
type CachedCatalog struct {
	next  product.Catalog
	store *cache.Store[*product.Product]
}

var _ product.Catalog = (*CachedCatalog)(nil)

// NewCachedCatalog wraps next with store.
func NewCachedCatalog(next product.Catalog, store *cache.Store[*product.Product]) *CachedCatalog {
	return &CachedCatalog{next: next, store: store}
}

// GetProduct returns the cached product or fetches it from next.
func (c *CachedCatalog) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	return c.store.GetOrLoad(ctx, cache.ProductKey(id), func(ctx context.Context) (*product.Product, error) {
		return c.next.GetProduct(ctx, id)
	})
}

// Invalidate drops every cached entry a stock or catalog change to product
// id can affect. Its signature matches the stock change hooks.
func (c *CachedCatalog) Invalidate(_ context.Context, id string) {
	c.store.Invalidate(cache.ProductWriteKeys(id)...)
}
