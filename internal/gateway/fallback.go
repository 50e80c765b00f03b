package gateway

import (
	"context"

	"github.com/xenking/orderflow/internal/domain/customer"
	"github.com/xenking/orderflow/internal/domain/product"
)

func customerFallback(_ context.Context, cause error) (*customer.Customer, error) {
	return nil, unavailable(CustomerService, cause)
}

func productFallback(_ context.Context, cause error) (*product.Product, error) {
	return nil, unavailable(ProductService, cause)
}

func stockFallback(_ context.Context, cause error) (int, error) {
	return 0, unavailable(ProductService, cause)
}
