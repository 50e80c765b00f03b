// Package gateway wraps calls to the remote customer directory and product
// catalog with per-target circuit breakers, timeouts, bounded retries and
// fallbacks. Callers only ever see a value or a classified error: a fallback
// always reports ServiceUnavailable, never an empty success.
package gateway

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/domain/customer"
	"github.com/xenking/orderflow/internal/domain/product"
)

// ProductAuthority is the full contract of the product catalog.
type ProductAuthority interface {
	product.Catalog
	DeductStock(ctx context.Context, id string, qty int) (int, error)
	RestoreStock(ctx context.Context, id string, qty int) (int, error)
}

// Config holds the resilience policy shared by all targets.
type Config struct {
	Breaker BreakerConfig
	Call    CallConfig
}

// Gateway is the resilient entry point to the remote authorities.
type Gateway struct {
	customers    customer.Directory
	products     ProductAuthority
	customerExec *Executor
	productExec  *Executor
}

var (
	_ customer.Directory = (*Gateway)(nil)
	_ product.Catalog    = (*Gateway)(nil)
)

// New creates a Gateway with one breaker per target. opts apply to both
// breakers.
func New(customers customer.Directory, products ProductAuthority, cfg Config, opts ...BreakerOption) *Gateway {
	return &Gateway{
		customers:    customers,
		products:     products,
		customerExec: NewExecutor(NewBreaker(CustomerService, cfg.Breaker, opts...), cfg.Call),
		productExec:  NewExecutor(NewBreaker(ProductService, cfg.Breaker, opts...), cfg.Call),
	}
}

// GetCustomer fetches a customer through the customer breaker.
func (g *Gateway) GetCustomer(ctx context.Context, id string) (*customer.Customer, error) {
	return Execute(ctx, g.customerExec, func(ctx context.Context) (*customer.Customer, error) {
		return g.customers.GetCustomer(ctx, id)
	}, customerFallback)
}

// GetProduct fetches a product through the product breaker.
func (g *Gateway) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	return Execute(ctx, g.productExec, func(ctx context.Context) (*product.Product, error) {
		return g.products.GetProduct(ctx, id)
	}, productFallback)
}

// CustomerBreaker returns the breaker guarding the customer directory.
func (g *Gateway) CustomerBreaker() *Breaker { return g.customerExec.Breaker() }

// ProductBreaker returns the breaker guarding the product catalog.
func (g *Gateway) ProductBreaker() *Breaker { return g.productExec.Breaker() }

// NewHTTPClient returns an HTTP client whose requests are traced and
// measured. Per-call deadlines come from the Executor.
func NewHTTPClient(tp trace.TracerProvider, mp metric.MeterProvider) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithTracerProvider(tp),
			otelhttp.WithMeterProvider(mp),
		),
	}
}

// TransitionRecorder returns a breaker hook that counts state changes in
// gateway.breaker.transitions and logs them.
func TransitionRecorder(mp metric.MeterProvider, lg *zap.Logger) (BreakerOption, error) {
	meter := mp.Meter("github.com/xenking/orderflow/internal/gateway")
	transitions, err := meter.Int64Counter("gateway.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create transitions counter")
	}
	return WithTransitionHook(func(name string, from, to State) {
		transitions.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("target", name),
			attribute.String("to", to.String()),
		))
		lg.Warn("Circuit breaker state changed",
			zap.String("target", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}), nil
}
