package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/orderflow/internal/apperr"
	"github.com/xenking/orderflow/internal/cache"
	"github.com/xenking/orderflow/internal/domain/customer"
	"github.com/xenking/orderflow/internal/domain/product"
)

// Placeholders used when a display name cannot be resolved.
const (
	CustomerInfoUnavailable = "Customer info unavailable"
	ProductInfoUnavailable  = "Product info unavailable"
)

// Confirmation is returned for a successfully created order.
type Confirmation struct {
	OrderID            string
	CustomerID         string
	CustomerName       string
	OrderDate          time.Time
	Status             Status
	TotalAmount        decimal.Decimal
	TotalItems         int
	ConfirmationNumber string
}

// View is an order enriched with display names.
type View struct {
	Order
	CustomerName string
	Lines        []ItemView
}

// ItemView is an order line enriched with the product name.
type ItemView struct {
	Item
	ProductName string
	Subtotal    decimal.Decimal
}

// Service drives order creation and cancellation.
//
// Creation persists the order as PENDING and then deducts stock item by item.
// When a deduction fails, every item already deducted is restored in reverse
// order and the order is marked FAILED before the error is returned.
type Service struct {
	orders    Repository
	validator *Validator
	stock     StockLedger
	customers customer.Directory
	products  product.Catalog

	events     Publisher
	orderCache *cache.Store[*Order]
	listCache  *cache.Store[[]Order]
	now        func() time.Time
	enrichConc int
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.events = p
	}
}

// WithCaches sets the order and per-customer list caches.
func WithCaches(orders *cache.Store[*Order], lists *cache.Store[[]Order]) Option {
	return func(s *Service) {
		s.orderCache = orders
		s.listCache = lists
	}
}

// WithClock overrides the time source for order dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	orders Repository,
	validator *Validator,
	stock StockLedger,
	customers customer.Directory,
	products product.Catalog,
	opts ...Option,
) *Service {
	s := &Service{
		orders:     orders,
		validator:  validator,
		stock:      stock,
		customers:  customers,
		products:   products,
		events:     nopPublisher{},
		now:        time.Now,
		enrichConc: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.orderCache == nil {
		s.orderCache = cache.New[*Order](cache.Config{Size: 1024, TTL: 5 * time.Minute})
	}
	if s.listCache == nil {
		s.listCache = cache.New[[]Order](cache.Config{Size: 256, TTL: 5 * time.Minute})
	}
	return s
}

// Create validates the request, persists the order as PENDING, deducts
// stock for every item and returns a confirmation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Confirmation, error) {
	lg := zctx.From(ctx).With(zap.String("customer_id", req.CustomerID))

	if err := s.validator.Validate(ctx, req); err != nil {
		return nil, err
	}

	items := make([]Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = Item{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}
	o := &Order{
		ID:          uuid.NewString(),
		CustomerID:  req.CustomerID,
		OrderDate:   s.now().UTC(),
		Status:      StatusPending,
		TotalAmount: SumSubtotals(items),
		Notes:       req.Notes,
		Items:       items,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	s.invalidate(o)
	lg = lg.With(zap.String("order_id", o.ID))

	for i, it := range o.Items {
		if _, err := s.stock.Deduct(ctx, it.ProductID, it.Quantity); err != nil {
			if outcomeUnknown(err) {
				// The authority may have applied this deduction. It is not
				// restored and is left for stock reconciliation.
				lg.Error("Stock deduction outcome unknown",
					zap.String("product_id", it.ProductID),
					zap.Int("quantity", it.Quantity),
					zap.Error(err),
				)
			}
			lg.Warn("Stock deduction failed, compensating",
				zap.String("product_id", it.ProductID),
				zap.Int("deducted_items", i),
				zap.Error(err),
			)
			return nil, s.compensate(ctx, o, o.Items[:i], err)
		}
	}

	s.publish(ctx, EventCreated, o)
	c := s.confirm(ctx, o)
	lg.Info("Order created",
		zap.String("confirmation", c.ConfirmationNumber),
		zap.Stringer("total", o.TotalAmount),
	)
	return c, nil
}

// compensate restores deducted items in reverse order and marks the order
// FAILED. It returns cause combined with any compensation failure.
func (s *Service) compensate(ctx context.Context, o *Order, deducted []Item, cause error) error {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	// Compensation must finish even if the caller has gone away.
	ctx = context.WithoutCancel(ctx)

	var errs error
	for i := len(deducted) - 1; i >= 0; i-- {
		it := deducted[i]
		if _, err := s.stock.Restore(ctx, it.ProductID, it.Quantity); err != nil {
			errs = multierr.Append(errs,
				errors.Wrapf(err, "restore %d of product %s", it.Quantity, it.ProductID))
		}
	}
	if err := s.orders.UpdateStatus(ctx, o.ID, StatusPending, StatusFailed); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "mark order failed"))
	} else {
		o.Status = StatusFailed
	}
	s.invalidate(o)
	s.publish(ctx, EventFailed, o)

	if errs != nil {
		lg.Error("Compensation incomplete", zap.Error(errs))
		return multierr.Combine(cause, errs)
	}
	lg.Info("Compensation finished", zap.Int("restored_items", len(deducted)))
	return cause
}

// Cancel restores stock for every item of a PENDING order and marks it
// CANCELLED. On failure the order and stock are left as they were.
func (s *Service) Cancel(ctx context.Context, id string) error {
	lg := zctx.From(ctx).With(zap.String("order_id", id))

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.validator.ValidateCancellation(o); err != nil {
		return err
	}

	for i, it := range o.Items {
		if _, err := s.stock.Restore(ctx, it.ProductID, it.Quantity); err != nil {
			err = errors.Wrapf(err, "restore %d of product %s", it.Quantity, it.ProductID)
			lg.Warn("Cancellation aborted", zap.Error(err))
			return multierr.Combine(err, s.rededuct(ctx, id, o.Items[:i]))
		}
	}

	if err := s.orders.UpdateStatus(ctx, id, StatusPending, StatusCancelled); err != nil {
		rollback := s.rededuct(ctx, id, o.Items)
		s.invalidate(o)
		if errors.Is(err, ErrStatusChanged) {
			return multierr.Combine(
				apperr.Validation(apperr.ReasonNotCancellable,
					"only PENDING orders can be cancelled, order "+id+" changed concurrently"),
				rollback,
			)
		}
		return multierr.Combine(errors.Wrap(err, "mark order cancelled"), rollback)
	}
	o.Status = StatusCancelled
	s.invalidate(o)
	s.publish(ctx, EventCancelled, o)
	lg.Info("Order cancelled", zap.Int("restored_items", len(o.Items)))
	return nil
}

// rededuct undoes restores made by an aborted cancellation. When a
// re-deduction fails the restored units stay in stock; the failure is logged
// with the order id for reconciliation.
func (s *Service) rededuct(ctx context.Context, orderID string, restored []Item) error {
	ctx = context.WithoutCancel(ctx)
	var errs error
	for i := len(restored) - 1; i >= 0; i-- {
		it := restored[i]
		if _, err := s.stock.Deduct(ctx, it.ProductID, it.Quantity); err != nil {
			errs = multierr.Append(errs,
				errors.Wrapf(err, "re-deduct %d of product %s", it.Quantity, it.ProductID))
		}
	}
	if errs != nil {
		zctx.From(ctx).Error("Cancellation rollback incomplete",
			zap.String("order_id", orderID),
			zap.Error(errs),
		)
	}
	return errs
}

// Get returns an order. The result is shared with the cache and must not be
// modified.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orderCache.GetOrLoad(ctx, cache.OrderKey(id), func(ctx context.Context) (*Order, error) {
		return s.orders.Get(ctx, id)
	})
}

// ListByCustomer returns the orders of a customer, newest first.
func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	return s.listCache.GetOrLoad(ctx, cache.CustomerOrdersKey(customerID), func(ctx context.Context) ([]Order, error) {
		return s.orders.ListByCustomer(ctx, customerID)
	})
}

// ListByDateRange returns orders placed between from and to inclusive.
func (s *Service) ListByDateRange(ctx context.Context, from, to time.Time) ([]Order, error) {
	if to.Before(from) {
		return nil, apperr.Validation(apperr.ReasonBadRequest, "range end is before range start")
	}
	return s.orders.ListByDateRange(ctx, from, to)
}

// View returns an order with the customer and product names resolved.
// Names that cannot be resolved are replaced by placeholders.
func (s *Service) View(ctx context.Context, id string) (*View, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Enrich(ctx, o), nil
}

// Enrich resolves display names for o concurrently.
func (s *Service) Enrich(ctx context.Context, o *Order) *View {
	v := &View{
		Order: *o,
		Lines: make([]ItemView, len(o.Items)),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.enrichConc)

	g.Go(func() error {
		v.CustomerName = s.customerName(gctx, o.CustomerID)
		return nil
	})
	for i, it := range o.Items {
		g.Go(func() error {
			name := ProductInfoUnavailable
			if p, err := s.products.GetProduct(gctx, it.ProductID); err == nil {
				name = p.Name
			}
			v.Lines[i] = ItemView{Item: it, ProductName: name, Subtotal: it.Subtotal()}
			return nil
		})
	}
	_ = g.Wait()
	return v
}

func (s *Service) confirm(ctx context.Context, o *Order) *Confirmation {
	return &Confirmation{
		OrderID:            o.ID,
		CustomerID:         o.CustomerID,
		CustomerName:       s.customerName(ctx, o.CustomerID),
		OrderDate:          o.OrderDate,
		Status:             o.Status,
		TotalAmount:        o.TotalAmount,
		TotalItems:         len(o.Items),
		ConfirmationNumber: NewConfirmationNumber(),
	}
}

func (s *Service) customerName(ctx context.Context, id string) string {
	c, err := s.customers.GetCustomer(ctx, id)
	if err != nil || c == nil {
		zctx.From(ctx).Debug("Customer name unavailable", zap.String("customer_id", id), zap.Error(err))
		return CustomerInfoUnavailable
	}
	return c.FullName()
}

func (s *Service) invalidate(o *Order) {
	keys := cache.OrderWriteKeys(o.ID, o.CustomerID)
	s.orderCache.Invalidate(keys...)
	s.listCache.Invalidate(keys...)
}

func (s *Service) publish(ctx context.Context, t EventType, o *Order) {
	e := Event{
		Type:        t,
		OrderID:     o.ID,
		CustomerID:  o.CustomerID,
		Status:      o.Status,
		TotalAmount: o.TotalAmount,
		OccurredAt:  s.now().UTC(),
	}
	if err := s.events.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish order event",
			zap.String("order_id", o.ID),
			zap.String("event", string(t)),
			zap.Error(err),
		)
	}
}

// NewConfirmationNumber returns "ORD-" followed by eight upper-case hex
// characters.
func NewConfirmationNumber() string {
	return "ORD-" + strings.ToUpper(uuid.NewString()[:8])
}

// outcomeUnknown reports whether a failed stock call may still have been
// applied by the remote authority.
func outcomeUnknown(err error) bool {
	return apperr.KindOf(err) == apperr.ServiceUnavailable && apperr.ReasonOf(err) == apperr.ReasonTimeout
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
