package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/apperr"
	"github.com/xenking/orderflow/internal/domain/customer"
	"github.com/xenking/orderflow/internal/domain/product"
)

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	CustomerID  string
	Notes       string
	TotalAmount decimal.Decimal
	Items       []ItemRequest
}

// ItemRequest is a requested order line.
type ItemRequest struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// StockReader reports the stock currently available for a product.
type StockReader interface {
	Available(ctx context.Context, productID string) (int, error)
}

// Validator runs the ordered order checks. The first violated rule ends
// validation.
type Validator struct {
	customers customer.Directory
	products  product.Catalog
	stock     StockReader
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithStockReader makes the stock check read availability from r instead of
// the product snapshot.
func WithStockReader(r StockReader) ValidatorOption {
	return func(v *Validator) {
		v.stock = r
	}
}

// NewValidator creates a Validator backed by the remote authorities.
func NewValidator(customers customer.Directory, products product.Catalog, opts ...ValidatorOption) *Validator {
	v := &Validator{
		customers: customers,
		products:  products,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks, in order: the customer is active, there is at least one
// item, every item has a positive quantity and unit price, every product
// exists with enough stock, and the declared total equals the sum of the
// item subtotals.
//
// Violations are ValidationFailed errors. A remote failure during any check
// is reported as ValidationFailed with reason validation_unavailable.
func (v *Validator) Validate(ctx context.Context, req CreateRequest) error {
	lg := zctx.From(ctx).With(zap.String("customer_id", req.CustomerID))

	if err := v.checkCustomer(ctx, req.CustomerID); err != nil {
		lg.Info("Order rejected", zap.String("rule", "customer"), zap.Error(err))
		return err
	}
	if len(req.Items) == 0 {
		return apperr.Validation(apperr.ReasonEmptyItems, "order must contain at least one item")
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return apperr.Validation(apperr.ReasonInvalidQuantity,
				fmt.Sprintf("item quantity must be greater than zero for product %s", it.ProductID))
		}
		if !it.UnitPrice.IsPositive() {
			return apperr.Validation(apperr.ReasonInvalidUnitPrice,
				fmt.Sprintf("item unit price must be greater than zero for product %s", it.ProductID))
		}
		if !ValidAmount(it.UnitPrice) {
			return apperr.Validation(apperr.ReasonInvalidUnitPrice,
				fmt.Sprintf("item unit price is out of range for product %s", it.ProductID))
		}
	}
	if err := v.checkStock(ctx, req.Items); err != nil {
		lg.Info("Order rejected", zap.String("rule", "stock"), zap.Error(err))
		return err
	}

	if !ValidAmount(req.TotalAmount) {
		return apperr.Validation(apperr.ReasonInvalidAmount, "order total amount is out of range")
	}
	sum := decimal.Zero
	for _, it := range req.Items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if !req.TotalAmount.Equal(sum) {
		return apperr.Validation(apperr.ReasonTotalMismatch,
			fmt.Sprintf("order total amount %s does not match sum of items %s", req.TotalAmount, sum))
	}
	return nil
}

// ValidateCancellation requires the order to be PENDING.
func (v *Validator) ValidateCancellation(o *Order) error {
	if o.Status != StatusPending {
		return apperr.Validation(apperr.ReasonNotCancellable,
			fmt.Sprintf("only PENDING orders can be cancelled, order %s is %s", o.ID, o.Status))
	}
	return nil
}

func (v *Validator) checkCustomer(ctx context.Context, id string) error {
	c, err := v.customers.GetCustomer(ctx, id)
	switch {
	case apperr.IsKind(err, apperr.NotFound):
		return &apperr.Error{
			Kind:   apperr.ValidationFailed,
			Reason: apperr.ReasonCustomerNotFound,
			Msg:    fmt.Sprintf("customer %s not found", id),
			Err:    err,
		}
	case err != nil:
		return validationUnavailable("customer", err)
	case c == nil || !c.Active:
		return apperr.Validation(apperr.ReasonCustomerInactive, "customer account is not active")
	}
	return nil
}

// checkStock checks each distinct product once against the total quantity
// requested for it across all lines.
func (v *Validator) checkStock(ctx context.Context, items []ItemRequest) error {
	requested := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := requested[it.ProductID]; !ok {
			order = append(order, it.ProductID)
		}
		requested[it.ProductID] += it.Quantity
	}

	for _, id := range order {
		p, err := v.products.GetProduct(ctx, id)
		if err != nil {
			return productError(id, err)
		}
		available := p.StockQuantity
		if v.stock != nil {
			if available, err = v.stock.Available(ctx, id); err != nil {
				return productError(id, err)
			}
		}
		if available < requested[id] {
			name := p.Name
			if name == "" {
				name = id
			}
			return apperr.Validation(apperr.ReasonInsufficientStock,
				fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
					name, available, requested[id]))
		}
	}
	return nil
}

func productError(id string, err error) error {
	if apperr.IsKind(err, apperr.NotFound) {
		return &apperr.Error{
			Kind:   apperr.ValidationFailed,
			Reason: apperr.ReasonProductNotFound,
			Msg:    fmt.Sprintf("product %s not found", id),
			Err:    err,
		}
	}
	return validationUnavailable("product", err)
}

// validationUnavailable fails closed on any lookup failure. Caller
// cancellation is passed through unchanged.
func validationUnavailable(what string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &apperr.Error{
		Kind:   apperr.ValidationFailed,
		Reason: apperr.ReasonValidationUnavailable,
		Msg:    "validation unavailable: failed to validate " + what,
		Err:    err,
	}
}
