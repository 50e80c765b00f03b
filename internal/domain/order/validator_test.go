package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/orderflow/internal/apperr"
	"github.com/xenking/orderflow/internal/domain/customer"
	"github.com/xenking/orderflow/internal/domain/product"
)

type stubStockReader map[string]int

func (s stubStockReader) Available(_ context.Context, id string) (int, error) {
	qty, ok := s[id]
	if !ok {
		return 0, apperr.NotFoundf("product", id)
	}
	return qty, nil
}

func newTestValidator(opts ...ValidatorOption) (*Validator, *mockDirectory, *mockCatalog) {
	customers := &mockDirectory{byID: map[string]*customer.Customer{
		"c1": {ID: "c1", FirstName: "Ada", LastName: "Lovelace", Active: true},
		"c2": {ID: "c2", Active: false},
	}}
	catalog := &mockCatalog{byID: map[string]*product.Product{
		"p1": {ID: "p1", Name: "Keyboard", Price: dec("49.99"), StockQuantity: 5},
		"p2": {ID: "p2", Name: "Mouse", Price: dec("19.95"), StockQuantity: 1},
	}}
	return NewValidator(customers, catalog, opts...), customers, catalog
}

func TestValidator_Rules(t *testing.T) {
	tests := []struct {
		name       string
		req        CreateRequest
		wantReason string
		wantMsg    string
	}{
		{
			name:       "customer not found",
			req:        request("missing", line("p1", 1, "49.99")),
			wantReason: apperr.ReasonCustomerNotFound,
		},
		{
			name:       "customer inactive",
			req:        request("c2", line("p1", 1, "49.99")),
			wantReason: apperr.ReasonCustomerInactive,
		},
		{
			name:       "no items",
			req:        request("c1"),
			wantReason: apperr.ReasonEmptyItems,
		},
		{
			name:       "zero quantity",
			req:        request("c1", line("p1", 0, "49.99")),
			wantReason: apperr.ReasonInvalidQuantity,
		},
		{
			name:       "negative unit price",
			req:        request("c1", line("p1", 1, "-1")),
			wantReason: apperr.ReasonInvalidUnitPrice,
		},
		{
			name:       "zero unit price",
			req:        request("c1", line("p1", 1, "0")),
			wantReason: apperr.ReasonInvalidUnitPrice,
		},
		{
			name: "unit price exponent out of range",
			req: CreateRequest{
				CustomerID:  "c1",
				TotalAmount: dec("1"),
				Items:       []ItemRequest{line("p1", 1, "1e100000000")},
			},
			wantReason: apperr.ReasonInvalidUnitPrice,
			wantMsg:    "item unit price is out of range for product p1",
		},
		{
			name:       "unit price too precise",
			req:        request("c1", line("p1", 1, "49.99001")),
			wantReason: apperr.ReasonInvalidUnitPrice,
		},
		{
			name:       "unknown product",
			req:        request("c1", line("nope", 1, "1.00")),
			wantReason: apperr.ReasonProductNotFound,
		},
		{
			name:       "second item insufficient",
			req:        request("c1", line("p1", 1, "49.99"), line("p2", 3, "19.95")),
			wantReason: apperr.ReasonInsufficientStock,
			wantMsg:    "insufficient stock for product Mouse: available 1, requested 3",
		},
		{
			name:       "duplicate lines are summed",
			req:        request("c1", line("p1", 3, "49.99"), line("p1", 3, "49.99")),
			wantReason: apperr.ReasonInsufficientStock,
			wantMsg:    "insufficient stock for product Keyboard: available 5, requested 6",
		},
		{
			name: "total exponent out of range",
			req: CreateRequest{
				CustomerID:  "c1",
				TotalAmount: dec("1e-100000000"),
				Items:       []ItemRequest{line("p1", 1, "49.99")},
			},
			wantReason: apperr.ReasonInvalidAmount,
		},
		{
			name: "total mismatch",
			req: CreateRequest{
				CustomerID:  "c1",
				TotalAmount: dec("99.97"),
				Items:       []ItemRequest{line("p1", 2, "49.99")},
			},
			wantReason: apperr.ReasonTotalMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _, _ := newTestValidator()

			err := v.Validate(context.Background(), tt.req)

			require.Error(t, err)
			assert.Equal(t, apperr.ValidationFailed, apperr.KindOf(err))
			assert.Equal(t, tt.wantReason, apperr.ReasonOf(err))
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, err.Error())
			}
		})
	}
}

func TestValidator_Valid(t *testing.T) {
	v, _, _ := newTestValidator()

	err := v.Validate(context.Background(), request("c1", line("p1", 5, "49.99"), line("p2", 1, "19.95")))

	require.NoError(t, err)
}

func TestValidator_TotalComparedExactly(t *testing.T) {
	v, _, _ := newTestValidator()
	req := CreateRequest{
		CustomerID:  "c1",
		TotalAmount: dec("0.30"),
		Items:       []ItemRequest{line("p1", 3, "0.1")},
	}

	require.NoError(t, v.Validate(context.Background(), req))

	req.TotalAmount = dec("0.3001")
	err := v.Validate(context.Background(), req)
	assert.Equal(t, apperr.ReasonTotalMismatch, apperr.ReasonOf(err))

	req.TotalAmount = dec("0.300000")
	require.NoError(t, v.Validate(context.Background(), req))
}

func TestValidator_StopsAtFirstViolation(t *testing.T) {
	v, _, catalog := newTestValidator()

	err := v.Validate(context.Background(), request("c2", line("p1", 0, "0")))

	assert.Equal(t, apperr.ReasonCustomerInactive, apperr.ReasonOf(err))
	assert.Zero(t, catalog.calls.Load())
}

func TestValidator_RemoteFailureIsUnavailable(t *testing.T) {
	t.Run("customer", func(t *testing.T) {
		v, customers, _ := newTestValidator()
		customers.err = apperr.Unavailable("customer-service", apperr.ReasonCircuitOpen, nil)

		err := v.Validate(context.Background(), request("c1", line("p1", 1, "49.99")))

		assert.Equal(t, apperr.ValidationFailed, apperr.KindOf(err))
		assert.Equal(t, apperr.ReasonValidationUnavailable, apperr.ReasonOf(err))
		assert.ErrorIs(t, err, &apperr.Error{Kind: apperr.ServiceUnavailable})
	})
	t.Run("product", func(t *testing.T) {
		v, _, catalog := newTestValidator()
		catalog.err = apperr.Unavailable("product-service", apperr.ReasonTimeout, context.DeadlineExceeded)

		err := v.Validate(context.Background(), request("c1", line("p1", 1, "49.99")))

		assert.Equal(t, apperr.ReasonValidationUnavailable, apperr.ReasonOf(err))
	})
	t.Run("caller cancelled", func(t *testing.T) {
		v, customers, _ := newTestValidator()
		customers.err = context.Canceled

		err := v.Validate(context.Background(), request("c1", line("p1", 1, "49.99")))

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, apperr.Internal, apperr.KindOf(err))
	})
}

func TestValidator_StockReaderOverridesSnapshot(t *testing.T) {
	v, _, _ := newTestValidator(WithStockReader(stubStockReader{"p1": 1, "p2": 100}))

	err := v.Validate(context.Background(), request("c1", line("p2", 50, "19.95")))
	require.NoError(t, err)

	err = v.Validate(context.Background(), request("c1", line("p1", 2, "49.99")))
	assert.Equal(t, apperr.ReasonInsufficientStock, apperr.ReasonOf(err))
}

func TestValidator_ValidateCancellation(t *testing.T) {
	v, _, _ := newTestValidator()

	for _, st := range Statuses {
		err := v.ValidateCancellation(&Order{ID: "o1", Status: st})
		if st == StatusPending {
			assert.NoError(t, err)
			continue
		}
		assert.Equal(t, apperr.ReasonNotCancellable, apperr.ReasonOf(err), st)
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		amount string
		want   bool
	}{
		{amount: "0", want: true},
		{amount: "49.99", want: true},
		{amount: "0.0001", want: true},
		{amount: "10.50000", want: true},
		{amount: "1e3", want: true},
		{amount: "12345678901234567890", want: true},
		{amount: "123456789012345678901", want: false},
		{amount: "0.00001", want: false},
		{amount: "1e21", want: false},
		{amount: "1e100000000", want: false},
		{amount: "1e-100000000", want: false},
		{amount: "0e100000000", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidAmount(dec(tt.amount)))
		})
	}
}
