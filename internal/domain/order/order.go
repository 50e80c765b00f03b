package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrStatusChanged reports a status transition lost to a concurrent one.
var ErrStatusChanged = errors.New("order status changed concurrently")

// Status is the lifecycle state of an order.
type Status string

// Only StatusPending and StatusCancelled/StatusFailed are entered by this
// service. The other values belong to fulfillment and are preserved as is.
const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusFailed     Status = "FAILED"
)

// Statuses lists every valid status.
var Statuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusProcessing,
	StatusCompleted,
	StatusCancelled,
	StatusFailed,
}

func (s Status) String() string { return string(s) }

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// ParseStatus parses a status name, ignoring case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", errors.Errorf("unknown order status %q", s)
	}
	return st, nil
}

// Order is a customer order with its line items.
type Order struct {
	ID          string
	CustomerID  string
	OrderDate   time.Time
	Status      Status
	TotalAmount decimal.Decimal
	Notes       string
	Items       []Item
}

// Item is a single line of an order. Items never change after the order is
// persisted.
type Item struct {
	ID        int64
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Subtotal returns UnitPrice × Quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// SumSubtotals returns the exact sum of the item subtotals.
func SumSubtotals(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// Bounds of a money amount.
const (
	MaxAmountScale         = 4
	MaxAmountIntegerDigits = 20
)

// ValidAmount reports whether d has at most MaxAmountScale fractional digits
// and MaxAmountIntegerDigits integer digits. The exponent is checked before
// any rescaling arithmetic.
func ValidAmount(d decimal.Decimal) bool {
	exp := int(d.Exponent())
	if exp > MaxAmountIntegerDigits || exp < -(MaxAmountScale+MaxAmountIntegerDigits) {
		return false
	}
	digits := d.NumDigits()
	if digits > MaxAmountScale+2*MaxAmountIntegerDigits || digits+exp > MaxAmountIntegerDigits {
		return false
	}
	if exp < -MaxAmountScale && !d.Equal(d.Truncate(MaxAmountScale)) {
		return false
	}
	return true
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores the order and its items atomically and assigns item IDs.
	Create(ctx context.Context, o *Order) error
	// Get returns the order or an apperr NotFound error.
	Get(ctx context.Context, id string) (*Order, error)
	// UpdateStatus moves an order from one status to another. It returns
	// ErrStatusChanged when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to Status) error
	ListByCustomer(ctx context.Context, customerID string) ([]Order, error)
	// ListByDateRange returns orders with from <= OrderDate <= to.
	ListByDateRange(ctx context.Context, from, to time.Time) ([]Order, error)
}

// StockLedger deducts and restores product stock.
type StockLedger interface {
	Deduct(ctx context.Context, productID string, qty int) (int, error)
	Restore(ctx context.Context, productID string, qty int) (int, error)
}

// EventType names an order lifecycle event.
type EventType string

const (
	EventCreated   EventType = "order.created"
	EventCancelled EventType = "order.cancelled"
	EventFailed    EventType = "order.failed"
)

// Event is an order lifecycle notification.
type Event struct {
	Type        EventType
	OrderID     string
	CustomerID  string
	Status      Status
	TotalAmount decimal.Decimal
	OccurredAt  time.Time
}

// Publisher delivers order events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
