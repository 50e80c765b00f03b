package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/orderflow/internal/apperr"
	"github.com/xenking/orderflow/internal/domain/order"
)

// --- Mock implementations ---

type mockOrderService struct {
	created   order.CreateRequest
	createErr error
	cancelled string
	cancelErr error
	view      *order.View
	viewErr   error
	orders    []order.Order
	listErr   error
	from, to  time.Time
	customer  string
}

func (m *mockOrderService) Create(_ context.Context, req order.CreateRequest) (*order.Confirmation, error) {
	m.created = req
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &order.Confirmation{
		OrderID:            "o-1",
		CustomerID:         req.CustomerID,
		CustomerName:       "Ada Lovelace",
		OrderDate:          time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Status:             order.StatusPending,
		TotalAmount:        req.TotalAmount,
		TotalItems:         len(req.Items),
		ConfirmationNumber: "ORD-ABCDEF12",
	}, nil
}

func (m *mockOrderService) Cancel(_ context.Context, id string) error {
	m.cancelled = id
	return m.cancelErr
}

func (m *mockOrderService) View(_ context.Context, _ string) (*order.View, error) {
	return m.view, m.viewErr
}

func (m *mockOrderService) ListByCustomer(_ context.Context, customerID string) ([]order.Order, error) {
	m.customer = customerID
	return m.orders, m.listErr
}

func (m *mockOrderService) ListByDateRange(_ context.Context, from, to time.Time) ([]order.Order, error) {
	m.from, m.to = from, to
	return m.orders, m.listErr
}

func (m *mockOrderService) Enrich(_ context.Context, o *order.Order) *order.View {
	v := &order.View{Order: *o, CustomerName: "Ada Lovelace"}
	for _, it := range o.Items {
		v.Lines = append(v.Lines, order.ItemView{Item: it, ProductName: "Keyboard", Subtotal: it.Subtotal()})
	}
	return v
}

// --- Helpers ---

func do(t *testing.T, svc *mockOrderService, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	NewHandler(svc).Routes().ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func sampleOrder() order.Order {
	return order.Order{
		ID:          "o-1",
		CustomerID:  "c1",
		OrderDate:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Status:      order.StatusPending,
		TotalAmount: decimal.RequireFromString("99.98"),
		Items: []order.Item{
			{ID: 1, ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("49.99")},
		},
	}
}

const validOrder = `{
	"customerId": "c1",
	"notes": "leave at door",
	"totalAmount": 100.08,
	"items": [
		{"productId": "p1", "quantity": 2, "unitPrice": 49.99},
		{"productId": "p2", "quantity": 1, "unitPrice": "0.10"}
	]
}`

// --- Tests ---

func TestCreateOrder(t *testing.T) {
	svc := &mockOrderService{}
	w, body := do(t, svc, http.MethodPost, "/orders", validOrder)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "/api/orders/o-1", w.Header().Get("Location"))
	assert.Equal(t, "o-1", body["orderId"])
	assert.Equal(t, "ORD-ABCDEF12", body["confirmationNumber"])
	assert.Equal(t, "PENDING", body["status"])
	assert.Equal(t, float64(2), body["totalItems"])
	assert.Contains(t, w.Body.String(), `"totalAmount":100.08`)

	req := svc.created
	assert.Equal(t, "c1", req.CustomerID)
	assert.Equal(t, "leave at door", req.Notes)
	assert.True(t, decimal.RequireFromString("100.08").Equal(req.TotalAmount))
	require.Len(t, req.Items, 2)
	assert.Equal(t, 2, req.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("0.10").Equal(req.Items[1].UnitPrice))
}

func TestCreateOrder_NumericCustomerID(t *testing.T) {
	svc := &mockOrderService{}
	w, _ := do(t, svc, http.MethodPost, "/orders",
		`{"customerId": 42, "totalAmount": 1, "items": [{"productId": 7, "quantity": 1, "unitPrice": 1}]}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "42", svc.created.CustomerID)
	assert.Equal(t, "7", svc.created.Items[0].ProductID)
}

func TestCreateOrder_DomainRulesReachService(t *testing.T) {
	// Empty items and zero quantities are business rules, not transport errors.
	svc := &mockOrderService{createErr: apperr.Validation(apperr.ReasonEmptyItems, "order must contain at least one item")}
	w, body := do(t, svc, http.MethodPost, "/orders", `{"customerId": "c1", "totalAmount": 0, "items": []}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "empty_items", body["reason"])
	assert.Equal(t, "order must contain at least one item", body["message"])
}

func TestCreateOrder_BadRequests(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{name: "malformed json", body: `{"customerId":`, message: "malformed order"},
		{name: "missing customer", body: `{"totalAmount": 1, "items": []}`, message: "customerId failed required"},
		{name: "missing total", body: `{"customerId": "c1", "items": []}`, message: "totalAmount failed required"},
		{name: "missing product id", body: `{"customerId": "c1", "totalAmount": 1, "items": [{"quantity": 1, "unitPrice": 1}]}`, message: "items[0].productId failed required"},
		{name: "missing unit price", body: `{"customerId": "c1", "totalAmount": 1, "items": [{"productId": "p1", "quantity": 1}]}`, message: "items[0].unitPrice failed required"},
		{name: "invalid decimal", body: `{"customerId": "c1", "totalAmount": "abc", "items": []}`, message: "totalAmount is not a valid decimal"},
		{name: "huge exponent price", body: `{"customerId": "c1", "totalAmount": 1, "items": [{"productId": "p1", "quantity": 1, "unitPrice": 1e100000000}]}`, message: "unitPrice must have at most 4 decimal places and 20 integer digits"},
		{name: "huge exponent total", body: `{"customerId": "c1", "totalAmount": "1E+100000000", "items": []}`, message: "totalAmount must have at most 4 decimal places"},
		{name: "tiny exponent total", body: `{"customerId": "c1", "totalAmount": "1e-100000000", "items": []}`, message: "totalAmount must have at most 4 decimal places"},
		{name: "too many decimals", body: `{"customerId": "c1", "totalAmount": "10.00001", "items": []}`, message: "totalAmount must have at most 4 decimal places"},
		{name: "too many integer digits", body: `{"customerId": "c1", "totalAmount": "123456789012345678901", "items": []}`, message: "totalAmount must have at most 4 decimal places and 20 integer digits"},
		{name: "overlong amount", body: `{"customerId": "c1", "totalAmount": "0.` + strings.Repeat("0", 80) + `", "items": []}`, message: "totalAmount is too long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockOrderService{}
			w, body := do(t, svc, http.MethodPost, "/orders", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "bad_request", body["reason"])
			assert.Contains(t, body["message"], tt.message)
			assert.Empty(t, svc.created.CustomerID, "service must not be called")
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{name: "not found", err: apperr.NotFoundf("order", "o-9"), status: http.StatusNotFound, reason: "order_not_found"},
		{name: "validation", err: apperr.Validation(apperr.ReasonNotCancellable, "only PENDING orders can be cancelled"), status: http.StatusBadRequest, reason: "not_cancellable"},
		{name: "stock", err: apperr.Insufficient("p1", 1, 2), status: http.StatusConflict, reason: "insufficient_stock"},
		{name: "conflict", err: apperr.Conflict("p1", apperr.ReasonLockContention, nil), status: http.StatusConflict, reason: "lock_contention"},
		{name: "unavailable", err: apperr.Unavailable("product-service", apperr.ReasonCircuitOpen, nil), status: http.StatusServiceUnavailable, reason: "circuit_open"},
		{name: "wrapped", err: errors.Wrap(apperr.Insufficient("p1", 0, 1), "deduct"), status: http.StatusConflict, reason: "insufficient_stock"},
		{name: "internal", err: errors.New("db exploded"), status: http.StatusInternalServerError, reason: "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := do(t, &mockOrderService{cancelErr: tt.err}, http.MethodPost, "/orders/o-9/cancel", "")

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.reason, body["reason"])
			assert.Equal(t, float64(tt.status), body["code"])
			assert.NotContains(t, body["message"], "db exploded")
		})
	}
}

func TestCancelOrder(t *testing.T) {
	svc := &mockOrderService{}
	w, _ := do(t, svc, http.MethodPost, "/orders/o-7/cancel", "")

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "o-7", svc.cancelled)
}

func TestGetOrder(t *testing.T) {
	o := sampleOrder()
	svc := &mockOrderService{}
	svc.view = svc.Enrich(context.Background(), &o)

	w, body := do(t, svc, http.MethodGet, "/orders/o-1", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "o-1", body["id"])
	assert.Equal(t, "Ada Lovelace", body["customerName"])
	assert.Equal(t, "2024-05-01T10:00:00Z", body["orderDate"])
	assert.Contains(t, w.Body.String(), `"totalAmount":99.98`)
	items, ok := body["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	line := items[0].(map[string]any)
	assert.Equal(t, "Keyboard", line["productName"])
	assert.Equal(t, 99.98, line["subtotal"])
}

func TestGetOrder_NotFound(t *testing.T) {
	w, body := do(t, &mockOrderService{viewErr: apperr.NotFoundf("order", "nope")}, http.MethodGet, "/orders/nope", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "order nope not found", body["message"])
}

func TestOrdersByCustomer(t *testing.T) {
	svc := &mockOrderService{orders: []order.Order{sampleOrder(), sampleOrder()}}
	w, _ := do(t, svc, http.MethodGet, "/orders/customer/c1", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c1", svc.customer)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestOrdersByCustomer_Empty(t *testing.T) {
	w, _ := do(t, &mockOrderService{}, http.MethodGet, "/orders/customer/c1", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestOrdersByDateRange(t *testing.T) {
	svc := &mockOrderService{orders: []order.Order{sampleOrder()}}
	w, _ := do(t, svc, http.MethodGet,
		"/orders/date-range?startDate=2024-05-01T00:00:00&endDate=2024-05-02T00:00:00%2B02:00", "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), svc.from)
	assert.Equal(t, time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC), svc.to)
}

func TestOrdersByDateRange_BadQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		message string
	}{
		{name: "missing end", query: "startDate=2024-05-01T00:00:00", message: "endDate failed required"},
		{name: "bad start", query: "startDate=yesterday&endDate=2024-05-01T00:00:00", message: "startDate must be an ISO-8601 date-time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := do(t, &mockOrderService{}, http.MethodGet, "/orders/date-range?"+tt.query, "")

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, body["message"], tt.message)
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	w, body := do(t, &mockOrderService{}, http.MethodGet, "/customers", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "route_not_found", body["reason"])
}
