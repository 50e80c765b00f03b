package order

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/orderflow/internal/apperr"
	"github.com/xenking/orderflow/internal/domain/customer"
	"github.com/xenking/orderflow/internal/domain/product"
	"github.com/xenking/orderflow/internal/stock"
)

// --- Mock implementations ---

type mockDirectory struct {
	byID map[string]*customer.Customer
	err  error
}

func (m *mockDirectory) GetCustomer(_ context.Context, id string) (*customer.Customer, error) {
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFoundf("customer", id)
	}
	return c, nil
}

type mockCatalog struct {
	byID  map[string]*product.Product
	err   error
	calls atomic.Int32
}

func (m *mockCatalog) GetProduct(_ context.Context, id string) (*product.Product, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFoundf("product", id)
	}
	return p, nil
}

type mockOrderRepo struct {
	mu        sync.Mutex
	byID      map[string]Order
	createErr error
	updateErr error
	gets      atomic.Int32
	lists     atomic.Int32
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{byID: make(map[string]Order)}
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for i := range o.Items {
		o.Items[i].ID = int64(i + 1)
	}
	cp := *o
	cp.Items = slices.Clone(o.Items)
	m.byID[o.ID] = cp
	return nil
}

func (m *mockOrderRepo) Get(_ context.Context, id string) (*Order, error) {
	m.gets.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFoundf("order", id)
	}
	o.Items = slices.Clone(o.Items)
	return &o, nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	o, ok := m.byID[id]
	if !ok {
		return apperr.NotFoundf("order", id)
	}
	if o.Status != from {
		return ErrStatusChanged
	}
	o.Status = to
	m.byID[id] = o
	return nil
}

func (m *mockOrderRepo) ListByCustomer(_ context.Context, customerID string) ([]Order, error) {
	m.lists.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.byID {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) ListByDateRange(_ context.Context, from, to time.Time) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.byID {
		if !o.OrderDate.Before(from) && !o.OrderDate.After(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) status(id string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].Status
}

func (m *mockOrderRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// faultyLedger injects failures into a real ledger per product.
type faultyLedger struct {
	StockLedger
	deductErr  map[string]error
	restoreErr map[string]error
}

func (f *faultyLedger) Deduct(ctx context.Context, id string, qty int) (int, error) {
	if err := f.deductErr[id]; err != nil {
		return 0, err
	}
	return f.StockLedger.Deduct(ctx, id, qty)
}

func (f *faultyLedger) Restore(ctx context.Context, id string, qty int) (int, error) {
	if err := f.restoreErr[id]; err != nil {
		return 0, err
	}
	return f.StockLedger.Restore(ctx, id, qty)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// --- Helpers ---

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	customers *mockDirectory
	catalog   *mockCatalog
	repo      *mockOrderRepo
	store     *stock.MemoryStore
	ledger    *faultyLedger
	events    *recordingPublisher
	svc       *Service
}

func newFixture() *fixture {
	f := &fixture{
		customers: &mockDirectory{byID: map[string]*customer.Customer{
			"c1": {ID: "c1", FirstName: "Ada", LastName: "Lovelace", Active: true},
			"c2": {ID: "c2", FirstName: "Old", LastName: "Account", Active: false},
		}},
		catalog: &mockCatalog{byID: map[string]*product.Product{
			"p1": {ID: "p1", Name: "Keyboard", Price: dec("49.99")},
			"p2": {ID: "p2", Name: "Mouse", Price: dec("19.95")},
			"p3": {ID: "p3", Name: "Monitor", Price: dec("199.00")},
		}},
		repo:   newMockOrderRepo(),
		store:  stock.NewMemoryStore(),
		events: &recordingPublisher{},
	}
	f.store.Set("p1", 5)
	f.store.Set("p2", 10)
	f.store.Set("p3", 2)

	ledger := stock.NewLedger(f.store, stock.NewKeyedMutex(time.Second), stock.Config{
		Attempts:       3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	f.ledger = &faultyLedger{
		StockLedger: ledger,
		deductErr:   map[string]error{},
		restoreErr:  map[string]error{},
	}
	validator := NewValidator(f.customers, f.catalog, WithStockReader(ledger))
	f.svc = NewService(f.repo, validator, f.ledger, f.customers, f.catalog, WithPublisher(f.events))
	return f
}

func (f *fixture) level(id string) int {
	lvl, err := f.store.Get(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return lvl.Quantity
}

func (f *fixture) levels() map[string]int {
	return map[string]int{"p1": f.level("p1"), "p2": f.level("p2"), "p3": f.level("p3")}
}

func request(customerID string, items ...ItemRequest) CreateRequest {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return CreateRequest{CustomerID: customerID, TotalAmount: total, Items: items}
}

func line(productID string, qty int, price string) ItemRequest {
	return ItemRequest{ProductID: productID, Quantity: qty, UnitPrice: dec(price)}
}
