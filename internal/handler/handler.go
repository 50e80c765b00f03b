// Package handler exposes the order orchestrator over HTTP.
package handler

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/orderflow/internal/domain/order"
)

// OrderService is the part of *order.Service the API depends on.
type OrderService interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.Confirmation, error)
	Cancel(ctx context.Context, id string) error
	View(ctx context.Context, id string) (*order.View, error)
	ListByCustomer(ctx context.Context, customerID string) ([]order.Order, error)
	ListByDateRange(ctx context.Context, from, to time.Time) ([]order.Order, error)
	Enrich(ctx context.Context, o *order.Order) *order.View
}

var _ OrderService = (*order.Service)(nil)

// Handler serves the /api/orders endpoints.
type Handler struct {
	orders   OrderService
	validate *validator.Validate
}

// NewHandler returns a Handler backed by orders.
func NewHandler(orders OrderService) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Handler{orders: orders, validate: v}
}

// Routes returns the API router. Paths are relative to the /api prefix.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/date-range", h.ordersByDateRange)
		r.Get("/customer/{customerID}", h.ordersByCustomer)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/cancel", h.cancelOrder)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusNotFound, "route_not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}
