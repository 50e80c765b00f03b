package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/orderflow/internal/domain/order"
)

const maxBodyBytes = 1 << 20

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(ctx, w, badRequest("request body too large or unreadable"))
		return
	}
	req, err := decodeCreateOrder(body)
	if err != nil {
		writeError(ctx, w, badRequest("malformed order: "+err.Error()))
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		writeError(ctx, w, invalidRequest(err))
		return
	}
	in, err := req.toDomain()
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	c, err := h.orders.Create(ctx, in)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/orders/"+c.OrderID)
	writeJSON(w, http.StatusCreated, encodeConfirmation(c))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	v, err := h.orders.View(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(v))
}

func (h *Handler) ordersByCustomer(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByCustomer(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	h.writeOrders(w, r, orders)
}

type dateRangeQuery struct {
	StartDate string `json:"startDate" validate:"required"`
	EndDate   string `json:"endDate" validate:"required"`
}

func (h *Handler) ordersByDateRange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := dateRangeQuery{
		StartDate: r.URL.Query().Get("startDate"),
		EndDate:   r.URL.Query().Get("endDate"),
	}
	if err := h.validate.StructCtx(ctx, q); err != nil {
		writeError(ctx, w, invalidRequest(err))
		return
	}
	from, err := parseTime("startDate", q.StartDate)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	to, err := parseTime("endDate", q.EndDate)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	orders, err := h.orders.ListByDateRange(ctx, from, to)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	h.writeOrders(w, r, orders)
}

func (h *Handler) writeOrders(w http.ResponseWriter, r *http.Request, orders []order.Order) {
	views := make([]*order.View, len(orders))
	for i := range orders {
		views[i] = h.orders.Enrich(r.Context(), &orders[i])
	}
	writeJSON(w, http.StatusOK, encodeViews(views))
}

// Timestamps without a zone are read as UTC.
var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04"}

func parseTime(field, s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, badRequest(field + " must be an ISO-8601 date-time")
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
