package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cartlabs/storefront/internal/orders"
)

type OrderStore interface {
	ListByUser(ctx context.Context, userID string) ([]*orders.Order, error)
	GetByID(ctx context.Context, orderID string) (*orders.Order, error)
	GetStatus(ctx context.Context, orderID, userID string) (orders.Status, error)
}

type StatusCache interface {
	CachedStatus(ctx context.Context, userID, orderID string) (string, bool)
	CacheStatus(ctx context.Context, userID, orderID, status string)
}

type OrdersHandler struct {
	Orders OrderStore
	Cache  StatusCache
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	out, err := h.Orders.ListByUser(ctx, userID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch orders")
		return
	}
	if out == nil {
		out = []*orders.Order{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.GetByID(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch order")
		return
	}
	if o.UserID != userID(r) {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getOrderStatus is cache-first: the notifier warms the status key after
// confirmation, the DB answers misses. Cache keys and the status query are
// both scoped to the caller, so another user's order reads as absent.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	uid := userID(r)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if body, ok := h.Cache.CachedStatus(ctx, uid, orderID); ok {
		writeJSON(w, http.StatusOK, json.RawMessage(body))
		return
	}

	status, err := h.Orders.GetStatus(ctx, orderID, uid)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch order status")
		return
	}
	h.Cache.CacheStatus(ctx, uid, orderID, string(status))
	writeJSON(w, http.StatusOK, map[string]orders.Status{"status": status})
}
