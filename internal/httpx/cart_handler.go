package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cartlabs/storefront/internal/cart"
)

type CartStore interface {
	GetItems(ctx context.Context, userID string) ([]cart.Item, error)
	Add(ctx context.Context, userID string, productID int64, qty int) error
	SetQuantity(ctx context.Context, userID string, productID int64, qty int) error
	Remove(ctx context.Context, userID string, productID int64) error
	Clear(ctx context.Context, userID string) error
}

type CartHandler struct {
	Carts CartStore
}

type AddCartItemReq struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type UpdateCartItemReq struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandler) Register(r chi.Router) {
	r.Get("/cart", h.getCart)
	r.Post("/cart", h.addItem)
	r.Put("/cart/{productID}", h.updateItem)
	r.Delete("/cart/{productID}", h.removeItem)
	r.Delete("/cart", h.clearCart)
}

func (h *CartHandler) getCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	items, err := h.Carts.GetItems(ctx, userID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch cart")
		return
	}
	if items == nil {
		items = []cart.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *CartHandler) addItem(w http.ResponseWriter, r *http.Request) {
	var req AddCartItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ProductID == 0 {
		writeError(w, http.StatusBadRequest, "missing product_id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	err := h.Carts.Add(ctx, userID(r), req.ProductID, req.Quantity)
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, cart.ErrProductNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to add to cart")
	default:
		writeJSON(w, http.StatusCreated, map[string]bool{"success": true})
	}
}

func (h *CartHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	var req UpdateCartItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// Zero or negative quantity removes the line.
	if err := h.Carts.SetQuantity(ctx, userID(r), productID, req.Quantity); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update cart item")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *CartHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Carts.Remove(ctx, userID(r), productID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove from cart")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *CartHandler) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Carts.Clear(ctx, userID(r)); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear cart")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
