package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cartlabs/storefront/internal/checkout"
	"github.com/cartlabs/storefront/internal/orders"
	"github.com/cartlabs/storefront/internal/payments"
)

type CheckoutService interface {
	Quote(ctx context.Context, userID string) (*checkout.Quote, error)
	Complete(ctx context.Context, req checkout.CompleteRequest) (*orders.Order, error)
}

type CheckoutHandler struct {
	Service  CheckoutService
	Gateway  payments.Gateway
	Currency string
}

type CreatePaymentIntentReq struct {
	Currency string `json:"currency"`
}

type CreatePaymentIntentResp struct {
	ClientSecret string `json:"client_secret"`
}

type CompleteOrderReq struct {
	PaymentIntentID string         `json:"payment_intent_id"`
	ShippingAddress orders.Address `json:"shipping_address"`
	BillingAddress  orders.Address `json:"billing_address"`
}

type CompleteOrderResp struct {
	Order   *orders.Order `json:"order"`
	Success bool          `json:"success"`
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/payment-intents", h.createPaymentIntent)
	r.Post("/orders/complete", h.completeOrder)
}

// createPaymentIntent sizes the capture from the caller's current cart. Any
// client-supplied amount is ignored, and the currency must match the store's.
func (h *CheckoutHandler) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentIntentReq
	_ = json.NewDecoder(r.Body).Decode(&req) // body is optional
	if req.Currency != "" && !strings.EqualFold(req.Currency, h.Currency) {
		writeError(w, http.StatusBadRequest, "unsupported currency: "+req.Currency)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	quote, err := h.Service.Quote(ctx, userID(r))
	if err != nil {
		if errors.Is(err, checkout.ErrEmptyCart) {
			writeError(w, http.StatusBadRequest, "cart is empty")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	intent, err := h.Gateway.CreateIntent(ctx, quote.AmountCents, h.Currency, payments.IntentOptions{
		UserID:       userID(r),
		ReceiptEmail: userEmail(r),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "error creating payment intent: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CreatePaymentIntentResp{ClientSecret: intent.ClientSecret})
}

func (h *CheckoutHandler) completeOrder(w http.ResponseWriter, r *http.Request) {
	var req CompleteOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	order, err := h.Service.Complete(ctx, checkout.CompleteRequest{
		UserID:          userID(r),
		PaymentIntentID: req.PaymentIntentID,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		TraceID:         middleware.GetReqID(r.Context()),
	})
	RecordCheckoutOperation("complete", err == nil)
	if err != nil {
		writeError(w, checkoutStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, CompleteOrderResp{Order: order, Success: true})
}

func checkoutStatus(err error) int {
	var verr *checkout.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrPaymentNotCompleted):
		return http.StatusBadRequest
	case errors.Is(err, checkout.ErrAmountMismatch),
		errors.Is(err, checkout.ErrStockUnavailable):
		return http.StatusConflict
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
