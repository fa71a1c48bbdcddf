package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/cartlabs/storefront/internal/cart"
	"github.com/cartlabs/storefront/internal/events"
	"github.com/cartlabs/storefront/internal/orders"
	"github.com/cartlabs/storefront/internal/payments"
)

var validate = validator.New()

type CartReader interface {
	GetItems(ctx context.Context, userID string) ([]cart.Item, error)
}

// Cache is the Redis fast path. Best effort; the ledger stays the truth.
type Cache interface {
	OrderIDForIntent(ctx context.Context, intentID string) (string, bool)
	RememberIntent(ctx context.Context, intentID, orderID string)
	CacheStatus(ctx context.Context, userID, orderID, status string)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Gateway  payments.Gateway
	Ledger   Ledger
	Carts    CartReader
	Cache    Cache
	Producer Publisher

	Policy      Policy
	Currency    string
	ServiceName string

	// FinalizeTimeout bounds the detached finalize step. Zero means 10s.
	FinalizeTimeout time.Duration
}

type CompleteRequest struct {
	UserID          string         `validate:"required"`
	PaymentIntentID string         `validate:"required"`
	ShippingAddress orders.Address `validate:"required"`
	BillingAddress  orders.Address `validate:"required"`
	TraceID         string
}

type Quote struct {
	Totals
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// Quote prices the caller's current cart with the same policy used at
// confirmation time. The payment capture is sized from this, never from a
// client-supplied amount.
func (s *Service) Quote(ctx context.Context, userID string) (*Quote, error) {
	items, err := s.Carts.GetItems(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	lines := make([]Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, Line{Price: it.Price, Qty: it.Quantity})
	}
	t := ComputeTotals(lines, s.Policy)
	return &Quote{Totals: t, AmountCents: t.TotalCents(), Currency: s.Currency}, nil
}

// Complete reconciles a confirmed payment, the user's cart and inventory
// into one durable order. Safe to retry with the same payment intent id.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (*orders.Order, error) {
	if err := validate.Struct(req); err != nil {
		return nil, asValidationError(err)
	}

	// Idempotent replay: Redis shortcut first, then the ledger as truth.
	// A replay only counts when the order belongs to the caller; someone
	// else's payment intent reads as absent.
	if _, ok := s.Cache.OrderIDForIntent(ctx, req.PaymentIntentID); ok {
		if o, err := s.Ledger.OrderByPaymentIntent(ctx, req.PaymentIntentID); err == nil {
			return ownedOrder(o, req.UserID)
		}
	}
	o, err := s.Ledger.OrderByPaymentIntent(ctx, req.PaymentIntentID)
	if err == nil {
		return ownedOrder(o, req.UserID)
	}
	if !errors.Is(err, orders.ErrNotFound) {
		return nil, fmt.Errorf("check existing order: %w", err)
	}

	intent, err := s.Gateway.GetIntent(ctx, req.PaymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	if intent.Status != payments.StatusSucceeded {
		return nil, fmt.Errorf("%w: intent status %q", ErrPaymentNotCompleted, intent.Status)
	}

	// The write set must reach a terminal state even if the caller
	// disconnects, so finalize runs detached from the request context.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.finalizeTimeout())
	defer cancel()

	order, err := s.Ledger.FinalizeCheckout(fctx, FinalizeParams{
		UserID:          req.UserID,
		PaymentIntentID: req.PaymentIntentID,
		CapturedCents:   intent.AmountReceived,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Policy:          s.Policy,
	})
	if err != nil {
		return nil, err
	}

	s.Cache.RememberIntent(fctx, req.PaymentIntentID, order.ID)
	s.Cache.CacheStatus(fctx, order.UserID, order.ID, string(order.Status))
	s.publishConfirmed(order, req.TraceID)
	return order, nil
}

func ownedOrder(o *orders.Order, userID string) (*orders.Order, error) {
	if o.UserID != userID {
		return nil, orders.ErrNotFound
	}
	return o, nil
}

func (s *Service) finalizeTimeout() time.Duration {
	if s.FinalizeTimeout > 0 {
		return s.FinalizeTimeout
	}
	return 10 * time.Second
}

func (s *Service) publishConfirmed(o *orders.Order, traceID string) {
	if s.Producer == nil {
		return
	}
	items := make([]events.ItemQty, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, events.ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}
	ev := events.Envelope{
		EventID:       uuid.NewString(),
		EventType:     events.EventOrderConfirmed,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       traceID,
		CorrelationID: o.ID,
		Payload: events.MarshalPayload(events.OrderConfirmedPayload{
			OrderID:         o.ID,
			UserID:          o.UserID,
			PaymentIntentID: o.PaymentIntentID,
			Total:           o.Total.StringFixed(2),
			Currency:        s.Currency,
			Items:           items,
		}),
	}
	s.Producer.Publish(events.PartitionKey(o.ID), ev.Encode(),
		kafkago.Header{Key: "x-event-type", Value: []byte(events.EventOrderConfirmed)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func asValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: []string{err.Error()}}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace())
	}
	return &ValidationError{Fields: fields}
}
