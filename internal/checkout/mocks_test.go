package checkout

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/cartlabs/storefront/internal/cart"
	"github.com/cartlabs/storefront/internal/orders"
	"github.com/cartlabs/storefront/internal/payments"
)

// memLedger mirrors the SQLLedger semantics in memory: one lock stands in
// for the transaction, so the concurrency tests exercise the same guarded
// decrement behavior.
type memLedger struct {
	mu       sync.Mutex
	stock    map[int64]int
	prices   map[int64]string
	carts    map[string][]cart.Item
	byIntent map[string]*orders.Order

	finalizeCalls int
	failFinalize  error

	// afterPricing runs with the lock held, right after the cart snapshot is
	// taken; tests use it to slip in a concurrent cart edit.
	afterPricing func()
}

func newMemLedger() *memLedger {
	return &memLedger{
		stock:    map[int64]int{},
		prices:   map[int64]string{},
		carts:    map[string][]cart.Item{},
		byIntent: map[string]*orders.Order{},
	}
}

func (l *memLedger) GetItems(_ context.Context, userID string) ([]cart.Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]cart.Item(nil), l.carts[userID]...), nil
}

func (l *memLedger) OrderByPaymentIntent(_ context.Context, intentID string) (*orders.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.byIntent[intentID]; ok {
		return o, nil
	}
	return nil, orders.ErrNotFound
}

func (l *memLedger) FinalizeCheckout(_ context.Context, p FinalizeParams) (*orders.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finalizeCalls++
	if l.failFinalize != nil {
		return nil, l.failFinalize
	}
	if o, ok := l.byIntent[p.PaymentIntentID]; ok {
		if o.UserID != p.UserID {
			return nil, orders.ErrNotFound
		}
		return o, nil
	}

	items := append([]cart.Item(nil), l.carts[p.UserID]...)
	if l.afterPricing != nil {
		l.afterPricing()
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	lines := make([]Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, Line{Price: it.Price, Qty: it.Quantity})
	}
	totals := ComputeTotals(lines, p.Policy)
	if totals.TotalCents() != p.CapturedCents {
		return nil, fmt.Errorf("%w: captured=%d computed=%d", ErrAmountMismatch, p.CapturedCents, totals.TotalCents())
	}
	for _, it := range items {
		if l.stock[it.ProductID] < it.Quantity {
			return nil, &StockError{ProductID: it.ProductID, Requested: it.Quantity, Available: l.stock[it.ProductID]}
		}
	}

	o := &orders.Order{
		ID:              uuid.NewString(),
		UserID:          p.UserID,
		Status:          orders.StatusConfirmed,
		Subtotal:        totals.Subtotal,
		Tax:             totals.Tax,
		Shipping:        totals.Shipping,
		Total:           totals.Total,
		PaymentIntentID: p.PaymentIntentID,
		ShippingAddress: p.ShippingAddress,
		BillingAddress:  p.BillingAddress,
	}
	priced := make(map[int64]bool, len(items))
	for _, it := range items {
		l.stock[it.ProductID] -= it.Quantity
		priced[it.ProductID] = true
		o.Items = append(o.Items, orders.Item{OrderID: o.ID, ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}

	// Only priced lines leave the cart.
	var left []cart.Item
	for _, it := range l.carts[p.UserID] {
		if !priced[it.ProductID] {
			left = append(left, it)
		}
	}
	if len(left) == 0 {
		delete(l.carts, p.UserID)
	} else {
		l.carts[p.UserID] = left
	}
	l.byIntent[p.PaymentIntentID] = o
	return o, nil
}

type mockGateway struct {
	mu      sync.Mutex
	intents map[string]*payments.Intent
	calls   int
	err     error
}

func (g *mockGateway) CreateIntent(_ context.Context, amountCents int64, currency string, _ payments.IntentOptions) (*payments.Intent, error) {
	return &payments.Intent{ID: "pi_new", ClientSecret: "cs_test", Status: "requires_payment_method", Currency: currency}, nil
}

func (g *mockGateway) GetIntent(_ context.Context, id string) (*payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	if in, ok := g.intents[id]; ok {
		return in, nil
	}
	return &payments.Intent{ID: id, Status: "requires_payment_method"}, nil
}

type mockCache struct {
	mu       sync.Mutex
	intents  map[string]string
	statuses map[string]string
}

func newMockCache() *mockCache {
	return &mockCache{intents: map[string]string{}, statuses: map[string]string{}}
}

func (c *mockCache) OrderIDForIntent(_ context.Context, intentID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.intents[intentID]
	return v, ok
}

func (c *mockCache) RememberIntent(_ context.Context, intentID, orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intents[intentID] = orderID
}

func (c *mockCache) CacheStatus(_ context.Context, _, orderID, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[orderID] = status
}

type mockPublisher struct {
	mu        sync.Mutex
	published [][]byte
}

func (p *mockPublisher) Publish(_, value []byte, _ ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, value)
}
