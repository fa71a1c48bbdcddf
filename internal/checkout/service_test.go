package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartlabs/storefront/internal/cart"
	"github.com/cartlabs/storefront/internal/events"
	"github.com/cartlabs/storefront/internal/orders"
	"github.com/cartlabs/storefront/internal/payments"
)

func validAddress() orders.Address {
	return orders.Address{Name: "Jane Doe", Street: "1 Main St", City: "Springfield", Region: "IL", PostalCode: "62701"}
}

func newTestService(ledger *memLedger, gw *mockGateway) (*Service, *mockCache, *mockPublisher) {
	cache := newMockCache()
	pub := &mockPublisher{}
	svc := &Service{
		Gateway:     gw,
		Ledger:      ledger,
		Carts:       ledger,
		Cache:       cache,
		Producer:    pub,
		Policy:      testPolicy(),
		Currency:    "usd",
		ServiceName: "storefront-api-test",
	}
	return svc, cache, pub
}

func seedCart(l *memLedger, userID string, productID int64, price string, qty, stock int) {
	l.stock[productID] = stock
	l.prices[productID] = price
	l.carts[userID] = append(l.carts[userID], cart.Item{
		ProductID: productID,
		Quantity:  qty,
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
	})
}

func succeededIntent(id string, amountCents int64) *payments.Intent {
	return &payments.Intent{ID: id, Status: payments.StatusSucceeded, AmountReceived: amountCents, Currency: "usd"}
}

func TestComplete_Success(t *testing.T) {
	ledger := newMemLedger()
	seedCart(ledger, "u1", 1, "50.00", 1, 10)
	gw := &mockGateway{intents: map[string]*payments.Intent{
		"pi_1": succeededIntent("pi_1", 6399),
	}}
	svc, cache, pub := newTestService(ledger, gw)

	o, err := svc.Complete(context.Background(), CompleteRequest{
		UserID:          "u1",
		PaymentIntentID: "pi_1",
		ShippingAddress: validAddress(),
		BillingAddress:  validAddress(),
	})
	require.NoError(t, err)
	require.NotNil(t, o)

	assert.Equal(t, orders.StatusConfirmed, o.Status)
	assert.Equal(t, "63.99", o.Total.StringFixed(2))
	assert.Equal(t, "pi_1", o.PaymentIntentID)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "50.00", o.Items[0].Price.StringFixed(2))

	// cart cleared, stock decremented
	items, _ := ledger.GetItems(context.Background(), "u1")
	assert.Empty(t, items)
	assert.Equal(t, 9, ledger.stock[1])

	// idempotency + status cache populated
	assert.Equal(t, o.ID, cache.intents["pi_1"])
	assert.Equal(t, "confirmed", cache.statuses[o.ID])

	// one event published
	require.Len(t, pub.published, 1)
	var env events.Envelope
	require.NoError(t, json.Unmarshal(pub.published[0], &env))
	assert.Equal(t, events.EventOrderConfirmed, env.EventType)
	assert.Equal(t, o.ID, env.CorrelationID)
}

func TestComplete_PaymentNotSucceeded_NoMutation(t *testing.T) {
	ledger := newMemLedger()
	seedCart(ledger, "u1", 1, "50.00", 1, 10)
	gw := &mockGateway{intents: map[string]*payments.Intent{
		"pi_1": {ID: "pi_1", Status: "processing"},
	}}
	svc, _, pub := newTestService(ledger, gw)

	_, err := svc.Complete(context.Background(), CompleteRequest{
		UserID:          "u1",
		PaymentIntentID: "pi_1",
		ShippingAddress: validAddress(),
		BillingAddress:  validAddress(),
	})
	require.ErrorIs(t, err, ErrPaymentNotCompleted)

	items, _ := ledger.GetItems(context.Background(), "u1")
	assert.Len(t, items, 1, "cart must be untouched")
	assert.Equal(t, 10, ledger.stock[1], "stock must be untouched")
	assert.Zero(t, ledger.finalizeCalls)
	assert.Empty(t, pub.published)
}

func TestComplete_EmptyCart(t *testing.T) {
	ledger := newMemLedger()
	gw := &mockGateway{intents: map[string]*payments.Intent{
		"pi_1": succeededIntent("pi_1", 999),
	}}
	svc, _, _ := newTestService(ledger, gw)

	_, err := svc.Complete(context.Background(), CompleteRequest{
		UserID:          "u1",
		PaymentIntentID: "pi_1",
		ShippingAddress: validAddress(),
		BillingAddress:  validAddress(),
	})
	require.ErrorIs(t, err, ErrEmptyCart)
}

func TestComplete_ValidationRejectsBeforeSideEffects(t *testing.T) {
	ledger := newMemLedger()
	seedCart(ledger, "u1", 1, "50.00", 1, 10)
	gw := &mockGateway{}
	svc, _, _ := newTestService(ledger, gw)

	addr := validAddress()
	addr.PostalCode = ""
	_, err := svc.Complete(context.Background(), CompleteRequest{
		UserID:          "u1",
		PaymentIntentID: "pi_1",
		ShippingAddress: addr,
		BillingAddress:  validAddress(),
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "CompleteRequest.ShippingAddress.PostalCode")
	assert.Zero(t, gw.calls, "gateway must not be queried for an invalid request")
	assert.Zero(t, ledger.finalizeCalls)
}

func TestComplete_IdempotentReplayReturnsExistingOrder(t *testing.T) {
	ledger := newMemLedger()
	seedCart(ledger, "u1", 1, "50.00", 1, 10)
	gw := &mockGateway{intents: map[string]*payments.Intent{
		"pi_1": succeededIntent("pi_1", 6399),
	}}
	svc, _, pub := newTestService(ledger, gw)

	req := CompleteRequest{
		UserID:          "u1",
		PaymentIntentID: "pi_1",
		ShippingAddress: validAddress(),
		BillingAddress:  validAddress(),
	}
	first, err := svc.Complete(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, ledger.byIntent, 1, "exactly one order row for the intent")
	assert.Equal(t, 9, ledger.stock[1], "stock decremented once")
	assert.Equal(t, 1, gw.calls, "replay short-circuits before the gateway")
	assert.Len(t, pub.published, 1, "no second event for the replay")
}

func TestComplete_IntentOwnedByOtherUserReadsAsAbsent(t *testing.T) {
	ledger := newMemLedger()
	seedCart(ledger, "u1", 1, "50.00", 1, 10)
	gw := &mockGateway{intents: map[string]*payments.Intent{
		"pi_1": succeededIntent("pi_1", 6399),
	}}
	svc, _, pub := newTestService(ledger, gw)

	victim, err := svc.Complete(context.Background(), CompleteRequest{
		UserID:          "u1",
		PaymentIntentID: "pi_1",
		ShippingAddress: validAddress(),
		BillingAddress:  validAddress(),
	})
	require.NoError(t, err)

	// Another authenticated user replays u1's intent id.
	o, err := svc.Complete(context.Background(), CompleteRequest{
		UserID:          "u2",
		PaymentIntentID: "pi_1",
		ShippingAddress: validAddress(),
		BillingAddress:  validAddress(),
	})
	require.ErrorIs(t, err, orders.ErrNotFound)
	assert.Nil(t, o, "u1's order, addresses included, must not leak to u2")

	assert.Len(t, ledger.byIntent, 1)
	assert.Equal(t, "u1", ledger.byIntent["pi_1"].UserID)
	assert.Equal(t, victim.ID, ledger.byIntent["pi_1"].ID)
	assert.Len(t, pub.published, 1, "no event for the rejected replay")
}

func TestComplete_LateCartAddStaysInCart(t *testing.T) {
	ledger := newMemLedger()
	seedCart(ledger, "u1", 1, "50.00", 1, 10)
	gw := &mockGateway{intents: map[string]*payments.Intent{
		"pi_1": succeededIntent("pi_1", 6399),
	}}
	// A second request lands a new cart line after checkout priced the cart.
	ledger.afterPricing = func() {
		ledger.stock[2] = 5
		ledger.carts["u1"] = append(ledger.carts["u1"], cart.Item{
			ProductID: 2, Quantity: 1, Price: decimal.RequireFromString("5.00"),
		})
	}
	svc, _, _ := newTestService(ledger, gw)

	o, err := svc.Complete(context.Background(), CompleteRequest{
		UserID:          "u1",
		PaymentIntentID: "pi_1",
		ShippingAddress: validAddress(),
		BillingAddress:  validAddress(),
	})
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.Equal(t, int64(1), o.Items[0].ProductID)

	// The unpriced line survives for the next checkout.
	items, _ := ledger.GetItems(context.Background(), "u1")
	require.Len(t, items, 1)
	assert.Equal(t, int64(2), items[0].ProductID)
	assert.Equal(t, 5, ledger.stock[2], "unpriced line never touches stock")
}

func TestComplete_AmountMismatchRejected(t *testing.T) {
	ledger := newMemLedger()
	seedCart(ledger, "u1", 1, "50.00", 1, 10)
	gw := &mockGateway{intents: map[string]*payments.Intent{
		// captured a tampered client total, not the server-computed 6399
		"pi_1": succeededIntent("pi_1", 100),
	}}
	svc, _, _ := newTestService(ledger, gw)

	_, err := svc.Complete(context.Background(), CompleteRequest{
		UserID:          "u1",
		PaymentIntentID: "pi_1",
		ShippingAddress: validAddress(),
		BillingAddress:  validAddress(),
	})
	require.ErrorIs(t, err, ErrAmountMismatch)

	items, _ := ledger.GetItems(context.Background(), "u1")
	assert.Len(t, items, 1)
	assert.Equal(t, 10, ledger.stock[1])
}

func TestComplete_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	const stock = 3
	const callers = 8

	ledger := newMemLedger()
	gw := &mockGateway{intents: map[string]*payments.Intent{}}
	// one unit of product 7 per caller: 10.00 + 0.80 tax + 9.99 shipping
	for i := 0; i < callers; i++ {
		user := fmt.Sprintf("u%d", i)
		seedCart(ledger, user, 7, "10.00", 1, stock)
		gw.intents[fmt.Sprintf("pi_%d", i)] = succeededIntent(fmt.Sprintf("pi_%d", i), 2079)
	}
	ledger.stock[7] = stock
	svc, _, _ := newTestService(ledger, gw)

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Complete(context.Background(), CompleteRequest{
				UserID:          fmt.Sprintf("u%d", i),
				PaymentIntentID: fmt.Sprintf("pi_%d", i),
				ShippingAddress: validAddress(),
				BillingAddress:  validAddress(),
			})
		}(i)
	}
	wg.Wait()

	var ok, unavailable int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrStockUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, stock, ok)
	assert.Equal(t, callers-stock, unavailable)
	assert.GreaterOrEqual(t, ledger.stock[7], 0, "stock never goes negative")
	assert.Equal(t, 0, ledger.stock[7])
}

func TestQuote_UsesCurrentCart(t *testing.T) {
	ledger := newMemLedger()
	seedCart(ledger, "u1", 1, "25.00", 3, 10)
	svc, _, _ := newTestService(ledger, &mockGateway{})

	q, err := svc.Quote(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "81.00", q.Total.StringFixed(2))
	assert.Equal(t, int64(8100), q.AmountCents)
	assert.Equal(t, "usd", q.Currency)
}

func TestQuote_EmptyCart(t *testing.T) {
	svc, _, _ := newTestService(newMemLedger(), &mockGateway{})
	_, err := svc.Quote(context.Background(), "u1")
	require.ErrorIs(t, err, ErrEmptyCart)
}
