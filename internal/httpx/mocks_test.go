package httpx

import (
	"context"

	"github.com/cartlabs/storefront/internal/cart"
	"github.com/cartlabs/storefront/internal/checkout"
	"github.com/cartlabs/storefront/internal/orders"
	"github.com/cartlabs/storefront/internal/payments"
)

type mockCheckoutService struct {
	QuoteResult    *checkout.Quote
	QuoteErr       error
	CompleteResult *orders.Order
	CompleteErr    error
	LastComplete   *checkout.CompleteRequest
}

func (m *mockCheckoutService) Quote(_ context.Context, _ string) (*checkout.Quote, error) {
	return m.QuoteResult, m.QuoteErr
}

func (m *mockCheckoutService) Complete(_ context.Context, req checkout.CompleteRequest) (*orders.Order, error) {
	m.LastComplete = &req
	return m.CompleteResult, m.CompleteErr
}

type mockGateway struct {
	Intent *payments.Intent
	Err    error
	calls  int
}

func (m *mockGateway) CreateIntent(_ context.Context, _ int64, _ string, _ payments.IntentOptions) (*payments.Intent, error) {
	m.calls++
	return m.Intent, m.Err
}

func (m *mockGateway) GetIntent(_ context.Context, _ string) (*payments.Intent, error) {
	return m.Intent, m.Err
}

type mockCartStore struct {
	Items   []cart.Item
	Err     error
	Cleared bool
	Added   []int64
	SetQty  map[int64]int
	Removed []int64
}

func (m *mockCartStore) GetItems(_ context.Context, _ string) ([]cart.Item, error) {
	return m.Items, m.Err
}

func (m *mockCartStore) Add(_ context.Context, _ string, productID int64, qty int) error {
	if m.Err != nil {
		return m.Err
	}
	if qty <= 0 {
		return cart.ErrInvalidQuantity
	}
	m.Added = append(m.Added, productID)
	return nil
}

func (m *mockCartStore) SetQuantity(_ context.Context, _ string, productID int64, qty int) error {
	if m.SetQty == nil {
		m.SetQty = map[int64]int{}
	}
	m.SetQty[productID] = qty
	return m.Err
}

func (m *mockCartStore) Remove(_ context.Context, _ string, productID int64) error {
	m.Removed = append(m.Removed, productID)
	return m.Err
}

func (m *mockCartStore) Clear(_ context.Context, _ string) error {
	m.Cleared = true
	return m.Err
}

type mockOrderStore struct {
	Orders map[string]*orders.Order
	List   []*orders.Order
	Err    error
}

func (m *mockOrderStore) ListByUser(_ context.Context, _ string) ([]*orders.Order, error) {
	return m.List, m.Err
}

func (m *mockOrderStore) GetByID(_ context.Context, orderID string) (*orders.Order, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if o, ok := m.Orders[orderID]; ok {
		return o, nil
	}
	return nil, orders.ErrNotFound
}

func (m *mockOrderStore) GetStatus(_ context.Context, orderID, userID string) (orders.Status, error) {
	if o, ok := m.Orders[orderID]; ok && o.UserID == userID {
		return o.Status, nil
	}
	return "", orders.ErrNotFound
}

type mockStatusCache struct {
	Cached map[string]string
	Set    map[string]string
}

func (m *mockStatusCache) CachedStatus(_ context.Context, userID, orderID string) (string, bool) {
	v, ok := m.Cached[userID+"/"+orderID]
	return v, ok
}

func (m *mockStatusCache) CacheStatus(_ context.Context, userID, orderID, status string) {
	if m.Set == nil {
		m.Set = map[string]string{}
	}
	m.Set[userID+"/"+orderID] = status
}
