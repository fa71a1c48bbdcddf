package notify

import (
	"context"
	"fmt"
	"log"
	"strings"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/cartlabs/storefront/internal/catalog"
	"github.com/cartlabs/storefront/internal/events"
	"github.com/cartlabs/storefront/internal/orders"
)

const consumerName = "notifier"

type OrderReader interface {
	GetStatus(ctx context.Context, orderID, userID string) (orders.Status, error)
}

type CatalogReader interface {
	GetByIDs(ctx context.Context, ids []int64) (map[int64]catalog.Product, error)
}

// Cache covers the Redis side: consumer dedup and the per-user status keys.
type Cache interface {
	Seen(ctx context.Context, consumer, eventID string) bool
	MarkSeen(ctx context.Context, consumer, eventID string)
	CacheStatus(ctx context.Context, userID, orderID, status string)
}

// Service consumes order.confirmed events: it re-reads the authoritative
// status, warms the per-order status cache and logs the receipt line.
// Checkout retries republish events, so everything here dedups by event id.
type Service struct {
	Orders      OrderReader
	Catalog     CatalogReader
	Cache       Cache
	ServiceName string
}

func (s *Service) HandleOrderConfirmed(ctx context.Context, m kafkago.Message) error {
	env, err := events.DecodeEnvelope(m.Value)
	if err != nil {
		return err
	}
	if env.EventType != events.EventOrderConfirmed {
		return nil // ignore
	}
	if s.Cache.Seen(ctx, consumerName, env.EventID) {
		return nil
	}

	p, err := events.UnwrapPayload[events.OrderConfirmedPayload](env.Payload)
	if err != nil {
		return err
	}

	status, err := s.Orders.GetStatus(ctx, p.OrderID, p.UserID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", p.OrderID, err)
	}
	s.Cache.CacheStatus(ctx, p.UserID, p.OrderID, string(status))

	log.Printf("order confirmed: order=%s user=%s total=%s %s items=%s",
		p.OrderID, p.UserID, p.Total, p.Currency, s.describeItems(ctx, p.Items))

	// Dedup is recorded only after the work is done: a failure above leaves
	// the event unseen, so the redelivery gets processed.
	s.Cache.MarkSeen(ctx, consumerName, env.EventID)
	return nil
}

// describeItems resolves product names for the receipt line; ids fall back
// to themselves when the catalog lookup fails.
func (s *Service) describeItems(ctx context.Context, items []events.ItemQty) string {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.Catalog.GetByIDs(ctx, ids)
	parts := make([]string, 0, len(items))
	for _, it := range items {
		name := fmt.Sprintf("#%d", it.ProductID)
		if err == nil {
			if p, ok := products[it.ProductID]; ok {
				name = p.Name
			}
		}
		parts = append(parts, fmt.Sprintf("%dx %s", it.Qty, name))
	}
	return strings.Join(parts, ", ")
}
