package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// CheckoutCache is the Redis-backed fast path for checkout idempotency,
// order status lookups and consumer dedup. Postgres stays the source of
// truth; every method here is best-effort and swallows Redis errors.
type CheckoutCache struct{ R *redis.Client }

func (c *CheckoutCache) OrderIDForIntent(ctx context.Context, intentID string) (string, bool) {
	v, err := c.R.Get(ctx, fmt.Sprintf(KeyIdemCheckout, intentID)).Result()
	return v, err == nil && v != ""
}

func (c *CheckoutCache) RememberIntent(ctx context.Context, intentID, orderID string) {
	_ = c.R.Set(ctx, fmt.Sprintf(KeyIdemCheckout, intentID), orderID, TTLIdempotency).Err()
}

// Status keys carry the owning user so a cache hit can never answer for
// someone else's order.
func (c *CheckoutCache) CacheStatus(ctx context.Context, userID, orderID, status string) {
	body := fmt.Sprintf(`{"status":%q}`, status)
	_ = c.R.Set(ctx, fmt.Sprintf(KeyOrderStatus, userID, orderID), body, TTLStatusCache).Err()
}

func (c *CheckoutCache) CachedStatus(ctx context.Context, userID, orderID string) (string, bool) {
	v, err := c.R.Get(ctx, fmt.Sprintf(KeyOrderStatus, userID, orderID)).Result()
	return v, err == nil && v != ""
}

func (c *CheckoutCache) Seen(ctx context.Context, consumer, eventID string) bool {
	ok, err := Exists(ctx, c.R, fmt.Sprintf(KeyDedup, consumer, eventID))
	return err == nil && ok
}

func (c *CheckoutCache) MarkSeen(ctx context.Context, consumer, eventID string) {
	_ = c.R.Set(ctx, fmt.Sprintf(KeyDedup, consumer, eventID), "1", TTLDedup).Err()
}
