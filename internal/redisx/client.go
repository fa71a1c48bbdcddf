package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// New builds the shared client used for idempotency keys, order status cache
// and consumer dedup. All callers treat Redis as best-effort.
func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}
