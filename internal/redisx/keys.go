package redisx

import "time"

const (
	// Checkout idempotency fast path: idem:checkout:{payment_intent_id} -> order_id
	KeyIdemCheckout = "idem:checkout:%s"

	// Cache order status, scoped to the owner: order_status:{user_id}:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
