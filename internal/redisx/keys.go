package redisx

import "time"

const (
	// Webhook event already handled: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Order read cache: order:{order_id} -> order JSON
	KeyOrder = "order:%s"
)

var (
	TTLDedup      = 48 * time.Hour
	TTLOrderCache = 5 * time.Minute
)
