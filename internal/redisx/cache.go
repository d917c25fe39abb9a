package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

// OrderCache keeps recently read settled orders. Invalidate is still called on
// every paid transition so a stale entry cannot outlive a change.
type OrderCache struct {
	Redis *redis.Client
	Log   *slog.Logger
}

func (c *OrderCache) GetOrder(ctx context.Context, id string) (*orders.Order, bool) {
	b, err := c.Redis.Get(ctx, fmt.Sprintf(KeyOrder, id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn("order cache get", id, err)
		}
		return nil, false
	}
	var o orders.Order
	if err := json.Unmarshal(b, &o); err != nil {
		c.warn("order cache decode", id, err)
		return nil, false
	}
	return &o, true
}

func (c *OrderCache) PutOrder(ctx context.Context, o *orders.Order) {
	b, err := json.Marshal(o)
	if err != nil {
		c.warn("order cache encode", o.ID, err)
		return
	}
	if err := c.Redis.Set(ctx, fmt.Sprintf(KeyOrder, o.ID), b, TTLOrderCache).Err(); err != nil {
		c.warn("order cache put", o.ID, err)
	}
}

func (c *OrderCache) Invalidate(ctx context.Context, id string) {
	if err := c.Redis.Del(ctx, fmt.Sprintf(KeyOrder, id)).Err(); err != nil {
		c.warn("order cache invalidate", id, err)
	}
}

func (c *OrderCache) warn(msg, id string, err error) {
	if c.Log != nil {
		c.Log.Warn(msg, "order_id", id, "err", err)
	}
}
