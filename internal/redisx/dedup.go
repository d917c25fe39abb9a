package redisx

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers processed event ids. It is a fast path only: when redis is
// down every event is treated as new and the store keeps replays harmless.
type Dedup struct {
	Redis   *redis.Client
	Service string
	Log     *slog.Logger
}

func (d *Dedup) key(id string) string { return fmt.Sprintf(KeyDedup, d.Service, id) }

func (d *Dedup) Seen(ctx context.Context, eventID string) bool {
	ok, err := Exists(ctx, d.Redis, d.key(eventID))
	if err != nil {
		d.warn("dedup lookup", eventID, err)
		return false
	}
	return ok
}

func (d *Dedup) Remember(ctx context.Context, eventID string) {
	if err := d.Redis.Set(ctx, d.key(eventID), "1", TTLDedup).Err(); err != nil {
		d.warn("dedup store", eventID, err)
	}
}

func (d *Dedup) warn(msg, id string, err error) {
	if d.Log != nil {
		d.Log.Warn(msg, "event_id", id, "err", err)
	}
}
