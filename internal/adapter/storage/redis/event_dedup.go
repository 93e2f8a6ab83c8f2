package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// EventDedupCache implements ports.EventDedupCache. Markers are written only
// for committed events, so a missing marker never hides unfinished work.
type EventDedupCache struct {
	client goredis.UniversalClient
	prefix string
}

// NewEventDedupCache creates a new Redis-backed webhook dedup cache.
func NewEventDedupCache(client goredis.UniversalClient) *EventDedupCache {
	return &EventDedupCache{
		client: client,
		prefix: "settle:webhook:",
	}
}

// Seen reports whether eventID has a live marker.
func (c *EventDedupCache) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("redis webhook dedup: %w", err)
	}
	return n > 0, nil
}

// MarkSeen records eventID for ttl.
func (c *EventDedupCache) MarkSeen(ctx context.Context, eventID string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+eventID, 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis webhook mark: %w", err)
	}
	return nil
}
