package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// EventDedup implements ports.EventDeduplicator using Redis SET NX.
type EventDedup struct {
	client *goredis.Client
	prefix string
}

// NewEventDedup creates a new Redis-backed webhook event deduplicator.
func NewEventDedup(client *goredis.Client) *EventDedup {
	return &EventDedup{
		client: client,
		prefix: "webhook_event:",
	}
}

// MarkSeen atomically records an event id.
// Returns true if the id is new, false if it was already delivered.
func (d *EventDedup) MarkSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	result, err := d.client.SetArgs(ctx, d.prefix+eventID, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis event dedup: %w", err)
	}
	return result == "OK", nil
}

// Forget releases an event id so a redelivery is processed again.
func (d *EventDedup) Forget(ctx context.Context, eventID string) error {
	if err := d.client.Del(ctx, d.prefix+eventID).Err(); err != nil {
		return fmt.Errorf("redis event forget: %w", err)
	}
	return nil
}
