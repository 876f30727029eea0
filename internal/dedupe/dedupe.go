// Package dedupe keeps a Redis marker per (day, item, actor) view so repeat
// views can be answered without a database round trip.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a Redis-backed first-view tracker.
type Cache struct {
	client *redis.Client
	prefix string
}

// New wraps client. Keys are namespaced with prefix (default "gearrank").
func New(client *redis.Client, prefix string) *Cache {
	if prefix == "" {
		prefix = "gearrank"
	}
	return &Cache{client: client, prefix: prefix}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Key returns the marker key for one view.
func (c *Cache) Key(day, itemID, actorID string) string {
	return fmt.Sprintf("%s:view:%s:%s:%s", c.prefix, day, itemID, actorID)
}

// MarkView atomically records the view and reports whether it was already
// marked. Markers expire at the end of the UTC day plus an hour of slack.
func (c *Cache) MarkView(ctx context.Context, day time.Time, itemID, actorID string) (bool, error) {
	key := c.Key(day.UTC().Format("2006-01-02"), itemID, actorID)
	set, err := c.client.SetNX(ctx, key, 1, ttlUntilEndOfDay(day, time.Now())).Result()
	if err != nil {
		return false, fmt.Errorf("mark view %s: %w", key, err)
	}
	return !set, nil
}

// Forget removes a marker so a failed insert can be retried.
func (c *Cache) Forget(ctx context.Context, day time.Time, itemID, actorID string) error {
	key := c.Key(day.UTC().Format("2006-01-02"), itemID, actorID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("forget view %s: %w", key, err)
	}
	return nil
}

func ttlUntilEndOfDay(day, now time.Time) time.Duration {
	u := day.UTC()
	end := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	ttl := end.Sub(now) + time.Hour
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}
