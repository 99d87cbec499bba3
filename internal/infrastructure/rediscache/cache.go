// Package rediscache stores compliance index existence answers in redis.
package rediscache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix        = "compliance_index:"
	generationPrefix = "generation:"
	present          = "1"
	absent           = "0"
	scanCount        = 500
)

// ExistenceCache caches positive and negative existence answers with a TTL.
type ExistenceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewExistenceCache returns a redis backed cache. A zero ttl keeps entries
// until they are invalidated.
func NewExistenceCache(client *redis.Client, ttl time.Duration) *ExistenceCache {
	return &ExistenceCache{client: client, ttl: ttl}
}

func (c *ExistenceCache) Lookup(ctx context.Context, key string) (bool, bool, error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Result()
	// Redis returns Nil Reply when key does not exist.
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return val == present, true, nil
}

func (c *ExistenceCache) Store(ctx context.Context, key string, exists bool) error {
	val := absent
	if exists {
		val = present
	}
	return c.client.Set(ctx, keyPrefix+key, val, c.ttl).Err()
}

func (c *ExistenceCache) Generation(ctx context.Context, scope string) (int64, error) {
	gen, err := c.client.Get(ctx, keyPrefix+generationPrefix+scope).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Advance increments the generation counter. Counters carry no TTL.
func (c *ExistenceCache) Advance(ctx context.Context, scope string) error {
	return c.client.Incr(ctx, keyPrefix+generationPrefix+scope).Err()
}

// Invalidate deletes every key under prefix using SCAN so large catalogs do
// not block the server.
func (c *ExistenceCache) Invalidate(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, keyPrefix+prefix+"*", scanCount).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanCount {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.client.Del(ctx, batch...).Err()
	}
	return nil
}
