package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDiffCache stores computed diffs in redis with a fixed TTL. A miss
// is not an error.
type RedisDiffCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDiffCache(client *redis.Client, ttl time.Duration) *RedisDiffCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDiffCache{client: client, ttl: ttl}
}

func (c *RedisDiffCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (c *RedisDiffCache) Set(ctx context.Context, key, value string) error {
	return c.client.Set(ctx, key, value, c.ttl).Err()
}
