// Package cache holds short-lived listing caches backed by Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRangeCache keeps one generation counter per scope. Entries are keyed
// under the current generation, so bumping the counter orphans every entry of
// the scope and the TTL reclaims them.
type RedisRangeCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisRangeCache(client *redis.Client, prefix string, ttl time.Duration) *RedisRangeCache {
	if prefix == "" {
		prefix = "agenda:slots"
	}
	return &RedisRangeCache{client: client, prefix: prefix, ttl: ttl}
}

// NewClient parses a redis:// URL and verifies the server answers.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *RedisRangeCache) genKey(scope string) string {
	return c.prefix + ":" + scope + ":gen"
}

func (c *RedisRangeCache) generation(ctx context.Context, scope string) (int64, error) {
	v, err := c.client.Get(ctx, c.genKey(scope)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (c *RedisRangeCache) entryKey(scope string, gen int64, key string) string {
	return fmt.Sprintf("%s:%s:%d:%s", c.prefix, scope, gen, key)
}

// Get returns the entry for key under the scope's current generation, along
// with that generation. A caller that misses should fill with Set at the
// returned generation so a write landing in between orphans the fill.
func (c *RedisRangeCache) Get(ctx context.Context, scope, key string) ([]byte, int64, bool, error) {
	gen, err := c.generation(ctx, scope)
	if err != nil {
		return nil, 0, false, fmt.Errorf("read generation: %w", err)
	}
	b, err := c.client.Get(ctx, c.entryKey(scope, gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, fmt.Errorf("read entry: %w", err)
	}
	return b, gen, true, nil
}

// Set stores value under generation gen. Nothing is written when the scope
// has already moved past gen.
func (c *RedisRangeCache) Set(ctx context.Context, scope string, gen int64, key string, value []byte) error {
	cur, err := c.generation(ctx, scope)
	if err != nil {
		return fmt.Errorf("read generation: %w", err)
	}
	if cur != gen {
		return nil
	}
	return c.client.Set(ctx, c.entryKey(scope, gen, key), value, c.ttl).Err()
}

func (c *RedisRangeCache) Invalidate(ctx context.Context, scope string) error {
	return c.client.Incr(ctx, c.genKey(scope)).Err()
}
