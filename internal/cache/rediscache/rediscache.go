// Package rediscache implements a ports.CacheService backed by
// github.com/redis/go-redis/v9, for multi-instance deployments where
// the write-through API-key cache, JWKS/discovery cache, and
// introspection-result cache must be shared across processes.
// Connects via redis.ParseURL, runs a ping-on-construct health check,
// and namespaces keys under a configurable prefix.
package rediscache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hivewarden-like/idpguard/internal/ports"
)

// Config configures the Redis connection.
type Config struct {
	// URL is the Redis connection URL (e.g. "redis://localhost:6379").
	URL string
	// KeyPrefix namespaces all keys; defaults to "idpguard" when empty.
	KeyPrefix string
}

// Cache is a Redis-backed ports.CacheService.
type Cache struct {
	client *redis.Client
	prefix string
}

// New connects to Redis, verifying reachability with a single Ping,
// and returns a Cache: URL parsing, client creation, and a bounded
// ping before declaring success.
func New(cfg Config) (*Cache, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rediscache: URL not configured")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rediscache: parse URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("rediscache: connect: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "idpguard"
	}
	return &Cache{client: client, prefix: prefix}, nil
}

func (c *Cache) fullKey(key string) string {
	return c.prefix + ":" + key
}

// Get implements ports.CacheService.
func (c *Cache) Get(ctx context.Context, key string) (ports.CacheResult, error) {
	data, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if err == redis.Nil {
		return ports.CacheResult{}, nil
	}
	if err != nil {
		return ports.CacheResult{}, fmt.Errorf("rediscache: get: %w", err)
	}
	return ports.CacheResult{Data: data, Hit: true}, nil
}

// Set implements ports.CacheService.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.fullKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("rediscache: set: %w", err)
	}
	return nil
}

// Invalidate implements ports.CacheService.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("rediscache: invalidate: %w", err)
	}
	return nil
}

// InvalidatePattern implements ports.CacheService using SCAN to avoid
// KEYS's O(n) blocking behavior on a shared Redis instance.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) error {
	full := c.fullKey(strings.TrimSuffix(pattern, "*")) + "*"

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, full, 100).Result()
		if err != nil {
			return fmt.Errorf("rediscache: scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("rediscache: invalidate pattern: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

// Close closes the underlying Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

var _ ports.CacheService = (*Cache)(nil)
