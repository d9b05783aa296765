// Package memcache implements an in-process ports.CacheService backed
// by github.com/jellydator/ttlcache/v3, the default adapter used in
// tests and single-instance deployments.
package memcache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/hivewarden-like/idpguard/internal/ports"
)

// DefaultCapacity bounds the cache to a fixed number of entries,
// evicting least-recently-used entries once exceeded — ttlcache's
// built-in LRU-by-capacity option, rather than a hand-rolled eviction
// hook.
const DefaultCapacity = 10_000

// Cache is a ttlcache-backed ports.CacheService.
type Cache struct {
	tc *ttlcache.Cache[string, []byte]

	mu      sync.RWMutex
	keys    map[string]struct{}
	started sync.Once
}

// New constructs a Cache with the given capacity (DefaultCapacity if
// zero) and starts its background expiration sweeper. Call Stop when
// done.
func New(capacity uint64) *Cache {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	tc := ttlcache.New[string, []byte](
		ttlcache.WithCapacity[string, []byte](capacity),
	)
	c := &Cache{tc: tc, keys: map[string]struct{}{}}

	tc.OnInsertion(func(ctx context.Context, item *ttlcache.Item[string, []byte]) {
		c.mu.Lock()
		c.keys[item.Key()] = struct{}{}
		c.mu.Unlock()
	})
	tc.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, []byte]) {
		c.mu.Lock()
		delete(c.keys, item.Key())
		c.mu.Unlock()
	})

	c.started.Do(func() { go tc.Start() })
	return c
}

// Get implements ports.CacheService.
func (c *Cache) Get(ctx context.Context, key string) (ports.CacheResult, error) {
	item := c.tc.Get(key)
	if item == nil {
		return ports.CacheResult{}, nil
	}
	return ports.CacheResult{Data: item.Value(), Hit: true}, nil
}

// Set implements ports.CacheService.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	c.tc.Set(key, value, ttl)
	return nil
}

// Invalidate implements ports.CacheService.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.tc.Delete(key)
	return nil
}

// InvalidatePattern implements ports.CacheService. pattern is a
// prefix match ending in "*" (e.g. "apikey:*"), matching the coarse
// invalidation the core actually needs (no full glob support).
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")

	c.mu.RLock()
	var matched []string
	for k := range c.keys {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	c.mu.RUnlock()

	for _, k := range matched {
		c.tc.Delete(k)
	}
	return nil
}

// Stop halts the background sweeper.
func (c *Cache) Stop() {
	c.tc.Stop()
}

var _ ports.CacheService = (*Cache)(nil)
