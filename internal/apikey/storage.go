package apikey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/hivewarden-like/idpguard/internal/ports"
	"github.com/hivewarden-like/idpguard/internal/types"
)

// ErrConflict is returned on a duplicate key-identifier write.
var ErrConflict = errors.New("apikey: key identifier already exists")

// StorageConfig tunes Storage's cache discipline and retry policy.
type StorageConfig struct {
	CacheTTL      time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// WithDefaults fills unset fields with spec-mandated defaults.
func (c StorageConfig) WithDefaults() StorageConfig {
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// Storage is the persistent API-key repository fronted by a
// write-through cache with an integrity envelope on every entry.
type Storage struct {
	repo    ports.ApiKeyRepository
	cache   ports.CacheService
	metrics ports.MetricsCollector
	logger  ports.Logger
	cfg     StorageConfig

	hits, misses, errs int64
}

// NewStorage constructs a Storage. metrics/logger may be nil.
func NewStorage(repo ports.ApiKeyRepository, cache ports.CacheService, metrics ports.MetricsCollector, logger ports.Logger, cfg StorageConfig) *Storage {
	return &Storage{repo: repo, cache: cache, metrics: metrics, logger: logger, cfg: cfg.WithDefaults()}
}

func cacheKeyForID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return "apikey:key:" + hex.EncodeToString(sum[:])[:16]
}

func userKeysCacheKey(userID string) string {
	return "user_keys:" + userID
}

func (s *Storage) recordCounter(name string, n float64) {
	if s.metrics != nil {
		s.metrics.RecordCounter(name, n)
	}
}

func (s *Storage) warn(msg string, ctx map[string]any) {
	if s.logger != nil {
		s.logger.Warn(msg, ctx)
	}
}

func (s *Storage) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < s.cfg.RetryAttempts {
			select {
			case <-time.After(s.cfg.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// CreateAPIKey persists key, then invalidates the owning user's
// user_keys:<userId> cache entry. It returns ErrConflict when a row
// with the same key identifier already exists.
func (s *Storage) CreateAPIKey(ctx context.Context, key *types.ApiKey) error {
	if key.KeyHash == "" || key.KeyIdentifier == "" || key.UserID == "" {
		return fmt.Errorf("apikey: key schema invalid: hash, identifier, and user are required")
	}

	if existing, err := s.repo.FindByKeyIdentifier(ctx, key.KeyIdentifier); err == nil && existing != nil {
		return ErrConflict
	}

	err := s.retry(ctx, func() error {
		return s.repo.Create(ctx, key)
	})
	if err != nil {
		s.errs++
		s.recordCounter("apikey.storage.create_error", 1)
		return fmt.Errorf("apikey: create: %w", err)
	}

	if err := s.cache.Invalidate(ctx, userKeysCacheKey(key.UserID)); err != nil {
		s.warn("cache invalidation failed after create", map[string]any{"user_id": key.UserID, "error": err.Error()})
	}
	return nil
}

// GetAPIKeyByID checks the write-through cache first (validating the
// integrity envelope on hit), falling back to the repository on miss
// or integrity failure, repopulating the cache on success.
func (s *Storage) GetAPIKeyByID(ctx context.Context, id string) (*types.ApiKey, error) {
	cacheKey := cacheKeyForID(id)

	if result, err := s.cache.Get(ctx, cacheKey); err == nil && result.Hit {
		var key types.ApiKey
		ok, err := openEnvelope(result.Data, &key)
		if err != nil {
			s.errs++
			s.recordCounter("apikey.storage.cache_error", 1)
		} else if ok {
			s.hits++
			s.recordCounter("apikey.storage.cache_hit", 1)
			return &key, nil
		} else {
			s.recordCounter("apikey.storage.cache_integrity_mismatch", 1)
			s.warn("cache integrity mismatch, treating as miss", map[string]any{"id": id})
			_ = s.cache.Invalidate(ctx, cacheKey)
		}
	}
	s.misses++
	s.recordCounter("apikey.storage.cache_miss", 1)

	key, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("apikey: get by id: %w", err)
	}

	s.populateCache(ctx, cacheKey, key)
	return key, nil
}

// FindByKeyIdentifier looks up a row by its deterministic identifier,
// the primary path validateAPIKey uses.
func (s *Storage) FindByKeyIdentifier(ctx context.Context, identifier string) (*types.ApiKey, error) {
	key, err := s.repo.FindByKeyIdentifier(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("apikey: find by identifier: %w", err)
	}
	return key, nil
}

// FindActiveByUser returns a user's active keys, read directly from the
// repository (the user_keys:<userId> cache entry is not consulted).
func (s *Storage) FindActiveByUser(ctx context.Context, userID string) ([]*types.ApiKey, error) {
	keys, err := s.repo.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("apikey: find active by user: %w", err)
	}
	return keys, nil
}

func (s *Storage) populateCache(ctx context.Context, cacheKey string, key *types.ApiKey) {
	blob, err := sealEnvelope(key)
	if err != nil {
		s.warn("failed to seal cache envelope", map[string]any{"error": err.Error()})
		return
	}
	if err := s.cache.Set(ctx, cacheKey, blob, s.cfg.CacheTTL); err != nil {
		s.warn("failed to populate cache", map[string]any{"error": err.Error()})
	}
}

// InvalidateForKey clears both the per-key and per-user cache entries —
// used by revocation.
func (s *Storage) InvalidateForKey(ctx context.Context, id, userID string) {
	if err := s.cache.Invalidate(ctx, cacheKeyForID(id)); err != nil {
		s.warn("cache invalidation failed", map[string]any{"id": id, "error": err.Error()})
	}
	if userID != "" {
		if err := s.cache.Invalidate(ctx, userKeysCacheKey(userID)); err != nil {
			s.warn("cache invalidation failed", map[string]any{"user_id": userID, "error": err.Error()})
		}
	}
}

// Repository exposes the underlying ApiKeyRepository for callers
// (operations.go, monitoring) that need capabilities beyond the cached
// read/write path above.
func (s *Storage) Repository() ports.ApiKeyRepository { return s.repo }
