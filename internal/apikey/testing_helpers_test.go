package apikey

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hivewarden-like/idpguard/internal/ports"
	"github.com/hivewarden-like/idpguard/internal/types"
)

var errNotFound = errors.New("apikey: not found")

// fakeCache is an in-memory ports.CacheService for tests.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]byte{}} }

func (c *fakeCache) Get(ctx context.Context, key string) (ports.CacheResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return ports.CacheResult{Data: v, Hit: ok}, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *fakeCache) InvalidatePattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = map[string][]byte{}
	return nil
}

// fakeRepo is an in-memory ports.ApiKeyRepository for tests.
type fakeRepo struct {
	mu   sync.Mutex
	byID map[string]*types.ApiKey
}

func newFakeRepo() *fakeRepo { return &fakeRepo{byID: map[string]*types.ApiKey{}} }

func (r *fakeRepo) Create(ctx context.Context, key *types.ApiKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key.ID == "" {
		key.ID = key.KeyIdentifier
	}
	cp := *key
	r.byID[key.ID] = &cp
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*types.ApiKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.byID[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *k
	return &cp, nil
}

func (r *fakeRepo) FindByKeyIdentifier(ctx context.Context, identifier string) (*types.ApiKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.byID {
		if k.KeyIdentifier == identifier {
			cp := *k
			return &cp, nil
		}
	}
	return nil, errNotFound
}

func (r *fakeRepo) FindByUser(ctx context.Context, userID string) ([]*types.ApiKey, error) {
	return r.filterByUser(userID, false)
}

func (r *fakeRepo) FindActiveByUser(ctx context.Context, userID string) ([]*types.ApiKey, error) {
	return r.filterByUser(userID, true)
}

func (r *fakeRepo) filterByUser(userID string, activeOnly bool) ([]*types.ApiKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.ApiKey
	for _, k := range r.byID {
		if k.UserID != userID {
			continue
		}
		if activeOnly && !k.IsActive {
			continue
		}
		cp := *k
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeRepo) IncrementUsageCount(ctx context.Context, id string, by int64, lastUsedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k, ok := r.byID[id]; ok {
		k.UsageCount += by
		k.LastUsedAt = &lastUsedAt
	}
	return nil
}

func (r *fakeRepo) BatchIncrementUsageCount(ctx context.Context, deltas map[string]int64, lastUsedAt time.Time) error {
	for id, by := range deltas {
		_ = r.IncrementUsageCount(ctx, id, by, lastUsedAt)
	}
	return nil
}

func (r *fakeRepo) RevokeByID(ctx context.Context, id, revokedBy string, metadata map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.byID[id]
	if !ok {
		return errNotFound
	}
	now := time.Now()
	k.IsActive = false
	k.RevokedAt = &now
	k.RevokedBy = revokedBy
	k.Metadata = metadata
	return nil
}

func (r *fakeRepo) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k, ok := r.byID[id]; ok {
		k.LastUsedAt = &at
	}
	return nil
}

func (r *fakeRepo) GetApiKeyStats(ctx context.Context, userID string) (map[string]any, error) {
	return map[string]any{}, nil
}

func (r *fakeRepo) GetUsageAnalyticsSummary(ctx context.Context) (map[string]any, error) {
	return map[string]any{}, nil
}

func (r *fakeRepo) GetMostUsedKeys(ctx context.Context, limit int) ([]*types.ApiKey, error) {
	return nil, nil
}

func (r *fakeRepo) GetLeastUsedKeys(ctx context.Context, limit int) ([]*types.ApiKey, error) {
	return nil, nil
}

func (r *fakeRepo) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.byID)), nil
}
