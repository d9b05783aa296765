package apikey

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivewarden-like/idpguard/internal/types"
)

func newTestStorage() (*Storage, *fakeRepo, *fakeCache) {
	repo := newFakeRepo()
	cache := newFakeCache()
	return NewStorage(repo, cache, nil, nil, StorageConfig{}), repo, cache
}

func TestCreateAPIKey_InvalidatesUserKeysCache(t *testing.T) {
	s, _, cache := newTestStorage()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, userKeysCacheKey("user-1"), []byte("stale"), time.Minute))

	key := &types.ApiKey{KeyHash: "h", KeyIdentifier: "id-1", UserID: "user-1", CreatedAt: time.Now()}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	res, err := cache.Get(ctx, userKeysCacheKey("user-1"))
	require.NoError(t, err)
	assert.False(t, res.Hit)
}

func TestCreateAPIKey_RejectsIncompleteSchema(t *testing.T) {
	s, _, _ := newTestStorage()
	err := s.CreateAPIKey(context.Background(), &types.ApiKey{})
	assert.Error(t, err)
}

func TestGetAPIKeyByID_PopulatesCacheOnMiss(t *testing.T) {
	s, repo, cache := newTestStorage()
	ctx := context.Background()

	key := &types.ApiKey{ID: "key-1", KeyHash: "h", KeyIdentifier: "id-1", UserID: "user-1", CreatedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, key))

	got, err := s.GetAPIKeyByID(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", got.ID)

	res, err := cache.Get(ctx, cacheKeyForID("key-1"))
	require.NoError(t, err)
	assert.True(t, res.Hit)
}

func TestGetAPIKeyByID_ServesFromCacheOnSecondCall(t *testing.T) {
	s, repo, _ := newTestStorage()
	ctx := context.Background()

	key := &types.ApiKey{ID: "key-1", KeyHash: "h", KeyIdentifier: "id-1", UserID: "user-1", CreatedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, key))

	_, err := s.GetAPIKeyByID(ctx, "key-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, s.hits)

	_, err = s.GetAPIKeyByID(ctx, "key-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.hits)
}

func TestGetAPIKeyByID_TamperedCacheFallsBackToRepo(t *testing.T) {
	s, repo, cache := newTestStorage()
	ctx := context.Background()

	key := &types.ApiKey{ID: "key-1", KeyHash: "h", KeyIdentifier: "id-1", UserID: "user-1", CreatedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, key))

	require.NoError(t, cache.Set(ctx, cacheKeyForID("key-1"), []byte("not a valid envelope at all"), time.Minute))

	got, err := s.GetAPIKeyByID(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", got.ID)
}
