package apikey

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hivewarden-like/idpguard/internal/types"
)

func newTestOperations(t *testing.T) (*Operations, *Storage, *fakeRepo) {
	t.Helper()
	storage, repo, cache := newTestStorage()
	ops := NewOperations(storage, cache, nil, nil, nil)
	return ops, storage, repo
}

func seedKey(t *testing.T, repo *fakeRepo, id, rawKey string, opts ...func(*types.ApiKey)) *types.ApiKey {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcryptCost)
	require.NoError(t, err)

	key := &types.ApiKey{
		ID:            id,
		KeyHash:       string(hash),
		KeyIdentifier: KeyIdentifier(rawKey),
		UserID:        "user-1",
		IsActive:      true,
		CreatedAt:     time.Now(),
		Scopes:        []string{"read"},
	}
	for _, opt := range opts {
		opt(key)
	}
	require.NoError(t, repo.Create(context.Background(), key))
	return key
}

func TestValidateAPIKey_Success(t *testing.T) {
	ops, _, repo := newTestOperations(t)
	raw := "ak_abcdefghijklmnopqrstuvwxyz0123456789"
	seedKey(t, repo, "key-1", raw)

	result := ops.ValidateAPIKey(context.Background(), raw)
	assert.True(t, result.Success)
	assert.Equal(t, "user-1", result.User.ID)
}

func TestValidateAPIKey_SecondCallServedFromCache(t *testing.T) {
	storage, repo, cache := newTestStorage()
	ops := NewOperations(storage, cache, nil, nil, nil)
	raw := "ak_cachedkeyabcdefghijklmnopqrstuvwxy"
	seedKey(t, repo, "key-cached", raw)

	first := ops.ValidateAPIKey(context.Background(), raw)
	require.True(t, first.Success)
	require.False(t, first.FromCache)

	repo.mu.Lock()
	delete(repo.byID, "key-cached")
	repo.mu.Unlock()

	second := ops.ValidateAPIKey(context.Background(), raw)
	require.True(t, second.Success)
	assert.True(t, second.FromCache)
	assert.Equal(t, "user-1", second.User.ID)
}

func TestValidateAPIKey_RejectsMalformedKey(t *testing.T) {
	ops, _, _ := newTestOperations(t)
	result := ops.ValidateAPIKey(context.Background(), "x")
	assert.False(t, result.Success)
	assert.Equal(t, "invalid format", result.Error)
}

func TestValidateAPIKey_RejectsUnknownKey(t *testing.T) {
	ops, _, _ := newTestOperations(t)
	result := ops.ValidateAPIKey(context.Background(), "ak_doesnotexistinanystorerowatall0000")
	assert.False(t, result.Success)
}

func TestValidateAPIKey_RejectsRevokedKey(t *testing.T) {
	ops, _, repo := newTestOperations(t)
	raw := "ak_revokedkeyabcdefghijklmnopqrstuvwx"
	seedKey(t, repo, "key-2", raw, func(k *types.ApiKey) { k.IsActive = false })

	result := ops.ValidateAPIKey(context.Background(), raw)
	assert.False(t, result.Success)
	assert.Equal(t, "revoked", result.Error)
}

func TestValidateAPIKey_RejectsExpiredKey(t *testing.T) {
	ops, _, repo := newTestOperations(t)
	raw := "ak_expiredkeyabcdefghijklmnopqrstuvwx"
	past := time.Now().Add(-time.Hour)
	seedKey(t, repo, "key-3", raw, func(k *types.ApiKey) { k.ExpiresAt = &past })

	result := ops.ValidateAPIKey(context.Background(), raw)
	assert.False(t, result.Success)
	assert.Equal(t, "expired", result.Error)
}

func TestRevokeKey_IsIdempotent(t *testing.T) {
	ops, _, repo := newTestOperations(t)
	seedKey(t, repo, "key-4", "ak_somevalueabcdefghijklmnopqrstuvwxyz")

	res, err := ops.RevokeKey(context.Background(), RevokeRequest{KeyID: "key-4", RevokedBy: "admin"})
	require.NoError(t, err)
	assert.True(t, res.Revoked)

	res, err = ops.RevokeKey(context.Background(), RevokeRequest{KeyID: "key-4", RevokedBy: "admin"})
	require.NoError(t, err)
	assert.True(t, res.AlreadyRevoked)
}

func TestAnalyzeKeySecurity_DormantOldKeyIsHighRisk(t *testing.T) {
	ops, _, repo := newTestOperations(t)
	old := time.Now().Add(-400 * 24 * time.Hour)
	lastUsed := time.Now().Add(-200 * 24 * time.Hour)
	seedKey(t, repo, "key-5", "ak_oldkeyabcdefghijklmnopqrstuvwxyz012", func(k *types.ApiKey) {
		k.CreatedAt = old
		k.LastUsedAt = &lastUsed
	})

	analysis, err := ops.AnalyzeKeySecurity(context.Background(), "key-5")
	require.NoError(t, err)
	assert.NotEqual(t, "low", analysis.ThreatLevel)
	assert.NotEmpty(t, analysis.Recommendations)
}

func TestAnalyzeKeySecurity_FreshKeyIsLowRisk(t *testing.T) {
	ops, _, repo := newTestOperations(t)
	seedKey(t, repo, "key-6", "ak_freshkeyabcdefghijklmnopqrstuvwxyz01")

	analysis, err := ops.AnalyzeKeySecurity(context.Background(), "key-6")
	require.NoError(t, err)
	assert.Equal(t, "low", analysis.ThreatLevel)
}
