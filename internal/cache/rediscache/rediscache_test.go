package rediscache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoRedis skips the test if Redis is not available.
// Set REDIS_URL to run these tests against a real instance.
func skipIfNoRedis(t *testing.T) string {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping Redis cache tests")
	}
	return url
}

func TestNew_ErrorsWhenURLNotConfigured(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_ErrorsOnUnparsableURL(t *testing.T) {
	_, err := New(Config{URL: "not-a-redis-url"})
	assert.Error(t, err)
}

func TestCache_SetGetInvalidateRoundTrip(t *testing.T) {
	url := skipIfNoRedis(t)

	c, err := New(Config{URL: url, KeyPrefix: "idpguard-test"})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	key := "roundtrip"
	require.NoError(t, c.Invalidate(ctx, key))

	res, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Hit)

	require.NoError(t, c.Set(ctx, key, []byte("payload"), time.Minute))

	res, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, res.Hit)
	assert.Equal(t, []byte("payload"), res.Data)

	require.NoError(t, c.Invalidate(ctx, key))
	res, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Hit)
}

func TestCache_InvalidatePatternClearsMatchingKeys(t *testing.T) {
	url := skipIfNoRedis(t)

	c, err := New(Config{URL: url, KeyPrefix: "idpguard-test"})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "user:1:keys", []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, "user:1:profile", []byte("b"), time.Minute))
	require.NoError(t, c.Set(ctx, "user:2:keys", []byte("c"), time.Minute))

	require.NoError(t, c.InvalidatePattern(ctx, "user:1:*"))

	res, err := c.Get(ctx, "user:1:keys")
	require.NoError(t, err)
	assert.False(t, res.Hit)

	res, err = c.Get(ctx, "user:2:keys")
	require.NoError(t, err)
	assert.True(t, res.Hit)

	_ = c.Invalidate(ctx, "user:2:keys")
}
