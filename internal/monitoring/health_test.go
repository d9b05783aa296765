package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivewarden-like/idpguard/internal/ports"
	"github.com/hivewarden-like/idpguard/internal/types"
)

type fakeMonitoringCache struct{}

func (c *fakeMonitoringCache) Get(ctx context.Context, key string) (ports.CacheResult, error) {
	return ports.CacheResult{}, nil
}
func (c *fakeMonitoringCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}
func (c *fakeMonitoringCache) Invalidate(ctx context.Context, key string) error { return nil }
func (c *fakeMonitoringCache) InvalidatePattern(ctx context.Context, pattern string) error {
	return nil
}

func TestPerformHealthCheck_AllHealthyWhenRepoAndCacheOK(t *testing.T) {
	repo := &fakeApiKeyRepo{count: 42}
	cache := &fakeMonitoringCache{}
	m := NewHealthMonitor(repo, cache, nil, nil, HealthConfig{}, nil)

	snapshot := m.PerformHealthCheck(context.Background())
	assert.Equal(t, "healthy", snapshot.Status)
	assert.Len(t, snapshot.Components, 3)
}

func TestPerformHealthCheck_DatabaseErrorIsCritical(t *testing.T) {
	repo := &fakeApiKeyRepo{countErr: assert.AnError}
	m := NewHealthMonitor(repo, &fakeMonitoringCache{}, nil, nil, HealthConfig{}, nil)

	snapshot := m.PerformHealthCheck(context.Background())
	assert.Equal(t, "critical", snapshot.Status)

	dbComponent, ok := findComponent(snapshot.Components, "database")
	require.True(t, ok)
	assert.Equal(t, "unhealthy", dbComponent.Status)
}

func findComponent(components []types.ComponentHealth, name string) (types.ComponentHealth, bool) {
	for _, c := range components {
		if c.Name == name {
			return c, true
		}
	}
	return types.ComponentHealth{}, false
}

func TestPerformHealthCheck_NilCacheIsDegradedNotUnhealthy(t *testing.T) {
	repo := &fakeApiKeyRepo{}
	m := NewHealthMonitor(repo, nil, nil, nil, HealthConfig{}, nil)

	snapshot := m.PerformHealthCheck(context.Background())
	assert.Equal(t, "degraded", snapshot.Status)
	assert.NotEqual(t, "unhealthy", snapshot.Status)
}

func TestStartContinuousMonitoring_PublishesSnapshotsUntilStopped(t *testing.T) {
	repo := &fakeApiKeyRepo{}
	received := make(chan types.SystemHealth, 10)
	m := NewHealthMonitor(repo, &fakeMonitoringCache{}, nil, nil, HealthConfig{CheckInterval: 10 * time.Millisecond}, func(s types.SystemHealth) {
		select {
		case received <- s:
		default:
		}
	})
	m.StartContinuousMonitoring(context.Background())

	require.Eventually(t, func() bool {
		return len(received) > 0
	}, time.Second, 5*time.Millisecond)

	m.Stop()
}

func TestStop_HaltsContinuousMonitoringCleanly(t *testing.T) {
	repo := &fakeApiKeyRepo{}
	received := make(chan struct{}, 10)
	m := NewHealthMonitor(repo, &fakeMonitoringCache{}, nil, nil, HealthConfig{CheckInterval: 10 * time.Millisecond}, func(_ types.SystemHealth) {
		select {
		case received <- struct{}{}:
		default:
		}
	})
	m.StartContinuousMonitoring(context.Background())

	require.Eventually(t, func() bool {
		return len(received) > 0
	}, time.Second, 5*time.Millisecond)

	m.Stop()
}
