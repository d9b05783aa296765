package oidc

import (
	"context"
	"time"

	"github.com/hivewarden-like/idpguard/internal/ports"
)

// noopCache is used when a Client is constructed without a CacheService;
// every lookup misses and every write is a no-op.
type noopCache struct{}

func (noopCache) Get(context.Context, string) (ports.CacheResult, error) { return ports.CacheResult{}, nil }
func (noopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (noopCache) Invalidate(context.Context, string) error                 { return nil }
func (noopCache) InvalidatePattern(context.Context, string) error          { return nil }

type noopMetrics struct{}

func (noopMetrics) RecordCounter(string, float64)      {}
func (noopMetrics) RecordTimer(string, time.Duration)  {}
func (noopMetrics) RecordGauge(string, float64)        {}

type noopLogger struct{}

func (noopLogger) Debug(string, map[string]any)            {}
func (noopLogger) Info(string, map[string]any)              {}
func (noopLogger) Warn(string, map[string]any)              {}
func (noopLogger) Error(string, error, map[string]any)       {}
