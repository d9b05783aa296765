// Package ports declares the capability interfaces the identity core
// depends on. Every component in this module is constructed with one
// or more of these — never a concrete HTTP client, cache, or database
// handle directly — so any conforming implementation works.
package ports

import (
	"context"
	"net/http"
	"time"

	"github.com/hivewarden-like/idpguard/internal/types"
)

// HTTPResponse is the normalized shape every HttpClient call returns.
type HTTPResponse struct {
	Status     int
	StatusText string
	Headers    http.Header
	Data       []byte
}

// RequestOptions configures one HttpClient call.
type RequestOptions struct {
	Headers   map[string]string
	Timeout   time.Duration
	Retries   int
	Form      map[string]string // application/x-www-form-urlencoded body
	JSONBody  any
}

// HttpClient is the outbound HTTP capability. Implementations own
// retries, circuit breaking, and timeouts; they MUST NOT mutate the
// request body.
type HttpClient interface {
	Get(ctx context.Context, url string, opts RequestOptions) (*HTTPResponse, error)
	Post(ctx context.Context, url string, opts RequestOptions) (*HTTPResponse, error)
	Put(ctx context.Context, url string, opts RequestOptions) (*HTTPResponse, error)
	Delete(ctx context.Context, url string, opts RequestOptions) (*HTTPResponse, error)
}

// CacheResult is returned by CacheService.Get.
type CacheResult struct {
	Data  []byte
	Hit   bool
}

// CacheService is the key-value cache capability. Values are opaque
// blobs; callers own serialization and integrity envelopes.
type CacheService interface {
	Get(ctx context.Context, key string) (CacheResult, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	InvalidatePattern(ctx context.Context, pattern string) error
}

// ApiKeyRepository is the persistent-store capability for API keys.
type ApiKeyRepository interface {
	Create(ctx context.Context, key *types.ApiKey) error
	GetByID(ctx context.Context, id string) (*types.ApiKey, error)
	FindByKeyIdentifier(ctx context.Context, identifier string) (*types.ApiKey, error)
	FindByUser(ctx context.Context, userID string) ([]*types.ApiKey, error)
	FindActiveByUser(ctx context.Context, userID string) ([]*types.ApiKey, error)
	IncrementUsageCount(ctx context.Context, id string, by int64, lastUsedAt time.Time) error
	BatchIncrementUsageCount(ctx context.Context, deltas map[string]int64, lastUsedAt time.Time) error
	RevokeByID(ctx context.Context, id, revokedBy string, metadata map[string]any) error
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error
	GetApiKeyStats(ctx context.Context, userID string) (map[string]any, error)
	GetUsageAnalyticsSummary(ctx context.Context) (map[string]any, error)
	GetMostUsedKeys(ctx context.Context, limit int) ([]*types.ApiKey, error)
	GetLeastUsedKeys(ctx context.Context, limit int) ([]*types.ApiKey, error)
	Count(ctx context.Context) (int64, error)
}

// MetricsCollector is the metrics-sink capability.
type MetricsCollector interface {
	RecordCounter(name string, n float64)
	RecordTimer(name string, d time.Duration)
	RecordGauge(name string, v float64)
}

// Logger is the structured-logging capability.
type Logger interface {
	Debug(msg string, ctx map[string]any)
	Info(msg string, ctx map[string]any)
	Warn(msg string, ctx map[string]any)
	Error(msg string, err error, ctx map[string]any)
}
