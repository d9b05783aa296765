// Package resilience wraps an OIDC client with an offline-mode
// fallback: serve previously validated tokens from a short-lived
// cache, and optionally admit anonymous requests with a restricted
// permission set, when the identity provider is unreachable. A
// mutex-guarded cache and a background health-probe timer (ticker +
// stopCh/doneCh) flip an offline flag when the provider stops
// responding.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/hivewarden-like/idpguard/internal/ports"
	"github.com/hivewarden-like/idpguard/internal/types"
)

// UnderlyingClient is the capability the wrapper degrades gracefully
// around — satisfied by *oidc.Client.
type UnderlyingClient interface {
	ValidateToken(ctx context.Context, token string) *types.AuthenticationResult
	HealthCheck(ctx context.Context) error
}

// Config tunes the wrapper's offline-mode behavior.
type Config struct {
	// OfflineTokenValidity is how long a previously successful
	// validation result remains servable once the IdP is unreachable.
	OfflineTokenValidity time.Duration

	// ProbeInterval is the minimum spacing between health re-probes
	// while offline, so a down IdP isn't hammered with health checks.
	ProbeInterval time.Duration

	// AnonymousModeEnabled admits unknown tokens while offline with
	// AnonymousPermissions rather than failing the call outright.
	AnonymousModeEnabled bool
	AnonymousPermissions []string
}

// WithDefaults fills unset fields with spec-mandated defaults.
func (c Config) WithDefaults() Config {
	if c.OfflineTokenValidity == 0 {
		c.OfflineTokenValidity = 15 * time.Minute
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = 30 * time.Second
	}
	return c
}

// Client wraps an UnderlyingClient, serving cached successes and
// (optionally) anonymous access when the IdP is unreachable.
type Client struct {
	inner UnderlyingClient
	cfg   Config

	metrics ports.MetricsCollector
	logger  ports.Logger

	cache *ttlcache.Cache[string, types.AuthenticationResult]

	mu         sync.Mutex
	offline    bool
	lastProbed time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a resilience-wrapped Client around inner and starts
// its background health-probe timer, which calls HealthCheck every
// ProbeInterval so the offline flag reflects reality even when no
// ValidateToken traffic is flowing.
func New(inner UnderlyingClient, metrics ports.MetricsCollector, logger ports.Logger, cfg Config) *Client {
	cfg = cfg.WithDefaults()
	c := &Client{
		inner:   inner,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		cache: ttlcache.New[string, types.AuthenticationResult](
			ttlcache.WithTTL[string, types.AuthenticationResult](cfg.OfflineTokenValidity),
		),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go c.cache.Start()
	go c.probeLoop()
	return c
}

// probeLoop calls HealthCheck on ProbeInterval until Stop is called.
// HealthCheck's own rate limiting means an externally-triggered probe
// (if any) and this loop never double-probe within a single interval.
func (c *Client) probeLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = c.HealthCheck(context.Background())
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) recordCounter(name string, n float64) {
	if c.metrics != nil {
		c.metrics.RecordCounter(name, n)
	}
}

func (c *Client) warn(msg string, ctx map[string]any) {
	if c.logger != nil {
		c.logger.Warn(msg, ctx)
	}
}

func (c *Client) isOffline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offline
}

func (c *Client) markOffline() {
	c.mu.Lock()
	c.offline = true
	c.mu.Unlock()
}

func (c *Client) markOnline() {
	c.mu.Lock()
	c.offline = false
	c.mu.Unlock()
}

// shouldProbe reports whether enough time has elapsed since the last
// health probe to attempt another one, and records the attempt.
func (c *Client) shouldProbe(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastProbed) < c.cfg.ProbeInterval {
		return false
	}
	c.lastProbed = now
	return true
}

func anonymousResult(perms []string) *types.AuthenticationResult {
	return &types.AuthenticationResult{
		Success: true,
		User: &types.UserInfo{
			ID:          "anonymous",
			Username:    "anonymous",
			Permissions: perms,
		},
		FromCache: false,
	}
}

// ValidateToken calls the wrapped client; on success it refreshes the
// offline cache entry and clears the offline flag. On failure it
// consults the offline cache, falling back to an anonymous result (if
// enabled) or propagating the failure.
func (c *Client) ValidateToken(ctx context.Context, token string) *types.AuthenticationResult {
	result := c.inner.ValidateToken(ctx, token)
	if result.Success {
		c.markOnline()
		c.cache.Set(token, *result, c.cfg.OfflineTokenValidity)
		return result
	}

	if !c.isOffline() {
		// Underlying client failed but we don't yet believe the IdP is
		// down — this may be an ordinary validation failure (bad
		// token), not an outage. Propagate it as-is.
		return result
	}

	if item := c.cache.Get(token); item != nil {
		cached := item.Value()
		cached.FromCache = true
		c.recordCounter("resilience.offline_cache_hit", 1)
		return &cached
	}

	if c.cfg.AnonymousModeEnabled {
		c.recordCounter("resilience.anonymous_admitted", 1)
		return anonymousResult(c.cfg.AnonymousPermissions)
	}

	return result
}

// HealthCheck probes the underlying client, rate-limited by
// ProbeInterval, and flips the offline flag on failure/recovery.
func (c *Client) HealthCheck(ctx context.Context) error {
	now := time.Now()
	if !c.shouldProbe(now) {
		if c.isOffline() {
			return ErrStillOffline
		}
		return nil
	}

	if err := c.inner.HealthCheck(ctx); err != nil {
		wasOffline := c.isOffline()
		c.markOffline()
		if !wasOffline {
			c.warn("identity provider unreachable, entering offline mode", map[string]any{"error": err.Error()})
			c.recordCounter("resilience.entered_offline", 1)
		}
		return err
	}

	if c.isOffline() {
		c.warn("identity provider reachable again, leaving offline mode", nil)
		c.recordCounter("resilience.recovered", 1)
	}
	c.markOnline()
	return nil
}

// Stop halts the offline cache's background sweeper and the
// health-probe timer, waiting for the latter to exit.
func (c *Client) Stop() {
	c.cache.Stop()
	close(c.stopCh)
	<-c.doneCh
}
