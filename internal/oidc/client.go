// Package oidc implements the OIDC/OAuth2 client core: discovery,
// JWKS-based JWT verification with replay protection, introspection,
// every grant type, logout, and session revocation tracking, as a
// standalone client any consumer can call directly.
package oidc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/hivewarden-like/idpguard/internal/claims"
	"github.com/hivewarden-like/idpguard/internal/ports"
	"github.com/hivewarden-like/idpguard/internal/types"
)

type state int

const (
	statePending state = iota
	stateInitialized
	stateFailed
)

// Deps are the capability collaborators a Client is built with. Http
// is required; Cache, Metrics and Logger default to no-ops when nil.
type Deps struct {
	Http    ports.HttpClient
	Cache   ports.CacheService
	Metrics ports.MetricsCollector
	Logger  ports.Logger
}

// Client is one OIDC client bound to a single (server, realm, clientID)
// triple — one per audience in the multi-client factory.
type Client struct {
	cfg  Config
	deps Deps

	mu        sync.RWMutex
	st        state
	discovery *types.DiscoveryDocument
	jwks      *jwksCache

	discoverySF singleflight.Group

	resultCache  *ttlcache.Cache[string, types.AuthenticationResult]
	replayCache  *ttlcache.Cache[string, struct{}]
	introspCache *ttlcache.Cache[string, types.AuthenticationResult]
	userinfoCache *ttlcache.Cache[string, types.UserInfo]

	revokedJTI     *ttlcache.Cache[string, struct{}]
	revokedSubject *ttlcache.Cache[string, time.Time]
}

// New constructs a Client in the pending state. No network call is made
// until the first initialize() (direct or implicit via validateToken/
// healthCheck).
func New(cfg Config, deps Deps) *Client {
	cfg = cfg.WithDefaults()
	if deps.Cache == nil {
		deps.Cache = noopCache{}
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}

	c := &Client{
		cfg:  cfg,
		deps: deps,
		st:   statePending,
	}

	c.resultCache = ttlcache.New[string, types.AuthenticationResult](
		ttlcache.WithTTL[string, types.AuthenticationResult](5 * time.Minute))
	c.replayCache = ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](cfg.ReplayCacheMinTTL))
	c.introspCache = ttlcache.New[string, types.AuthenticationResult](
		ttlcache.WithTTL[string, types.AuthenticationResult](cfg.IntrospectionCacheTTL))
	c.userinfoCache = ttlcache.New[string, types.UserInfo](
		ttlcache.WithTTL[string, types.UserInfo](cfg.UserinfoCacheTTL))
	c.revokedJTI = ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](cfg.RevocationCacheTTL))
	c.revokedSubject = ttlcache.New[string, time.Time](
		ttlcache.WithTTL[string, time.Time](cfg.RevocationCacheTTL))

	go c.resultCache.Start()
	go c.replayCache.Start()
	go c.introspCache.Start()
	go c.userinfoCache.Start()
	go c.revokedJTI.Start()
	go c.revokedSubject.Start()

	return c
}

func (c *Client) stateOf() state {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.st
}

// HealthCheck succeeds iff a discovery document has been loaded,
// initializing one if needed.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.stateOf() == stateInitialized {
		return nil
	}
	return c.Initialize(ctx)
}

// Dispose clears the discovery document, JWKS cache, and all internal
// caches, and stops their background sweepers. The Client must not be
// reused after Dispose; callers should construct a new one.
func (c *Client) Dispose() {
	c.mu.Lock()
	c.discovery = nil
	c.jwks = nil
	c.st = statePending
	c.mu.Unlock()

	c.resultCache.Stop()
	c.replayCache.Stop()
	c.introspCache.Stop()
	c.userinfoCache.Stop()
	c.revokedJTI.Stop()
	c.revokedSubject.Stop()
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func claimsToUserInfo(subject, username, email, name string, roles, permissions []string) *types.UserInfo {
	extracted := claims.Extract(claims.Claims{
		Subject:           subject,
		PreferredUsername: username,
		Email:             email,
		Name:              name,
	})
	if len(roles) > 0 {
		extracted.Roles = roles
	}
	if len(permissions) > 0 {
		extracted.Permissions = permissions
	}
	return extracted
}

func wrapTimeout(err error, op string) error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded {
		return fmt.Errorf("%w: %s", ErrUpstreamTimeout, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrUpstream, op, err)
}
