package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/hivewarden-like/idpguard/internal/ports"
)

// jwksCache lazily fetches and caches the JWKS referenced by a
// discovery document, refreshing on a force-refresh cooldown when an
// unseen kid appears. Driven by the ports.HttpClient capability
// instead of a raw *http.Client.
type jwksCache struct {
	mu               sync.RWMutex
	uri              string
	http             ports.HttpClient
	cached           *jose.JSONWebKeySet
	lastFetch        time.Time
	lastForceRefresh time.Time
	cooldown         time.Duration
}

func newJWKSCache(uri string, http ports.HttpClient, cooldown time.Duration) *jwksCache {
	return &jwksCache{uri: uri, http: http, cooldown: cooldown}
}

func (j *jwksCache) fetch(ctx context.Context) (*jose.JSONWebKeySet, error) {
	resp, err := j.http.Get(ctx, j.uri, ports.RequestOptions{Timeout: 10 * time.Second})
	if err != nil {
		return nil, wrapTimeout(err, "fetch JWKS")
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, fmt.Errorf("%w: JWKS returned status %d", ErrUpstream, resp.Status)
	}
	var ks jose.JSONWebKeySet
	if err := json.Unmarshal(resp.Data, &ks); err != nil {
		return nil, fmt.Errorf("%w: decode JWKS: %v", ErrUpstream, err)
	}
	return &ks, nil
}

// keySet returns the cached JWKS, fetching it if never fetched. It does
// not itself apply any TTL expiry — unlike discovery, JWKS refresh is
// driven only by the kid-miss cooldown in getKeyForKID.
func (j *jwksCache) keySet(ctx context.Context) (*jose.JSONWebKeySet, error) {
	j.mu.RLock()
	if j.cached != nil {
		ks := j.cached
		j.mu.RUnlock()
		return ks, nil
	}
	j.mu.RUnlock()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cached != nil {
		return j.cached, nil
	}
	ks, err := j.fetch(ctx)
	if err != nil {
		return nil, err
	}
	j.cached = ks
	j.lastFetch = time.Now()
	return ks, nil
}

// getKeyForKID returns the JWKS, forcing a refresh (rate-limited by
// cooldown) when kid is non-empty and absent from the cached set —
// handling key rotation without a thundering herd.
func (j *jwksCache) getKeyForKID(ctx context.Context, kid string) (*jose.JSONWebKeySet, error) {
	ks, err := j.keySet(ctx)
	if err != nil {
		return nil, err
	}
	if kid == "" || len(ks.Key(kid)) > 0 {
		return ks, nil
	}

	j.mu.Lock()
	if time.Since(j.lastForceRefresh) <= j.cooldown {
		j.mu.Unlock()
		return ks, nil
	}
	j.lastForceRefresh = time.Now()
	j.mu.Unlock()

	fresh, err := j.fetch(ctx)
	if err != nil {
		return ks, nil // stale keyset beats a hard failure on rotation races
	}
	j.mu.Lock()
	j.cached = fresh
	j.lastFetch = time.Now()
	j.mu.Unlock()
	return fresh, nil
}
