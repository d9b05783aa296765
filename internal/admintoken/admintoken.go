// Package admintoken provides a cached client-credentials token used to
// authenticate every Admin-API call, refreshing shortly before expiry
// and coalescing concurrent refreshes into one in-flight request via
// golang.org/x/sync/singleflight.
package admintoken

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hivewarden-like/idpguard/internal/types"
)

// TokenSource issues new client-credentials tokens. *oidc.Client
// satisfies this via AuthenticateClientCredentials.
type TokenSource interface {
	AuthenticateClientCredentials(ctx context.Context, scopes []string) (types.TokenResponse, error)
}

// DefaultScopes are requested when Provider is constructed without an
// explicit scope list.
var DefaultScopes = []string{"manage-users", "manage-realm", "view-users", "view-realm"}

// preExpiryMargin is how long before the token's recorded expiry a
// cached token is considered stale and due for refresh.
const preExpiryMargin = 30 * time.Second

// Provider holds at most one TokenResponse with an associated expiry.
type Provider struct {
	source TokenSource
	scopes []string

	mu     sync.RWMutex
	token  string
	expiry time.Time

	sf singleflight.Group
}

// New constructs a Provider backed by source. An empty scopes slice
// uses DefaultScopes.
func New(source TokenSource, scopes []string) *Provider {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &Provider{source: source, scopes: scopes}
}

// GetValidToken returns the cached access token iff now < expiry - 30s;
// otherwise it refreshes, with concurrent callers sharing one in-flight
// refresh rather than each issuing their own.
func (p *Provider) GetValidToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	if p.token != "" && time.Now().Before(p.expiry.Add(-preExpiryMargin)) {
		tok := p.token
		p.mu.RUnlock()
		return tok, nil
	}
	p.mu.RUnlock()

	v, err, _ := p.sf.Do("refresh", func() (any, error) {
		p.mu.RLock()
		if p.token != "" && time.Now().Before(p.expiry.Add(-preExpiryMargin)) {
			tok := p.token
			p.mu.RUnlock()
			return tok, nil
		}
		p.mu.RUnlock()

		tr, err := p.source.AuthenticateClientCredentials(ctx, p.scopes)
		if err != nil {
			return "", fmt.Errorf("admintoken: refresh client-credentials token: %w", err)
		}

		issuedAt := time.Now()
		p.mu.Lock()
		p.token = tr.AccessToken
		p.expiry = tr.ExpiresAt(issuedAt)
		p.mu.Unlock()

		return tr.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate forces a refresh on the next GetValidToken call.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	p.expiry = time.Time{}
}
