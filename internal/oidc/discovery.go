package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hivewarden-like/idpguard/internal/ports"
	"github.com/hivewarden-like/idpguard/internal/types"
)

type discoveryDoc struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserinfoEndpoint      string   `json:"userinfo_endpoint"`
	IntrospectionEndpoint string   `json:"introspection_endpoint"`
	EndSessionEndpoint    string   `json:"end_session_endpoint"`
	JWKSURI               string   `json:"jwks_uri"`
	GrantTypesSupported   []string `json:"grant_types_supported"`
	ScopesSupported       []string `json:"scopes_supported"`
	AlgorithmsSupported   []string `json:"id_token_signing_alg_values_supported"`
}

func (c *Client) discoveryURL() string {
	return strings.TrimRight(c.cfg.ServerURL, "/") + "/realms/" + c.cfg.Realm + "/.well-known/openid-configuration"
}

// Initialize fetches the discovery document once. Idempotent: once the
// client reaches stateInitialized, subsequent calls are no-ops.
// Concurrent callers share one in-flight fetch (single-flight).
func (c *Client) Initialize(ctx context.Context) error {
	if c.stateOf() == stateInitialized {
		return nil
	}
	if c.stateOf() == stateFailed {
		return ErrClientFailed
	}

	_, err, _ := c.discoverySF.Do("discovery", func() (any, error) {
		if c.stateOf() == stateInitialized {
			return nil, nil
		}
		doc, err := c.fetchDiscovery(ctx)
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.st = stateFailed
			return nil, err
		}
		c.discovery = doc
		c.jwks = newJWKSCache(doc.JWKSURI, c.deps.Http, c.cfg.JWKSForceRefreshCooldown)
		c.st = stateInitialized
		return nil, nil
	})
	return err
}

func (c *Client) fetchDiscovery(ctx context.Context) (*types.DiscoveryDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.deps.Http.Get(ctx, c.discoveryURL(), ports.RequestOptions{Timeout: c.cfg.RequestTimeout})
	if err != nil {
		return nil, wrapTimeout(err, "fetch discovery document")
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, fmt.Errorf("%w: discovery returned status %d", ErrUpstream, resp.Status)
	}

	var doc discoveryDoc
	if err := json.Unmarshal(resp.Data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode discovery document: %v", ErrUpstream, err)
	}

	if doc.Issuer == "" || doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" || doc.JWKSURI == "" {
		return nil, fmt.Errorf("%w", ErrConfigurationInvalid)
	}

	expectedIssuer := strings.TrimRight(c.cfg.ServerURL, "/") + "/realms/" + c.cfg.Realm
	if doc.Issuer != expectedIssuer {
		c.deps.Metrics.RecordCounter("discovery.issuer_mismatch", 1)
		c.deps.Logger.Warn("discovery issuer does not match expected issuer", map[string]any{
			"expected": expectedIssuer,
			"actual":   doc.Issuer,
		})
	}

	return &types.DiscoveryDocument{
		Issuer:                doc.Issuer,
		AuthorizationEndpoint: doc.AuthorizationEndpoint,
		TokenEndpoint:         doc.TokenEndpoint,
		UserinfoEndpoint:      doc.UserinfoEndpoint,
		IntrospectionEndpoint: doc.IntrospectionEndpoint,
		EndSessionEndpoint:    doc.EndSessionEndpoint,
		JWKSURI:               doc.JWKSURI,
		GrantTypesSupported:   doc.GrantTypesSupported,
		ScopesSupported:       doc.ScopesSupported,
		AlgorithmsSupported:   doc.AlgorithmsSupported,
		FetchedAt:             time.Now(),
	}, nil
}

// discoveryDocument returns the cached document, initializing first if needed.
func (c *Client) discoveryDocument(ctx context.Context) (*types.DiscoveryDocument, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.discovery, nil
}
