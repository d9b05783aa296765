package oidc

import (
	"context"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/hivewarden-like/idpguard/internal/claims"
	"github.com/hivewarden-like/idpguard/internal/types"
)

// keycloakClaims is the JWT claims shape this client verifies: the
// full realm/client role and permission shape claims.Extract expects.
type keycloakClaims struct {
	jwt.Claims
	PreferredUsername string                        `json:"preferred_username"`
	Email             string                        `json:"email"`
	Name              string                        `json:"name"`
	Scope             string                        `json:"scope"`
	RealmAccess       claims.RealmAccess            `json:"realm_access"`
	ResourceAccess    map[string]claims.RealmAccess `json:"resource_access"`
	Authorization     claims.Authorization          `json:"authorization"`
}

func failed(errMsg string) *types.AuthenticationResult {
	return &types.AuthenticationResult{Success: false, Error: errMsg}
}

// ValidateToken implements the local JWT verification path of
// validateToken's six steps: shape check, cache lookup, signature
// verification, replay/revocation check, UserInfo construction, cache
// write.
func (c *Client) ValidateToken(ctx context.Context, token string) *types.AuthenticationResult {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ValidationTimeout)
	defer cancel()

	// Step 1: shape check.
	if len(token) < 1 || len(token) > 8192 || !looksLikeJWT(token) {
		return failed(ErrMalformed.Error())
	}

	// Step 2: cache lookup.
	digest := sha256Hex(token)
	if item := c.resultCache.Get(digest); item != nil {
		cached := item.Value()
		cached.FromCache = true
		c.deps.Metrics.RecordCounter("keycloak.token.validation_cache_hit", 1)
		return &cached
	}

	if err := c.Initialize(ctx); err != nil {
		return failed("upstream error during initialization")
	}

	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.RS256, jose.ES256})
	if err != nil {
		return failed(ErrMalformed.Error())
	}

	var kid string
	if len(parsed.Headers) > 0 {
		kid = parsed.Headers[0].KeyID
	}

	ks, err := c.jwks.getKeyForKID(ctx, kid)
	if err != nil {
		return failed("authentication service unavailable")
	}

	var cl keycloakClaims
	verified := false
	candidates := ks.Keys
	if kid != "" {
		candidates = ks.Key(kid)
	}
	for _, key := range candidates {
		if err := parsed.Claims(key, &cl); err == nil {
			verified = true
			break
		}
	}
	if !verified {
		for _, key := range ks.Keys {
			if err := parsed.Claims(key, &cl); err == nil {
				verified = true
				break
			}
		}
	}
	if !verified {
		return failed(ErrMalformed.Error())
	}

	now := time.Now()
	skew := c.cfg.ClockSkew
	if cl.Expiry != nil && cl.Expiry.Time().Add(skew).Before(now) {
		return failed(ErrMalformed.Error())
	}
	if cl.NotBefore != nil && now.Add(skew).Before(cl.NotBefore.Time()) {
		return failed(ErrMalformed.Error())
	}
	audienceOK := false
	for _, aud := range cl.Audience {
		if aud == c.cfg.ClientID {
			audienceOK = true
			break
		}
	}
	if !audienceOK {
		return failed(ErrMalformed.Error())
	}
	if c.cfg.ValidateIssuer {
		c.mu.RLock()
		expectedIssuer := c.discovery.Issuer
		c.mu.RUnlock()
		if cl.Issuer != expectedIssuer {
			return failed(ErrMalformed.Error())
		}
	}

	// Step 4: replay + revocation check.
	jti := cl.ID
	iat := ""
	if cl.IssuedAt != nil {
		iat = cl.IssuedAt.Time().String()
	}
	// Subject-wide revocation applies regardless of whether the token
	// carries a jti — a cutover must reject every token for the subject.
	if item := c.revokedSubject.Get(cl.Subject); item != nil {
		cutover := item.Value()
		if cl.IssuedAt != nil && !cl.IssuedAt.Time().After(cutover) {
			return failed(ErrRevoked.Error())
		}
	}

	if jti != "" {
		if c.revokedJTI.Get(jti) != nil {
			return failed(ErrRevoked.Error())
		}
		replayKey := jti + "|" + iat
		if c.replayCache.Get(replayKey) != nil {
			c.deps.Metrics.RecordCounter("keycloak.token.replay_detected", 1)
			return failed(ErrReplay.Error())
		}

		ttl := c.cfg.ReplayCacheMinTTL
		if cl.Expiry != nil {
			if remaining := time.Until(cl.Expiry.Time()); remaining > ttl {
				ttl = remaining
			}
		}
		c.replayCache.Set(replayKey, struct{}{}, ttl)
	}

	// Step 5: build UserInfo.
	roles := claims.Extract(claims.Claims{
		Subject:           cl.Subject,
		PreferredUsername: cl.PreferredUsername,
		Email:             cl.Email,
		Name:              cl.Name,
		Scope:             cl.Scope,
		RealmAccess:       cl.RealmAccess,
		ResourceAccess:    cl.ResourceAccess,
		Authorization:     cl.Authorization,
	})

	var expiresAt time.Time
	if cl.Expiry != nil {
		expiresAt = cl.Expiry.Time()
	}

	result := types.AuthenticationResult{
		Success:   true,
		User:      roles,
		Token:     token,
		Scopes:    roles.Permissions,
		ExpiresAt: expiresAt,
	}

	// Step 6: cache the result with TTL aligned to expiry.
	if ttl := time.Until(expiresAt); ttl > 0 {
		c.resultCache.Set(digest, result, ttl)
	}

	return &result
}

func looksLikeJWT(token string) bool {
	segments := 0
	for _, r := range token {
		if r == '.' {
			segments++
		}
	}
	return segments == 2
}
