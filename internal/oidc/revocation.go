package oidc

import "time"

// RevokeSession marks jti as revoked until its natural expiry exp, so a
// subsequent ValidateToken call rejects it even though the signature
// still verifies. Backed by its own ttlcache instance (revokedJTI),
// separate from the replay cache — self-expiring, no unbounded growth.
func (c *Client) RevokeSession(jti string, exp time.Time) {
	ttl := time.Until(exp)
	if ttl <= 0 {
		ttl = c.cfg.RevocationCacheTTL
	}
	c.revokedJTI.Set(jti, struct{}{}, ttl)
}

// RevokeAllForSubject rejects every token for sub whose iat predates
// cutover, regardless of jti — used for "log out everywhere"/password
// change flows.
func (c *Client) RevokeAllForSubject(sub string, cutover time.Time) {
	c.revokedSubject.Set(sub, cutover, c.cfg.RevocationCacheTTL)
}
