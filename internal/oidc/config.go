package oidc

import "time"

// Config configures one Client instance. One Config maps to one
// audience (frontend, service, admin, …) in the multi-client factory.
type Config struct {
	ServerURL    string
	Realm        string
	ClientID     string
	ClientSecret string // required for confidential clients
	RedirectURI  string
	Scopes       []string

	// ValidateIssuer rejects tokens whose iss does not exactly match the
	// discovery document's issuer, even if the signature verifies.
	ValidateIssuer bool

	ClockSkew            time.Duration
	DiscoveryTTL         time.Duration
	JWKSForceRefreshCooldown time.Duration
	ReplayCacheMinTTL    time.Duration
	IntrospectionCacheTTL time.Duration
	UserinfoCacheTTL     time.Duration
	RevocationCacheTTL   time.Duration
	RequestTimeout       time.Duration
	ValidationTimeout    time.Duration
}

// WithDefaults fills unset fields with spec-mandated defaults.
func (c Config) WithDefaults() Config {
	if c.ClockSkew == 0 {
		c.ClockSkew = 30 * time.Second
	}
	if c.DiscoveryTTL == 0 {
		c.DiscoveryTTL = time.Hour
	}
	if c.JWKSForceRefreshCooldown == 0 {
		c.JWKSForceRefreshCooldown = 30 * time.Second
	}
	if c.ReplayCacheMinTTL == 0 {
		c.ReplayCacheMinTTL = 60 * time.Second
	}
	if c.IntrospectionCacheTTL == 0 {
		c.IntrospectionCacheTTL = 60 * time.Second
	}
	if c.UserinfoCacheTTL == 0 {
		c.UserinfoCacheTTL = 5 * time.Minute
	}
	if c.RevocationCacheTTL == 0 {
		c.RevocationCacheTTL = 24 * time.Hour
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.ValidationTimeout == 0 {
		c.ValidationTimeout = 5 * time.Second
	}
	return c
}
