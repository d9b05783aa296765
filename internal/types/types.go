// Package types holds the data model shared across the identity core:
// discovery documents, tokens, authentication results, API keys, and
// health snapshots. None of these types carry behavior beyond small
// invariant helpers; the packages under internal/ own their lifecycle.
package types

import "time"

// DiscoveryDocument is the immutable result of an OIDC discovery fetch,
// keyed on (server URL, realm).
type DiscoveryDocument struct {
	Issuer                string
	AuthorizationEndpoint string
	TokenEndpoint         string
	UserinfoEndpoint      string
	IntrospectionEndpoint string
	EndSessionEndpoint    string
	JWKSURI               string
	GrantTypesSupported   []string
	ScopesSupported       []string
	AlgorithmsSupported   []string
	FetchedAt             time.Time
}

// TokenResponse is the normalized result of any OAuth2 grant.
type TokenResponse struct {
	AccessToken      string
	RefreshToken     string
	IDToken          string
	TokenType        string
	ExpiresIn        int64
	RefreshExpiresIn int64
	Scope            string
	SessionID        string // set only by the resource-owner password grant
}

// ExpiresAt returns the absolute expiry instant for the access token,
// computed relative to issuedAt.
func (t TokenResponse) ExpiresAt(issuedAt time.Time) time.Time {
	return issuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// UserInfo is the normalized identity extracted from claims or
// introspection/userinfo responses. Roles and Permissions are always
// deduplicated, sorted, and empty-string-free.
type UserInfo struct {
	ID          string
	Username    string
	Email       string
	Name        string
	Roles       []string
	Permissions []string
	Metadata    map[string]string
}

// AuthenticationResult is produced by every validation path (JWT or API
// key). Invariant: Success implies User is non-nil; !Success implies
// Error is non-empty.
type AuthenticationResult struct {
	Success   bool
	User      *UserInfo
	Token     string
	Scopes    []string
	ExpiresAt time.Time
	Error     string
	FromCache bool
}

// ApiKey is the persisted representation of a first-party API key.
// Invariants: !IsActive implies RevokedAt set; UsageCount never
// negative; at most one active key per KeyIdentifier.
type ApiKey struct {
	ID            string
	Name          string
	UserID        string
	KeyHash       string
	KeyIdentifier string
	KeyPreview    string
	Scopes        []string
	Permissions   []string
	IsActive      bool
	ExpiresAt     *time.Time
	LastUsedAt    *time.Time
	UsageCount    int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	RevokedAt     *time.Time
	RevokedBy     string
	Metadata      map[string]any
}

// IsExpired reports whether the key's ExpiresAt has passed as of now.
func (k *ApiKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// SecurityAnalysis summarizes the risk posture of one API key.
type SecurityAnalysis struct {
	KeyID               string
	AgeDays             int
	RecentUsageCount    int64
	DaysSinceLastUse    int
	ThreatLevel         string // low | medium | high | critical
	RiskScore           int
	Recommendations     []string
	RotationRecommended bool
	RevocationAdvised   bool
}

// ComponentHealth is the status of one monitored component.
type ComponentHealth struct {
	Name      string
	Status    string // healthy | degraded | unhealthy
	Message   string
	Metrics   map[string]float64
	CheckedAt time.Time
}

// SystemHealth aggregates component health into one system-wide signal.
type SystemHealth struct {
	Status          string // healthy | degraded | unhealthy | critical
	Components      []ComponentHealth
	Recommendations []string
	CheckedAt       time.Time
}

// EntropyTestResult is the outcome of one entropy self-test run.
type EntropyTestResult struct {
	Status             string // healthy | degraded | failed
	TestsRun           int
	SuccessfulRuns     int
	QualityScorePct    float64
	AvgGenerationTime  time.Duration
	Recommendations    []string
}
