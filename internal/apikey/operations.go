package apikey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/crypto/bcrypt"

	"github.com/hivewarden-like/idpguard/internal/ports"
	"github.com/hivewarden-like/idpguard/internal/types"
)

const bcryptCost = 12

// validationCacheTTL bounds how long a positive validation result is
// trusted without re-checking storage, so a revocation or expiry that
// lands after the cache is populated is still observed promptly.
const validationCacheTTL = 30 * time.Second

var keyFormat = regexp.MustCompile(`^[A-Za-z0-9_-]{10,200}$`)

// dummyHash is compared against on a storage miss, so a nonexistent key
// costs the same wall-clock time as a real one — closing the timing
// side-channel that would otherwise distinguish "no such key" from
// "key exists, wrong secret".
var dummyHash = mustHash("dummy-key-for-constant-time-comparison-only")

func mustHash(s string) string {
	h, err := bcrypt.GenerateFromPassword([]byte(s), bcryptCost)
	if err != nil {
		panic(fmt.Sprintf("apikey: failed to precompute dummy hash: %v", err))
	}
	return string(h)
}

// UsageTracker receives fire-and-forget usage notifications, batching and
// flushing them on its own schedule. monitoring.UsageTracker satisfies this.
type UsageTracker interface {
	TrackUsage(keyID string)
}

// Operations implements API-key validation, revocation, and security
// analysis over a Storage-backed repository.
type Operations struct {
	storage *Storage
	cache   ports.CacheService
	metrics ports.MetricsCollector
	logger  ports.Logger

	// usage receives fire-and-forget usage notifications; nil disables
	// usage tracking (no usage count is recorded).
	usage UsageTracker
}

// NewOperations constructs Operations. usage may be nil.
func NewOperations(storage *Storage, cache ports.CacheService, metrics ports.MetricsCollector, logger ports.Logger, usage UsageTracker) *Operations {
	return &Operations{storage: storage, cache: cache, metrics: metrics, logger: logger, usage: usage}
}

func (o *Operations) recordCounter(name string, n float64) {
	if o.metrics != nil {
		o.metrics.RecordCounter(name, n)
	}
}

func (o *Operations) warn(msg string, ctx map[string]any) {
	if o.logger != nil {
		o.logger.Warn(msg, ctx)
	}
}

func failed(msg string) *types.AuthenticationResult {
	return &types.AuthenticationResult{Success: false, Error: msg}
}

// validationCacheKey derives the cache key for a full validation
// result from the whole presented key (not just its identifier
// prefix), so a cache hit guarantees the caller actually holds the
// secret rather than just a matching identifier.
func validationCacheKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "apikey:validation:" + hex.EncodeToString(sum[:])
}

// cachedValidation is the envelope payload for a positive validation
// result; keyID rides alongside the AuthenticationResult so a cache
// hit can still drive usage tracking the same as a storage lookup.
type cachedValidation struct {
	Result types.AuthenticationResult
	KeyID  string
}

// ValidateAPIKey checks key's format, consults the validation-result
// cache, and otherwise looks it up by its deterministic identifier and
// verifies it against the stored bcrypt hash in constant time whether
// or not a matching row exists.
func (o *Operations) ValidateAPIKey(ctx context.Context, key string) *types.AuthenticationResult {
	if !keyFormat.MatchString(key) {
		o.recordCounter("apikey.validate.malformed", 1)
		return failed("invalid format")
	}

	cacheKey := validationCacheKey(key)
	if o.cache != nil {
		if result, err := o.cache.Get(ctx, cacheKey); err == nil && result.Hit {
			var cached cachedValidation
			if ok, err := openEnvelope(result.Data, &cached); err == nil && ok {
				o.recordCounter("apikey.validate.cache_hit", 1)
				o.trackUsage(cached.KeyID)
				hit := cached.Result
				hit.FromCache = true
				return &hit
			}
			_ = o.cache.Invalidate(ctx, cacheKey)
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	identifier := KeyIdentifier(key)
	record, err := o.storage.FindByKeyIdentifier(lookupCtx, identifier)
	if err != nil || record == nil {
		// Compare against the dummy hash so a miss costs the same time
		// as a genuine mismatch below.
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(key))
		o.recordCounter("apikey.validate.not_found", 1)
		return failed("invalid format")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(record.KeyHash), []byte(key)); err != nil {
		o.recordCounter("apikey.validate.hash_mismatch", 1)
		return failed("invalid format")
	}

	if !record.IsActive {
		o.recordCounter("apikey.validate.revoked", 1)
		return failed("revoked")
	}
	now := time.Now()
	if record.IsExpired(now) {
		o.recordCounter("apikey.validate.expired", 1)
		return failed("expired")
	}

	o.trackUsage(record.ID)
	o.recordCounter("apikey.validate.success", 1)

	result := &types.AuthenticationResult{
		Success: true,
		User: &types.UserInfo{
			ID:          record.UserID,
			Roles:       record.Scopes,
			Permissions: record.Permissions,
		},
		Token: KeyPreview(key),
	}
	if record.ExpiresAt != nil {
		result.ExpiresAt = *record.ExpiresAt
	}
	o.populateValidationCache(ctx, cacheKey, result, record.ID)
	return result
}

func (o *Operations) populateValidationCache(ctx context.Context, cacheKey string, result *types.AuthenticationResult, keyID string) {
	if o.cache == nil {
		return
	}
	blob, err := sealEnvelope(cachedValidation{Result: *result, KeyID: keyID})
	if err != nil {
		o.warn("failed to seal validation cache envelope", map[string]any{"error": err.Error()})
		return
	}
	if err := o.cache.Set(ctx, cacheKey, blob, validationCacheTTL); err != nil {
		o.warn("failed to populate validation cache", map[string]any{"error": err.Error()})
	}
}

func (o *Operations) trackUsage(keyID string) {
	if o.usage == nil {
		return
	}
	o.usage.TrackUsage(keyID)
}

// RevokeRequest describes a revocation request.
type RevokeRequest struct {
	KeyID     string
	RevokedBy string
	Reason    string
	Metadata  map[string]any
}

// RevokeResult reports the outcome of RevokeKey.
type RevokeResult struct {
	Revoked        bool
	AlreadyRevoked bool
}

// RevokeKey marks key as inactive. Revoking an already-revoked key is
// idempotent — it returns AlreadyRevoked rather than an error.
func (o *Operations) RevokeKey(ctx context.Context, req RevokeRequest) (RevokeResult, error) {
	key, err := o.storage.GetAPIKeyByID(ctx, req.KeyID)
	if err != nil {
		return RevokeResult{}, fmt.Errorf("apikey: revoke: lookup: %w", err)
	}
	if !key.IsActive {
		return RevokeResult{AlreadyRevoked: true}, nil
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	if req.Reason != "" {
		metadata["reason"] = req.Reason
	}

	if err := o.storage.Repository().RevokeByID(ctx, req.KeyID, req.RevokedBy, metadata); err != nil {
		o.recordCounter("apikey.revoke.error", 1)
		return RevokeResult{}, fmt.Errorf("apikey: revoke: %w", err)
	}

	o.storage.InvalidateForKey(ctx, req.KeyID, key.UserID)
	o.recordCounter("apikey.revoke.success", 1)
	o.warn("api key revoked", map[string]any{"key_id": req.KeyID, "revoked_by": req.RevokedBy})

	return RevokeResult{Revoked: true}, nil
}

// Risk score weights; tuned so a stale, heavily-used key (long-lived,
// dormant) trends toward "high" without a single factor dominating.
const (
	riskPerYearAge       = 10
	riskPerDormantMonth  = 15
	riskHighUsageBonus   = 20
	riskHighUsageMinimum = 10_000
)

// AnalyzeKeySecurity scores a key's risk posture from its age, usage
// volume, and dormancy.
func (o *Operations) AnalyzeKeySecurity(ctx context.Context, keyID string) (*types.SecurityAnalysis, error) {
	key, err := o.storage.GetAPIKeyByID(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("apikey: analyze: %w", err)
	}

	now := time.Now()
	ageDays := int(now.Sub(key.CreatedAt).Hours() / 24)

	daysSinceLastUse := ageDays
	if key.LastUsedAt != nil {
		daysSinceLastUse = int(now.Sub(*key.LastUsedAt).Hours() / 24)
	}

	score := (ageDays / 365) * riskPerYearAge
	score += (daysSinceLastUse / 30) * riskPerDormantMonth
	if key.UsageCount >= riskHighUsageMinimum {
		score += riskHighUsageBonus
	}

	analysis := &types.SecurityAnalysis{
		KeyID:            keyID,
		AgeDays:          ageDays,
		RecentUsageCount: key.UsageCount,
		DaysSinceLastUse: daysSinceLastUse,
		RiskScore:        score,
	}

	switch {
	case score >= 70:
		analysis.ThreatLevel = "critical"
		analysis.RevocationAdvised = true
	case score >= 45:
		analysis.ThreatLevel = "high"
		analysis.RotationRecommended = true
	case score >= 20:
		analysis.ThreatLevel = "medium"
		analysis.RotationRecommended = true
	default:
		analysis.ThreatLevel = "low"
	}

	analysis.Recommendations = o.recommendations(key, analysis, now)
	return analysis, nil
}

func (o *Operations) recommendations(key *types.ApiKey, analysis *types.SecurityAnalysis, now time.Time) []string {
	var recs []string

	if key.LastUsedAt != nil {
		recs = append(recs, fmt.Sprintf("last used %s", humanize.Time(*key.LastUsedAt)))
	} else {
		recs = append(recs, fmt.Sprintf("never used since creation %s", humanize.Time(key.CreatedAt)))
	}

	if analysis.DaysSinceLastUse > 90 {
		recs = append(recs, "dormant for over 90 days; consider revoking if no longer needed")
	}
	if analysis.AgeDays > 365 {
		recs = append(recs, "key is over a year old; rotate to limit exposure from an undetected leak")
	}
	if analysis.RevocationAdvised {
		recs = append(recs, "risk score indicates the key should be revoked and reissued")
	} else if analysis.RotationRecommended {
		recs = append(recs, "risk score indicates the key should be rotated")
	}
	return recs
}
