// Package apikey implements the first-party API-key credential system:
// secure generation with an entropy-gated fallback chain, a
// write-through cache with an integrity envelope, constant-time
// validation, and security analysis. Keys use a configurable prefix
// and a quality-gated random source (internal/entropy) rather than a
// fixed format.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/hivewarden-like/idpguard/internal/entropy"
	"github.com/hivewarden-like/idpguard/internal/ports"
)

// keySecretBytes is the size of the random secret encoded into every
// generated key (32 bytes → 43 base64url characters, unpadded).
const keySecretBytes = 32

// Metrics event names recorded on the fallback paths, so the
// monitoring subsystem can alert on elevated fallback/emergency rates.
const (
	MetricFallbackUsed  = "apikey.generation.fallback_used"
	MetricEmergencyUsed = "apikey.generation.emergency_used"
)

// Generator produces API key strings and their deterministic lookup
// identifiers.
type Generator struct {
	metrics ports.MetricsCollector
	logger  ports.Logger
}

// NewGenerator constructs a Generator. metrics/logger may be nil; a
// no-op is substituted.
func NewGenerator(metrics ports.MetricsCollector, logger ports.Logger) *Generator {
	return &Generator{metrics: metrics, logger: logger}
}

func (g *Generator) recordCounter(name string, n float64) {
	if g.metrics != nil {
		g.metrics.RecordCounter(name, n)
	}
}

func (g *Generator) warn(msg string, ctx map[string]any) {
	if g.logger != nil {
		g.logger.Warn(msg, ctx)
	}
}

// Generate produces a new key string in the form
// "<prefix>_<random-secret>", defaulting prefix to "ak". The random
// secret is sourced from internal/entropy; a hard quality failure
// (all-zero, all-identical, long run) triggers the deterministic
// fallback, and a failure of the fallback itself produces an emergency
// key, each loudly counted.
func (g *Generator) Generate(prefix string) string {
	if prefix == "" {
		prefix = "ak"
	}

	secret, ok := g.primarySecret()
	if !ok {
		secret, ok = g.fallbackSecret()
		if !ok {
			g.recordCounter(MetricEmergencyUsed, 1)
			g.warn("fallback secret generation failed, issuing emergency key", nil)
			return prefix + "_" + emergencyKey()
		}
	}
	return prefix + "_" + secret
}

func (g *Generator) primarySecret() (string, bool) {
	buf, quality, err := entropy.Generate(keySecretBytes)
	if err != nil {
		g.warn("entropy source failed, falling back", map[string]any{"error": err.Error()})
		return "", false
	}
	if !quality.Passed {
		g.recordCounter(MetricFallbackUsed, 1)
		g.warn("entropy hard quality check failed, falling back", map[string]any{"reason": quality.HardFailure})
		return "", false
	}
	return base64.RawURLEncoding.EncodeToString(buf), true
}

// fallbackSecret derives a key from a mix of low-entropy-but-available
// sources, truncated to 43 characters to match the primary path's
// encoded length.
func (g *Generator) fallbackSecret() (string, bool) {
	var rnd string
	if n, err := rand.Int(rand.Reader, big.NewInt(1<<62)); err == nil {
		rnd = n.String()
	}

	mix := fmt.Sprintf("%d|%d|%d|%s",
		time.Now().UnixNano(),
		os.Getpid(),
		time.Since(processStart).Nanoseconds(),
		rnd,
	)
	sum := sha256.Sum256([]byte(mix))
	encoded := hex.EncodeToString(sum[:])
	if len(encoded) < 43 {
		return "", false
	}
	return encoded[:43], true
}

// processStart anchors the fallback's "uptime" component; set once at
// package init.
var processStart = time.Now()

// emergencyKey is the last-resort identifier when even the fallback
// path cannot produce one — a human-recognizable marker rather than a
// silent empty key, so operators can see it was used and rotate the
// key immediately.
func emergencyKey() string {
	return "emergency_" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

// KeyIdentifier derives the deterministic, non-reversible lookup index
// from the first 16 characters of key: SHA256(key[:16])[0:32] as hex.
func KeyIdentifier(key string) string {
	prefix := key
	if len(prefix) > 16 {
		prefix = prefix[:16]
	}
	sum := sha256.Sum256([]byte(prefix))
	return hex.EncodeToString(sum[:])[:32]
}

// KeyPreview returns the first 8 characters of key plus an ellipsis,
// for display without revealing the full secret.
func KeyPreview(key string) string {
	if len(key) <= 8 {
		return key + "…"
	}
	return key[:8] + "…"
}
