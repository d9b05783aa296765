// Package entropy generates and statistically qualifies random byte
// sequences, and runs the periodic self-test consumed by the API-key
// generator and the monitoring subsystem.
package entropy

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// ErrHardFailure is returned when generated bytes fail a hard quality
// check (all-zero, all-identical, or a run of 5+ identical bytes).
var ErrHardFailure = errors.New("entropy: hard quality check failed")

// Quality grades a sample of random bytes against the generator's
// acceptance preconditions.
type Quality struct {
	Passed          bool   // true iff all hard checks pass
	HardFailure     string // which hard check failed, if any
	UniqueByteRatio float64
	LowUniqueBytes  bool // warn-only: unique bytes below the 50% floor
	ChiSquare       float64
	ChiSquarePassed bool // strictly inside (100, 400) for 32-byte samples
}

// Generate reads n cryptographically random bytes and grades them.
// The returned bytes are always length n; callers must check
// Quality.Passed before relying on them as "hard-qualified" entropy —
// a failed hard check does not mean the bytes are unusable, only that
// the caller (generator.go) should prefer its fallback path.
func Generate(n int) ([]byte, Quality, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, Quality{}, fmt.Errorf("entropy: read random bytes: %w", err)
	}
	return buf, Grade(buf), nil
}

// Grade evaluates a byte sample against the hard and soft quality
// checks.
func Grade(buf []byte) Quality {
	q := Quality{Passed: true}

	if allZero(buf) {
		q.Passed = false
		q.HardFailure = "all_zero"
	} else if allIdentical(buf) {
		q.Passed = false
		q.HardFailure = "all_identical"
	} else if longestRun(buf) >= 5 {
		q.Passed = false
		q.HardFailure = "long_run"
	}

	unique := lo.Uniq(buf)
	floor := math.Min(float64(len(buf)), 128) * 0.5
	q.UniqueByteRatio = float64(len(unique)) / math.Max(1, float64(len(buf)))
	q.LowUniqueBytes = float64(len(unique)) < floor

	q.ChiSquare = chiSquare(buf)
	// Strictly inside (100, 400); exactly 100 or 400 fails.
	q.ChiSquarePassed = q.ChiSquare > 100 && q.ChiSquare < 400

	return q
}

func allZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

func allIdentical(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	first := buf[0]
	for _, b := range buf[1:] {
		if b != first {
			return false
		}
	}
	return true
}

func longestRun(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	best, cur := 1, 1
	for i := 1; i < len(buf); i++ {
		if buf[i] == buf[i-1] {
			cur++
		} else {
			cur = 1
		}
		if cur > best {
			best = cur
		}
	}
	return best
}

// chiSquare computes the chi-square statistic of buf's byte
// distribution against a uniform distribution over 256 buckets.
func chiSquare(buf []byte) float64 {
	if len(buf) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range buf {
		counts[b]++
	}
	expected := float64(len(buf)) / 256.0
	var sum float64
	for _, c := range counts {
		diff := float64(c) - expected
		sum += (diff * diff) / expected
	}
	return sum
}

// SelfTestConfig tunes TestSource.
type SelfTestConfig struct {
	TestCount         int
	SampleSize        int
	QualityThreshold  decimal.Decimal // percent, e.g. 80
	MaxGenerationTime time.Duration
}

// DefaultSelfTestConfig returns the monitoring subsystem's defaults.
func DefaultSelfTestConfig() SelfTestConfig {
	return SelfTestConfig{
		TestCount:         5,
		SampleSize:        32,
		QualityThreshold:  decimal.NewFromInt(80),
		MaxGenerationTime: 100 * time.Millisecond,
	}
}

// TestResult is the outcome of TestSource, carrying decimal-precise
// percentages so repeated runs over the same pass/fail counts always
// report the identical score.
type TestResult struct {
	Status            string
	TestsRun          int
	SuccessfulRuns    int
	QualityScorePct   decimal.Decimal
	AvgGenerationTime time.Duration
	Recommendations   []string
}

// TestSource runs cfg.TestCount independent generations of
// cfg.SampleSize bytes, timing each and grading quality.
func TestSource(cfg SelfTestConfig) TestResult {
	if cfg.TestCount <= 0 {
		cfg.TestCount = DefaultSelfTestConfig().TestCount
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultSelfTestConfig().SampleSize
	}

	var (
		successful int
		qualityOK  int
		totalDur   time.Duration
	)

	for i := 0; i < cfg.TestCount; i++ {
		start := time.Now()
		buf, q, err := Generate(cfg.SampleSize)
		dur := time.Since(start)
		totalDur += dur
		if err != nil || len(buf) != cfg.SampleSize {
			continue
		}
		successful++
		if q.Passed && q.ChiSquarePassed {
			qualityOK++
		}
	}

	result := TestResult{
		TestsRun:       cfg.TestCount,
		SuccessfulRuns: successful,
	}
	if successful > 0 {
		result.AvgGenerationTime = totalDur / time.Duration(successful)
		result.QualityScorePct = decimal.NewFromInt(int64(qualityOK)).
			Div(decimal.NewFromInt(int64(successful))).
			Mul(decimal.NewFromInt(100))
	}

	threshold := cfg.QualityThreshold
	if threshold.IsZero() {
		threshold = DefaultSelfTestConfig().QualityThreshold
	}
	maxGen := cfg.MaxGenerationTime
	if maxGen == 0 {
		maxGen = DefaultSelfTestConfig().MaxGenerationTime
	}

	switch {
	case successful == 0:
		result.Status = "failed"
	case result.QualityScorePct.LessThan(threshold) || result.AvgGenerationTime > maxGen:
		result.Status = "degraded"
	default:
		result.Status = "healthy"
	}

	result.Recommendations = recommendations(result, maxGen)
	return result
}

func recommendations(r TestResult, maxGen time.Duration) []string {
	var recs []string
	if r.Status == "failed" {
		recs = append(recs, "entropy source produced zero successful runs; check the platform's CSPRNG")
		return recs
	}
	if r.AvgGenerationTime > maxGen {
		recs = append(recs, fmt.Sprintf(
			"average generation time %s exceeds the %s budget; investigate CSPRNG contention",
			r.AvgGenerationTime, maxGen))
	}
	if r.Status == "degraded" {
		recs = append(recs, "entropy quality below threshold; fallback key derivation path will be used more often")
	}
	if os.Getenv("IDPGUARD_ENTROPY_VERBOSE") == "1" {
		recs = append(recs, fmt.Sprintf("%d/%d runs passed quality grading", r.SuccessfulRuns, r.TestsRun))
	}
	return recs
}
