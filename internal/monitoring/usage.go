// Package monitoring implements asynchronous batched API-key usage
// tracking and aggregated component health checks. The usage tracker
// runs a flush loop driven by a ticker and a stop channel, with an
// additional done channel so shutdown is awaitable, not just
// cancellable.
package monitoring

import (
	"context"
	"math"
	"time"

	"github.com/ccoveille/go-safecast"
	"github.com/google/uuid"

	"github.com/hivewarden-like/idpguard/internal/ports"
)

// UsageConfig tunes the batching discipline of UsageTracker.
type UsageConfig struct {
	MaxBatchSize     int
	FlushInterval    time.Duration
	MaxRequeueOnFail int
}

// WithDefaults fills unset fields with spec-mandated defaults.
func (c UsageConfig) WithDefaults() UsageConfig {
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 100
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.MaxRequeueOnFail == 0 {
		c.MaxRequeueOnFail = 10
	}
	return c
}

// PendingUsageUpdate is one queued usage event, held until the next
// flush collapses same-key updates into a single increment.
type PendingUsageUpdate struct {
	KeyID       string
	Timestamp   time.Time
	OperationID string
}

// UsageTracker batches per-key usage increments in memory and flushes
// them to an ApiKeyRepository on a timer, on reaching MaxBatchSize, or
// on Stop.
type UsageTracker struct {
	repo    ports.ApiKeyRepository
	metrics ports.MetricsCollector
	logger  ports.Logger
	cfg     UsageConfig

	mu      chan struct{} // 1-buffered channel used as a mutex; TrackUsage waits on it under contention
	pending map[string][]PendingUsageUpdate

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewUsageTracker constructs a UsageTracker and starts its flush
// timer. Call Stop to halt the timer and perform a final flush.
func NewUsageTracker(repo ports.ApiKeyRepository, metrics ports.MetricsCollector, logger ports.Logger, cfg UsageConfig) *UsageTracker {
	t := &UsageTracker{
		repo: repo, metrics: metrics, logger: logger, cfg: cfg.WithDefaults(),
		mu:      make(chan struct{}, 1),
		pending: map[string][]PendingUsageUpdate{},
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	t.mu <- struct{}{}
	go t.flushLoop()
	return t
}

func (t *UsageTracker) lock()   { <-t.mu }
func (t *UsageTracker) unlock() { t.mu <- struct{}{} }

func (t *UsageTracker) recordCounter(name string, n float64) {
	if t.metrics != nil {
		t.metrics.RecordCounter(name, n)
	}
}

func (t *UsageTracker) warn(msg string, ctx map[string]any) {
	if t.logger != nil {
		t.logger.Warn(msg, ctx)
	}
}

// TrackUsage enqueues a usage event for keyID, flushing immediately if
// the pending set has grown to MaxBatchSize.
func (t *UsageTracker) TrackUsage(keyID string) {
	t.lock()
	t.pending[keyID] = append(t.pending[keyID], PendingUsageUpdate{
		KeyID:       keyID,
		Timestamp:   time.Now(),
		OperationID: uuid.New().String(),
	})
	shouldFlush := len(t.pending) >= t.cfg.MaxBatchSize
	t.unlock()

	if shouldFlush {
		t.Flush(context.Background())
	}
}

// Flush collapses all pending per-key updates into one
// BatchIncrementUsageCount call. On failure, up to MaxRequeueOnFail
// keys are re-queued for the next flush; the rest are dropped and
// counted.
func (t *UsageTracker) Flush(ctx context.Context) {
	t.lock()
	if len(t.pending) == 0 {
		t.unlock()
		return
	}
	batch := t.pending
	t.pending = map[string][]PendingUsageUpdate{}
	t.unlock()

	deltas := make(map[string]int64, len(batch))
	var lastUsed time.Time
	for keyID, updates := range batch {
		n, err := safecast.ToInt64(len(updates))
		if err != nil {
			t.warn("usage delta overflow, clamping", map[string]any{"key_id": keyID, "error": err.Error()})
			n = math.MaxInt64
		}
		deltas[keyID] = n
		for _, u := range updates {
			if u.Timestamp.After(lastUsed) {
				lastUsed = u.Timestamp
			}
		}
	}

	if err := t.repo.BatchIncrementUsageCount(ctx, deltas, lastUsed); err != nil {
		t.recordCounter("apikey.usage.flush_error", 1)
		t.warn("usage flush failed, requeueing a bounded subset", map[string]any{"keys": len(batch), "error": err.Error()})
		t.requeue(batch)
		return
	}
	t.recordCounter("apikey.usage.flush_success", 1)
	t.recordCounter("apikey.usage.keys_flushed", float64(len(batch)))
}

// requeue puts back up to MaxRequeueOnFail keys' worth of updates so a
// transient repository failure doesn't silently lose usage counts; any
// remainder beyond that bound is dropped and counted, never queued
// without limit.
func (t *UsageTracker) requeue(batch map[string][]PendingUsageUpdate) {
	t.lock()
	defer t.unlock()

	requeued, dropped := 0, 0
	for keyID, updates := range batch {
		if requeued >= t.cfg.MaxRequeueOnFail {
			dropped += len(updates)
			continue
		}
		t.pending[keyID] = append(t.pending[keyID], updates...)
		requeued++
	}
	if dropped > 0 {
		t.recordCounter("apikey.usage.dropped_on_requeue", float64(dropped))
	}
}

// flushLoop runs the periodic flush timer until Stop is called, then
// performs one final flush before closing doneCh.
func (t *UsageTracker) flushLoop() {
	defer close(t.doneCh)
	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Flush(context.Background())
		case <-t.stopCh:
			t.Flush(context.Background())
			return
		}
	}
}

// Stop halts the flush timer and blocks until the final flush
// completes.
func (t *UsageTracker) Stop() {
	close(t.stopCh)
	<-t.doneCh
}
