// Package stats counts replies by kind and periodically persists the counters.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/autoreply"
	"github.com/nextlevelbuilder/autoreply/internal/store"
)

// Key is the durable-store key of the counter snapshot.
const Key = "autoreply:stats"

// DefaultFlushEvery is the number of replies between automatic flushes.
const DefaultFlushEvery = 10

const flushTimeout = 10 * time.Second

// Counters is the persisted snapshot.
type Counters struct {
	TotalReplies    uint64 `json:"totalReplies"`
	KeywordMatches  uint64 `json:"keywordMatches"`
	AIReplies       uint64 `json:"aiReplies"`
	FallbackReplies uint64 `json:"fallbackReplies"`
}

// Recorder holds process-wide reply counters. Counters only grow; a failed
// flush is logged and the next scheduled flush proceeds normally.
type Recorder struct {
	total, keyword, ai, fallback atomic.Uint64

	store   store.DurableStore
	every   uint64
	metrics *Metrics

	flushMu sync.Mutex // keeps snapshots written in order
	wg      sync.WaitGroup
	onFlush func(Counters)
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithFlushEvery changes the flush interval (in replies).
func WithFlushEvery(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.every = uint64(n)
		}
	}
}

// WithMetrics mirrors counters into Prometheus.
func WithMetrics(m *Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// OnFlush registers a callback run after each successful flush.
func OnFlush(fn func(Counters)) Option {
	return func(r *Recorder) { r.onFlush = fn }
}

// NewRecorder creates a recorder persisting to st. st may be nil, in which
// case counters live in memory only.
func NewRecorder(st store.DurableStore, opts ...Option) *Recorder {
	r := &Recorder{store: st, every: DefaultFlushEvery}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Record counts one reply of kind. Every Nth reply triggers an asynchronous flush.
func (r *Recorder) Record(kind autoreply.Kind) {
	n := r.total.Add(1)
	switch kind {
	case autoreply.KindKeyword:
		r.keyword.Add(1)
	case autoreply.KindAI:
		r.ai.Add(1)
	case autoreply.KindFallback:
		r.fallback.Add(1)
	}
	r.metrics.reply(string(kind))

	if r.store != nil && n%r.every == 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			defer cancel()
			if err := r.Flush(ctx); err != nil {
				slog.Warn("stats flush failed", "error", err)
			}
		}()
	}
}

// Snapshot returns the current counters.
func (r *Recorder) Snapshot() Counters {
	return Counters{
		TotalReplies:    r.total.Load(),
		KeywordMatches:  r.keyword.Load(),
		AIReplies:       r.ai.Load(),
		FallbackReplies: r.fallback.Load(),
	}
}

// Flush writes the current snapshot to the durable store.
func (r *Recorder) Flush(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	snap := r.Snapshot()
	if err := r.store.WriteJSON(ctx, Key, snap); err != nil {
		r.metrics.flushFailed()
		return fmt.Errorf("write %s: %w", Key, err)
	}
	if r.onFlush != nil {
		r.onFlush(snap)
	}
	return nil
}

// Load restores persisted counters. Call before the first Record.
func (r *Recorder) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	var c Counters
	found, err := r.store.ReadJSON(ctx, Key, &c)
	if err != nil {
		return fmt.Errorf("read %s: %w", Key, err)
	}
	if !found {
		return nil
	}
	r.total.Store(c.TotalReplies)
	r.keyword.Store(c.KeywordMatches)
	r.ai.Store(c.AIReplies)
	r.fallback.Store(c.FallbackReplies)
	slog.Info("stats restored", "total_replies", c.TotalReplies)
	return nil
}

// Wait blocks until in-flight asynchronous flushes finish.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// Read loads the persisted snapshot without a Recorder.
func Read(ctx context.Context, st store.DurableStore) (Counters, bool, error) {
	var c Counters
	found, err := st.ReadJSON(ctx, Key, &c)
	return c, found, err
}
