package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

const (
	DefaultIdleTTL       = 24 * time.Hour
	DefaultSweepSchedule = "*/10 * * * *"
)

// Sweeper evicts idle sessions on a cron schedule.
type Sweeper struct {
	store    *Store
	ttl      time.Duration
	schedule string

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSweeper validates schedule and returns a stopped sweeper.
func NewSweeper(store *Store, ttl time.Duration, schedule string) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid sweep schedule %q", schedule)
	}
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &Sweeper{store: store, ttl: ttl, schedule: schedule}, nil
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
func (w *Sweeper) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	go w.loop(runCtx)
}

// Stop cancels the loop and waits for it to exit.
func (w *Sweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
}

// RunOnce performs a single sweep and returns the number of evicted sessions.
func (w *Sweeper) RunOnce() int {
	start := time.Now()
	removed := w.store.Sweep(w.ttl)
	if removed > 0 {
		slog.Info("swept idle sessions",
			"removed", removed,
			"remaining", w.store.Len(),
			"duration", time.Since(start),
		)
	}
	return removed
}

func (w *Sweeper) loop(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.running = false
		close(w.done)
		w.mu.Unlock()
	}()

	for {
		next, err := gronx.NextTickAfter(w.schedule, time.Now(), false)
		if err != nil {
			slog.Warn("session sweeper: cannot compute next tick", "schedule", w.schedule, "error", err)
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			w.RunOnce()
		}
	}
}
