package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// runner drives one monitor on a fixed timer with a reentrancy guard: a
// tick that fires while the previous one is still executing is skipped
// entirely, never queued.
type runner struct {
	name     string
	interval time.Duration
	logger   *slog.Logger
	running  atomic.Bool
}

// run ticks immediately, then periodically until the context ends.
// Panics out of a tick are caught and logged so the timer keeps firing.
func (r *runner) run(ctx context.Context, tick func(ctx context.Context)) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.guarded(ctx, tick)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("monitor stopped", "monitor", r.name)
			return
		case <-ticker.C:
			r.guarded(ctx, tick)
		}
	}
}

func (r *runner) guarded(ctx context.Context, tick func(ctx context.Context)) {
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	defer r.running.Store(false)

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("monitor tick panicked", "monitor", r.name, "panic", rec)
		}
	}()

	tick(ctx)
}

// retryForever retries an operation with exponential backoff until it
// succeeds or the context ends. Saves and publishes of a detected change
// both go through here; a detected change is never dropped.
func retryForever(ctx context.Context, logger *slog.Logger, what string, op func(ctx context.Context) error) bool {
	backoff := 100 * time.Millisecond
	const maxBackoff = time.Minute

	for {
		err := op(ctx)
		if err == nil {
			return true
		}
		logger.Error(what+" failed, retrying", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// forEachBounded runs fn over items with at most limit in flight.
func forEachBounded[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T)) {
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for _, item := range items {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, item)
		}()
	}
	wg.Wait()
}
