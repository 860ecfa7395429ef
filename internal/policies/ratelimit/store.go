package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one quota take.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// CounterStore tracks fixed-window quota counters per counter key. Take
// atomically consumes one unit for the current window, resetting the window
// first if it has expired.
type CounterStore interface {
	Take(ctx context.Context, key string, calls int, period time.Duration) (Result, error)
}

// window is one fixed-window counter.
type window struct {
	remaining int
	resetAt   time.Time
}

// LocalStore is an in-process fixed-window counter store.
type LocalStore struct {
	windows *shardedWindows
}

// NewLocalStore creates a local counter store. Stale windows are swept in
// the background so abandoned counter keys do not accumulate.
func NewLocalStore() *LocalStore {
	s := &LocalStore{windows: newShardedWindows()}
	go s.cleanup(5 * time.Minute)
	return s
}

// Take consumes one quota unit for key in the current window.
func (s *LocalStore) Take(_ context.Context, key string, calls int, period time.Duration) (Result, error) {
	now := time.Now()

	sh := s.windows.getShard(key)
	sh.mu.Lock()

	w, ok := sh.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{
			remaining: calls,
			resetAt:   now.Add(period),
		}
		sh.windows[key] = w
	}

	res := Result{Limit: calls, Reset: w.resetAt}
	if w.remaining >= 1 {
		w.remaining--
		res.Allowed = true
		res.Remaining = w.remaining
	}

	sh.mu.Unlock()
	return res, nil
}

// cleanup removes expired windows periodically.
func (s *LocalStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		s.windows.deleteFunc(func(_ string, w *window) bool {
			return now.Sub(w.resetAt) > interval
		})
	}
}
