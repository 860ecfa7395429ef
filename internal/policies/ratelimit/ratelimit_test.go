package ratelimit

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edgegate/edgegate/internal/pipeline"
	"github.com/edgegate/edgegate/internal/problem"
)

func newExchange(counterKey string) *pipeline.Exchange {
	u, _ := url.Parse("/cars")
	ex := pipeline.NewExchange(&pipeline.Request{
		Method: "GET",
		URL:    u,
		Header: make(http.Header),
	})
	ex.CounterKey = counterKey
	return ex
}

func TestLocalStoreFixedWindow(t *testing.T) {
	store := &LocalStore{windows: newShardedWindows()}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := store.Take(ctx, "k", 3, time.Minute)
		if err != nil {
			t.Fatalf("take %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
		if res.Remaining != 3-i-1 {
			t.Errorf("call %d: remaining = %d, want %d", i+1, res.Remaining, 3-i-1)
		}
	}

	res, err := store.Take(ctx, "k", 3, time.Minute)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if res.Allowed {
		t.Error("4th call within the window should be denied")
	}
	if res.Remaining != 0 {
		t.Errorf("denied call remaining = %d, want 0", res.Remaining)
	}

	// A different key has its own window.
	res, _ = store.Take(ctx, "other", 3, time.Minute)
	if !res.Allowed {
		t.Error("distinct counter key should have independent quota")
	}
}

func TestLocalStoreWindowReset(t *testing.T) {
	store := &LocalStore{windows: newShardedWindows()}
	ctx := context.Background()

	res, _ := store.Take(ctx, "k", 1, 10*time.Millisecond)
	if !res.Allowed {
		t.Fatal("first call should be allowed")
	}
	res, _ = store.Take(ctx, "k", 1, 10*time.Millisecond)
	if res.Allowed {
		t.Fatal("second call in window should be denied")
	}

	time.Sleep(15 * time.Millisecond)

	res, _ = store.Take(ctx, "k", 1, 10*time.Millisecond)
	if !res.Allowed {
		t.Error("call after window expiry should be allowed again")
	}
}

func TestLocalStoreConcurrentTakes(t *testing.T) {
	store := &LocalStore{windows: newShardedWindows()}
	ctx := context.Background()

	const (
		limit      = 50
		goroutines = 200
	)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Take(ctx, "shared", limit, time.Minute)
			if err != nil {
				t.Errorf("take: %v", err)
				return
			}
			if res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != limit {
		t.Errorf("exactly %d concurrent takes should succeed, got %d", limit, got)
	}
}

func TestPolicyHeadersOnBothPaths(t *testing.T) {
	p := New(Config{Calls: 2, RenewalPeriod: time.Minute}, NewLocalStore())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ex := newExchange("sub-A")
		out := p.Apply(ctx, ex)
		if !out.IsContinue() {
			t.Fatalf("call %d should continue", i+1)
		}
		if got := ex.Response.Header.Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("limit header = %q, want 2", got)
		}
		if ex.Response.Header.Get("X-RateLimit-Remaining") == "" {
			t.Error("remaining header must be set on success")
		}
		if ex.Response.Header.Get("X-RateLimit-Reset") == "" {
			t.Error("reset header must be set on success")
		}
	}

	ex := newExchange("sub-A")
	out := p.Apply(ctx, ex)
	if !out.IsFail() {
		t.Fatal("3rd call should fail")
	}
	if out.Err.Kind != problem.KindRateLimitExceeded {
		t.Errorf("expected rate-limit-exceeded, got %s", out.Err.Kind)
	}
	if got := ex.Response.Header.Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("remaining header on deny = %q, want 0", got)
	}
	if ex.Response.Header.Get("Retry-After") == "" {
		t.Error("Retry-After must be set on deny")
	}
}

func TestPolicyIndependentCounterKeys(t *testing.T) {
	p := New(Config{Calls: 1, RenewalPeriod: time.Minute}, NewLocalStore())
	ctx := context.Background()

	if out := p.Apply(ctx, newExchange("sub-A")); !out.IsContinue() {
		t.Fatal("sub-A first call should pass")
	}
	if out := p.Apply(ctx, newExchange("sub-A")); !out.IsFail() {
		t.Fatal("sub-A second call should fail")
	}
	if out := p.Apply(ctx, newExchange("sub-B")); !out.IsContinue() {
		t.Fatal("sub-B should have its own quota")
	}
}

func TestPolicyAnonymousFallback(t *testing.T) {
	p := New(Config{Calls: 1, RenewalPeriod: time.Minute}, NewLocalStore())
	ctx := context.Background()

	if out := p.Apply(ctx, newExchange("")); !out.IsContinue() {
		t.Fatal("first anonymous call should pass")
	}
	if out := p.Apply(ctx, newExchange("")); !out.IsFail() {
		t.Fatal("anonymous exchanges share one counter key")
	}
}

// failingStore simulates an unreachable distributed store.
type failingStore struct{}

func (failingStore) Take(context.Context, string, int, time.Duration) (Result, error) {
	return Result{}, context.DeadlineExceeded
}

func TestPolicyFailsOpenOnStoreError(t *testing.T) {
	p := New(Config{Calls: 1, RenewalPeriod: time.Minute}, failingStore{})
	if out := p.Apply(context.Background(), newExchange("k")); !out.IsContinue() {
		t.Error("store errors must fail open, not reject traffic")
	}
}
