// Package ratelimit implements fixed-window quota enforcement keyed by a
// counter key (subscription, client address, or a configured expression).
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/edgegate/edgegate/internal/exprs"
	"github.com/edgegate/edgegate/internal/logging"
	"github.com/edgegate/edgegate/internal/pipeline"
	"github.com/edgegate/edgegate/internal/problem"
)

// Config holds rate limit policy configuration.
type Config struct {
	Calls         int           // max requests per window
	RenewalPeriod time.Duration // window length
	CounterKey    *exprs.Value  // optional key expression; nil uses the exchange counter key
}

// Policy enforces a fixed-window quota.
type Policy struct {
	calls    int
	callsStr string // cached strconv.Itoa(calls) for headers
	period   time.Duration
	keyExpr  *exprs.Value
	store    CounterStore
}

// New creates a rate limit policy backed by the given counter store.
func New(cfg Config, store CounterStore) *Policy {
	period := cfg.RenewalPeriod
	if period <= 0 {
		period = time.Minute
	}
	return &Policy{
		calls:    cfg.Calls,
		callsStr: strconv.Itoa(cfg.Calls),
		period:   period,
		keyExpr:  cfg.CounterKey,
		store:    store,
	}
}

// Name implements pipeline.Policy.
func (p *Policy) Name() string { return "rate-limit" }

// Apply consumes one quota unit. Limit headers are set on both the allow and
// deny paths.
func (p *Policy) Apply(ctx context.Context, ex *pipeline.Exchange) pipeline.Outcome {
	key := p.counterKey(ex)

	res, err := p.store.Take(ctx, key, p.calls, p.period)
	if err != nil {
		// Fail open: an unreachable counter store must not take the API down.
		logging.Warn("rate limit store unavailable, failing open",
			zap.String("key", key),
			zap.Error(err),
		)
		return pipeline.Continue()
	}

	h := ex.Response.Header
	h.Set("X-RateLimit-Limit", p.callsStr)
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))

	if !res.Allowed {
		retryAfter := int(time.Until(res.Reset).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		h.Set("Retry-After", strconv.Itoa(retryAfter))
		return pipeline.Fail(problem.Newf(problem.KindRateLimitExceeded,
			"quota of %d calls per %s exhausted for %q, retry in %ds",
			p.calls, p.period, key, retryAfter))
	}

	return pipeline.Continue()
}

// counterKey resolves the quota identity for the exchange.
func (p *Policy) counterKey(ex *pipeline.Exchange) string {
	if p.keyExpr != nil {
		if key := p.keyExpr.EvalString(ex, ""); key != "" {
			return key
		}
	}
	if ex.CounterKey != "" {
		return ex.CounterKey
	}
	if ex.SubscriptionKey != "" {
		return ex.SubscriptionKey
	}
	return "anonymous"
}
