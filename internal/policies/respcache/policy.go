package respcache

import (
	"context"
	"net/http"
	"time"

	"github.com/edgegate/edgegate/internal/pipeline"
)

// Config holds cache lookup/store configuration. Lookup and store statements
// for the same route share the vary-by settings so they derive the same key.
type Config struct {
	TTL         time.Duration
	VaryHeaders []string
	VaryQuery   []string
}

// Lookup serves a cached response, short-circuiting the backend stage.
type Lookup struct {
	cache       *Cache
	varyHeaders []string
	varyQuery   []string
}

// NewLookup creates a cache-lookup policy.
func NewLookup(cfg Config, cache *Cache) *Lookup {
	return &Lookup{
		cache:       cache,
		varyHeaders: cfg.VaryHeaders,
		varyQuery:   cfg.VaryQuery,
	}
}

// Name implements pipeline.Policy.
func (p *Lookup) Name() string { return "cache-lookup" }

// Apply implements pipeline.Policy. Only safe methods are served from cache.
func (p *Lookup) Apply(_ context.Context, ex *pipeline.Exchange) pipeline.Outcome {
	if ex.Request.Method != http.MethodGet && ex.Request.Method != http.MethodHead {
		return pipeline.Continue()
	}

	key := BuildKey(ex, p.varyHeaders, p.varyQuery)
	snapshot, ok := p.cache.Get(key)
	if !ok {
		return pipeline.Continue()
	}

	resp := snapshot.Clone()
	// Headers staged by earlier inbound policies (rate limit counters, CORS)
	// belong to this exchange and win over whatever the snapshot carries.
	for name, values := range ex.Response.Header {
		resp.Header[name] = append([]string(nil), values...)
	}
	resp.Header.Set("X-Cache", "HIT")

	ex.CacheHit = true
	return pipeline.ShortCircuit(resp)
}

// StorePolicy writes the built response into the cache. Its position in the
// outbound chain decides whether later header edits are captured; operators
// place it before or after those statements.
type StorePolicy struct {
	cache       *Cache
	ttl         time.Duration
	varyHeaders []string
	varyQuery   []string
}

// NewStore creates a cache-store policy.
func NewStore(cfg Config, cache *Cache) *StorePolicy {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &StorePolicy{
		cache:       cache,
		ttl:         ttl,
		varyHeaders: cfg.VaryHeaders,
		varyQuery:   cfg.VaryQuery,
	}
}

// Name implements pipeline.Policy.
func (p *StorePolicy) Name() string { return "cache-store" }

// Apply implements pipeline.Policy. Cache-served and unsuccessful responses
// are not re-stored.
func (p *StorePolicy) Apply(_ context.Context, ex *pipeline.Exchange) pipeline.Outcome {
	if ex.CacheHit || !ex.Response.Written() {
		return pipeline.Continue()
	}
	if ex.Request.Method != http.MethodGet && ex.Request.Method != http.MethodHead {
		return pipeline.Continue()
	}
	if ex.Response.StatusCode < 200 || ex.Response.StatusCode >= 300 {
		return pipeline.Continue()
	}

	snapshot := ex.Response.Clone()
	stripVolatile(snapshot.Header)

	key := BuildKey(ex, p.varyHeaders, p.varyQuery)
	p.cache.Put(key, snapshot, p.ttl)

	return pipeline.Continue()
}

// volatileHeaders are per-exchange headers that must never persist into a
// snapshot: replaying them on a later hit would report another exchange's
// rate-limit window.
var volatileHeaders = []string{
	"X-RateLimit-Limit",
	"X-RateLimit-Remaining",
	"X-RateLimit-Reset",
	"Retry-After",
	"X-Request-Id",
}

func stripVolatile(h http.Header) {
	for _, name := range volatileHeaders {
		h.Del(name)
	}
}
