// Package respcache caches backend responses keyed by configured vary-by
// dimensions, serving repeat requests without a backend round trip.
package respcache

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	expirable "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/edgegate/edgegate/internal/pipeline"
)

// entry is one cached response snapshot. The snapshot is fully built before
// the pointer is published into the LRU, so a concurrent lookup either sees
// the whole entry or none of it.
type entry struct {
	resp      *pipeline.Response
	expiresAt time.Time
}

// Cache is a TTL-bounded LRU of response snapshots. The LRU's own TTL is an
// upper bound for eviction; each entry additionally carries the TTL of the
// cache-store statement that wrote it.
type Cache struct {
	lru    *expirable.LRU[string, *entry]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates a response cache. maxTTL bounds every entry regardless of
// per-statement TTLs.
func NewCache(maxSize int, maxTTL time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if maxTTL <= 0 {
		maxTTL = time.Hour
	}
	return &Cache{
		lru: expirable.NewLRU[string, *entry](maxSize, nil, maxTTL),
	}
}

// Get returns a cached response snapshot, honoring the entry's own expiry.
func (c *Cache) Get(key string) (*pipeline.Response, bool) {
	e, ok := c.lru.Get(key)
	if !ok || time.Now().After(e.expiresAt) {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.resp, true
}

// Put stores a response snapshot under key with the given TTL. Last writer
// wins on concurrent stores for the same key.
func (c *Cache) Put(key string, resp *pipeline.Response, ttl time.Duration) {
	c.lru.Add(key, &entry{
		resp:      resp.Clone(),
		expiresAt: time.Now().Add(ttl),
	})
}

// Purge drops all entries.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Stats returns hit/miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BuildKey derives the cache key for an exchange from method, path, and the
// configured vary-by header and query parameter names.
func BuildKey(ex *pipeline.Exchange, varyHeaders, varyQuery []string) string {
	var b strings.Builder
	b.WriteString(ex.Request.Method)
	b.WriteByte('|')
	b.WriteString(ex.Request.URL.Path)

	if len(varyHeaders) > 0 {
		sorted := make([]string, len(varyHeaders))
		copy(sorted, varyHeaders)
		sort.Strings(sorted)

		for _, name := range sorted {
			if val := ex.Request.Header.Get(name); val != "" {
				b.WriteByte('|')
				b.WriteString(strings.ToLower(name))
				b.WriteByte('=')
				b.WriteString(val)
			}
		}
	}

	if len(varyQuery) > 0 {
		sorted := make([]string, len(varyQuery))
		copy(sorted, varyQuery)
		sort.Strings(sorted)

		query := ex.Request.URL.Query()
		for _, name := range sorted {
			if val := query.Get(name); val != "" {
				b.WriteByte('|')
				b.WriteString(name)
				b.WriteByte('=')
				b.WriteString(val)
			}
		}
	}

	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", hash)
}
