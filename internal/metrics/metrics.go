// Package metrics tracks engine metrics for Prometheus-compatible export.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/edgegate/edgegate/internal/problem"
)

// Collector tracks exchange metrics.
type Collector struct {
	mu sync.RWMutex

	// exchangesTotal counts completed exchanges, key: api|operation|status
	exchangesTotal map[string]int64

	// durations accumulates per-operation latency, key: api|operation
	durations map[string]*histogram

	// failuresTotal counts policy failures by kind
	failuresTotal map[problem.Kind]int64

	// cacheHits and cacheMisses count response cache outcomes per api
	cacheHits   map[string]int64
	cacheMisses map[string]int64
}

// histogram stores histogram-like latency data.
type histogram struct {
	count   int64
	sum     float64
	buckets map[float64]int64
}

// defaultBuckets are histogram bucket bounds in seconds.
var defaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// NewCollector creates a metrics collector.
func NewCollector() *Collector {
	return &Collector{
		exchangesTotal: make(map[string]int64),
		durations:      make(map[string]*histogram),
		failuresTotal:  make(map[problem.Kind]int64),
		cacheHits:      make(map[string]int64),
		cacheMisses:    make(map[string]int64),
	}
}

// RecordExchange records a completed exchange.
func (c *Collector) RecordExchange(api, operation string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := fmt.Sprintf("%s|%s|%d", api, operation, status)
	c.exchangesTotal[key]++

	opKey := api + "|" + operation
	h, ok := c.durations[opKey]
	if !ok {
		h = &histogram{buckets: make(map[float64]int64, len(defaultBuckets))}
		c.durations[opKey] = h
	}
	secs := duration.Seconds()
	h.count++
	h.sum += secs
	for _, bound := range defaultBuckets {
		if secs <= bound {
			h.buckets[bound]++
		}
	}
}

// RecordFailure records a policy failure by kind.
func (c *Collector) RecordFailure(kind problem.Kind) {
	c.mu.Lock()
	c.failuresTotal[kind]++
	c.mu.Unlock()
}

// RecordCacheHit records a response cache hit.
func (c *Collector) RecordCacheHit(api string) {
	c.mu.Lock()
	c.cacheHits[api]++
	c.mu.Unlock()
}

// RecordCacheMiss records a response cache miss.
func (c *Collector) RecordCacheMiss(api string) {
	c.mu.Lock()
	c.cacheMisses[api]++
	c.mu.Unlock()
}

// Handler returns an HTTP handler serving the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		c.WritePrometheus(w)
	})
}

// WritePrometheus writes metrics in Prometheus text exposition format.
func (c *Collector) WritePrometheus(w http.ResponseWriter) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	var b strings.Builder

	writeHelp(&b, "edgegate_exchanges_total", "Total completed exchanges", "counter")
	for _, key := range sortedKeys(c.exchangesTotal) {
		parts := strings.SplitN(key, "|", 3)
		fmt.Fprintf(&b, "edgegate_exchanges_total{api=%q,operation=%q,status=%q} %d\n",
			parts[0], parts[1], parts[2], c.exchangesTotal[key])
	}

	writeHelp(&b, "edgegate_exchange_duration_seconds", "Exchange latency", "histogram")
	opKeys := make([]string, 0, len(c.durations))
	for k := range c.durations {
		opKeys = append(opKeys, k)
	}
	sort.Strings(opKeys)
	for _, key := range opKeys {
		h := c.durations[key]
		parts := strings.SplitN(key, "|", 2)
		for _, bound := range defaultBuckets {
			fmt.Fprintf(&b, "edgegate_exchange_duration_seconds_bucket{api=%q,operation=%q,le=%q} %d\n",
				parts[0], parts[1], fmt.Sprintf("%g", bound), h.buckets[bound])
		}
		fmt.Fprintf(&b, "edgegate_exchange_duration_seconds_bucket{api=%q,operation=%q,le=\"+Inf\"} %d\n",
			parts[0], parts[1], h.count)
		fmt.Fprintf(&b, "edgegate_exchange_duration_seconds_sum{api=%q,operation=%q} %g\n",
			parts[0], parts[1], h.sum)
		fmt.Fprintf(&b, "edgegate_exchange_duration_seconds_count{api=%q,operation=%q} %d\n",
			parts[0], parts[1], h.count)
	}

	writeHelp(&b, "edgegate_policy_failures_total", "Policy failures by kind", "counter")
	failureKinds := make([]string, 0, len(c.failuresTotal))
	for k := range c.failuresTotal {
		failureKinds = append(failureKinds, string(k))
	}
	sort.Strings(failureKinds)
	for _, k := range failureKinds {
		fmt.Fprintf(&b, "edgegate_policy_failures_total{kind=%q} %d\n", k, c.failuresTotal[problem.Kind(k)])
	}

	writeHelp(&b, "edgegate_cache_hits_total", "Response cache hits", "counter")
	for _, k := range sortedKeys(c.cacheHits) {
		fmt.Fprintf(&b, "edgegate_cache_hits_total{api=%q} %d\n", k, c.cacheHits[k])
	}

	writeHelp(&b, "edgegate_cache_misses_total", "Response cache misses", "counter")
	for _, k := range sortedKeys(c.cacheMisses) {
		fmt.Fprintf(&b, "edgegate_cache_misses_total{api=%q} %d\n", k, c.cacheMisses[k])
	}

	w.Write([]byte(b.String()))
}

func writeHelp(b *strings.Builder, name, help, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
