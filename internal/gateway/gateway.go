// Package gateway is the HTTP front end: it turns live requests into
// exchanges, resolves the effective pipeline for the matched operation, runs
// the executor, and writes the built response back to the client.
package gateway

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgegate/edgegate/internal/catalog"
	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/executor"
	"github.com/edgegate/edgegate/internal/logging"
	"github.com/edgegate/edgegate/internal/metrics"
	"github.com/edgegate/edgegate/internal/pipeline"
	"github.com/edgegate/edgegate/internal/problem"
	"github.com/edgegate/edgegate/internal/scope"
	"github.com/edgegate/edgegate/internal/subscription"
	"github.com/edgegate/edgegate/internal/tracing"
)

// SubscriptionKeyHeader carries the caller's subscription key.
const SubscriptionKeyHeader = "X-Subscription-Key"

// maxRequestBody bounds how much request body is buffered into an exchange.
const maxRequestBody = 4 << 20

// Gateway routes requests through the policy pipeline engine.
type Gateway struct {
	mu        sync.RWMutex // guards catalogs; Reload runs on the watcher goroutine
	catalogs  []*catalog.Catalog
	subs      *subscription.Store
	builder   *config.Builder
	resolver  *scope.Resolver
	exec      *executor.Executor
	problems  *problem.Builder
	collector *metrics.Collector
	tracer    *tracing.Tracer
}

// New builds a gateway from configuration: loads the API contracts,
// registers subscriptions, constructs the declared policies, and wires the
// executor.
func New(cfg *config.Config) (*Gateway, error) {
	g := &Gateway{
		subs:      subscription.NewStore(),
		builder:   config.NewBuilder(cfg),
		problems:  problem.NewBuilder(nil),
		collector: metrics.NewCollector(),
	}
	g.exec = executor.New(g.problems, g.collector)

	tracer, err := tracing.New(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRate:  cfg.Tracing.SampleRate,
		Headers:     cfg.Tracing.Headers,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	g.tracer = tracer

	for _, api := range cfg.APIs {
		c, err := catalog.Load(api.Name, api.Contract)
		if err != nil {
			return nil, fmt.Errorf("api %s: %w", api.Name, err)
		}
		g.catalogs = append(g.catalogs, c)
		logging.Info("loaded API contract",
			logging.API(api.Name),
			zap.Int("operations", len(c.Operations())))
	}

	g.subs.Replace(buildSubscriptions(cfg.Subscriptions))

	decls, err := g.builder.Declarations(cfg.Policies)
	if err != nil {
		return nil, fmt.Errorf("build policies: %w", err)
	}
	g.resolver = scope.NewResolver(decls)

	return g, nil
}

// Reload rebuilds policies, contracts, and subscriptions from a new config.
// The response cache and rate-limit counters survive the reload.
func (g *Gateway) Reload(cfg *config.Config) error {
	decls, err := g.builder.Declarations(cfg.Policies)
	if err != nil {
		return fmt.Errorf("build policies: %w", err)
	}

	catalogs := make([]*catalog.Catalog, 0, len(cfg.APIs))
	for _, api := range cfg.APIs {
		c, err := catalog.Load(api.Name, api.Contract)
		if err != nil {
			return fmt.Errorf("api %s: %w", api.Name, err)
		}
		catalogs = append(catalogs, c)
	}

	g.mu.Lock()
	g.catalogs = catalogs
	g.mu.Unlock()
	g.subs.Replace(buildSubscriptions(cfg.Subscriptions))
	g.resolver.SetDeclarations(decls)

	logging.Info("gateway reloaded",
		zap.Int("apis", len(catalogs)),
		zap.Int("subscriptions", g.subs.Len()))
	return nil
}

func buildSubscriptions(subs []config.SubscriptionConfig) []*subscription.Subscription {
	out := make([]*subscription.Subscription, 0, len(subs))
	for _, sc := range subs {
		active := sc.Active == nil || *sc.Active
		out = append(out, &subscription.Subscription{
			Name:       sc.Name,
			Key:        sc.Key,
			CounterKey: sc.CounterKey,
			Active:     active,
		})
	}
	return out
}

// Close flushes the span exporter.
func (g *Gateway) Close() error {
	return g.tracer.Close()
}

// Metrics exposes the metrics collector, for the admin endpoint.
func (g *Gateway) Metrics() *metrics.Collector {
	return g.collector
}

// Resolver exposes the scope resolver, for reload wiring.
func (g *Gateway) Resolver() *scope.Resolver {
	return g.resolver
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(g.serveHTTP)
}

func (g *Gateway) serveHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ex, err := g.newExchange(r)
	if err != nil {
		pe := problem.Wrap(err, problem.KindValidationFailed, "failed to read request body")
		g.writeProblem(w, r, pe, start)
		return
	}

	op, params, ok := g.match(r.Method, r.URL.Path)
	if !ok {
		pe := problem.Newf(problem.KindOperationNotFound,
			"no operation matches %s %s", r.Method, r.URL.Path)
		g.writeProblem(w, r, pe, start)
		return
	}
	ex.API = op.api
	ex.Operation = op.op.ID
	for k, v := range params {
		ex.Params[k] = v
	}

	ctx, span := g.tracer.StartExchange(r.Context(), ex)

	ep := g.resolver.Resolve(ex.API, ex.Operation)
	if err := g.exec.Execute(ctx, ex, ep); err != nil {
		// Client went away; nothing useful can be written.
		logging.Debug("exchange abandoned",
			logging.Exchange(ex.ID),
			zap.Error(err))
		g.tracer.EndExchange(span, 0)
		return
	}

	g.write(w, ex)

	status := ex.Response.StatusCode
	g.tracer.EndExchange(span, status)
	g.collector.RecordExchange(ex.API, ex.Operation, status, time.Since(start))
	if ex.CacheHit {
		g.collector.RecordCacheHit(ex.API)
	} else {
		g.collector.RecordCacheMiss(ex.API)
	}

	logging.Debug("exchange complete",
		logging.Exchange(ex.ID),
		logging.API(ex.API),
		logging.Operation(ex.Operation),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		logging.Status(status),
		logging.Duration(time.Since(start)))
}

// newExchange translates a live request into an exchange, resolving the
// subscription key and the rate-limit counter identity.
func (g *Gateway) newExchange(r *http.Request) (*pipeline.Exchange, error) {
	var body []byte
	if r.Body != nil {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			return nil, err
		}
		body = data
	}

	ex := pipeline.NewExchange(&pipeline.Request{
		Method: r.Method,
		URL:    r.URL,
		Header: r.Header.Clone(),
		Body:   body,
	})

	ex.SubscriptionKey = r.Header.Get(SubscriptionKeyHeader)
	ex.CounterKey = clientAddr(r)
	if sub, ok := g.subs.Lookup(ex.SubscriptionKey); ok {
		ex.CounterKey = sub.CounterKey
	}

	return ex, nil
}

type matchedOp struct {
	api string
	op  *catalog.Operation
}

func (g *Gateway) match(method, path string) (matchedOp, map[string]string, bool) {
	g.mu.RLock()
	catalogs := g.catalogs
	g.mu.RUnlock()

	for _, c := range catalogs {
		if op, params, ok := c.Match(method, path); ok {
			return matchedOp{api: c.Name(), op: op}, params, true
		}
	}
	// CORS preflights carry OPTIONS, which contracts rarely declare. Run
	// them through the pipeline of the operation the preflight asks about.
	if method == http.MethodOptions {
		for _, c := range catalogs {
			if op, params, ok := c.MatchPath(path); ok {
				return matchedOp{api: c.Name(), op: op}, params, true
			}
		}
	}
	return matchedOp{}, nil, false
}

// write copies the built response onto the wire.
func (g *Gateway) write(w http.ResponseWriter, ex *pipeline.Exchange) {
	h := w.Header()
	for name, values := range ex.Response.Header {
		h[name] = values
	}
	h.Set("X-Request-Id", ex.ID)

	status := ex.Response.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(ex.Response.Body) > 0 {
		w.Write(ex.Response.Body)
	}
}

// writeProblem answers requests that never reach the pipeline.
func (g *Gateway) writeProblem(w http.ResponseWriter, r *http.Request, pe *problem.PolicyError, start time.Time) {
	status, body := g.problems.Render(pe, r.URL.Path)

	w.Header().Set("Content-Type", problem.ContentType)
	w.WriteHeader(status)
	w.Write(body)

	g.collector.RecordExchange("", "", status, time.Since(start))
	g.collector.RecordFailure(pe.Kind)
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
