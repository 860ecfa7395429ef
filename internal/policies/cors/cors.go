// Package cors answers preflight requests and stamps allow-origin headers
// on ordinary responses, against configured allow-lists.
package cors

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/edgegate/edgegate/internal/pipeline"
)

// Config holds CORS policy configuration. Origins are matched exactly; "*"
// allows all.
type Config struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int // seconds, for preflight caching
}

// Policy implements CORS handling as an inbound pipeline policy.
type Policy struct {
	allowOrigins    []string
	allowAllOrigins bool
	allowMethods    string
	allowHeaders    string
	exposeHeaders   string
	allowCreds      bool
	maxAge          string
}

// New creates a CORS policy.
func New(cfg Config) *Policy {
	p := &Policy{
		allowOrigins: cfg.AllowedOrigins,
		allowCreds:   cfg.AllowCredentials,
	}

	if len(cfg.AllowedMethods) > 0 {
		p.allowMethods = strings.Join(cfg.AllowedMethods, ", ")
	} else {
		p.allowMethods = "GET, POST, PUT, DELETE, PATCH, OPTIONS"
	}

	if len(cfg.AllowedHeaders) > 0 {
		p.allowHeaders = strings.Join(cfg.AllowedHeaders, ", ")
	} else {
		p.allowHeaders = "Content-Type, Authorization, Subscription-Key"
	}

	if len(cfg.ExposeHeaders) > 0 {
		p.exposeHeaders = strings.Join(cfg.ExposeHeaders, ", ")
	}

	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	} else {
		p.maxAge = "86400"
	}

	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			p.allowAllOrigins = true
			break
		}
	}

	return p
}

// Name implements pipeline.Policy.
func (p *Policy) Name() string { return "cors" }

// Apply short-circuits preflight requests with the computed allow headers
// and stages allow-origin headers for ordinary requests.
func (p *Policy) Apply(_ context.Context, ex *pipeline.Exchange) pipeline.Outcome {
	if p.isPreflight(ex.Request) {
		return pipeline.ShortCircuit(p.preflightResponse(ex.Request))
	}
	p.applyHeaders(ex)
	return pipeline.Continue()
}

// isPreflight reports whether the request is a CORS preflight.
func (p *Policy) isPreflight(r *pipeline.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" &&
		r.Header.Get("Access-Control-Request-Method") != ""
}

// preflightResponse builds the short-circuit response for a preflight.
func (p *Policy) preflightResponse(r *pipeline.Request) *pipeline.Response {
	resp := pipeline.NewResponse()
	resp.Set(http.StatusOK, "OK", nil)

	origin := r.Header.Get("Origin")
	if !p.isOriginAllowed(origin) {
		// Not allowed: answer without allow headers so the browser blocks it.
		return resp
	}

	respOrigin := origin
	if p.allowAllOrigins && !p.allowCreds {
		respOrigin = "*"
	}

	h := resp.Header
	h.Set("Access-Control-Allow-Origin", respOrigin)
	h.Set("Access-Control-Allow-Methods", p.allowMethods)
	h.Set("Access-Control-Allow-Headers", p.allowHeaders)
	if p.allowCreds {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	h.Set("Access-Control-Max-Age", p.maxAge)
	h.Set("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")

	return resp
}

// applyHeaders stages allow-origin headers on the outgoing response of a
// non-preflight request.
func (p *Policy) applyHeaders(ex *pipeline.Exchange) {
	origin := ex.Request.Header.Get("Origin")
	if origin == "" || !p.isOriginAllowed(origin) {
		return
	}

	respOrigin := origin
	if p.allowAllOrigins && !p.allowCreds {
		respOrigin = "*"
	}

	h := ex.Response.Header
	h.Set("Access-Control-Allow-Origin", respOrigin)
	if p.allowCreds {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if p.exposeHeaders != "" {
		h.Set("Access-Control-Expose-Headers", p.exposeHeaders)
	}
	h.Set("Vary", "Origin")
}

func (p *Policy) isOriginAllowed(origin string) bool {
	if p.allowAllOrigins {
		return true
	}
	for _, allowed := range p.allowOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}
