// Package backend implements the policies that produce a response for an
// exchange: forwarding to the real backend, serving a canned mock, or
// returning an explicitly constructed response.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edgegate/edgegate/internal/logging"
	"github.com/edgegate/edgegate/internal/pipeline"
	"github.com/edgegate/edgegate/internal/problem"
	"github.com/edgegate/edgegate/internal/tracing"
)

// hopHeaders are connection-scoped headers never forwarded to the backend
// or copied back from it.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SendConfig holds send-backend policy configuration.
type SendConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Send forwards the exchange request to the configured backend service.
type Send struct {
	base    *url.URL
	timeout time.Duration
	client  *http.Client
}

// NewSend creates a send-backend policy.
func NewSend(cfg SendConfig) (*Send, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Send{
		base:    base,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Name implements pipeline.Policy.
func (p *Send) Name() string { return "send-backend" }

// Apply forwards the request and writes the backend response into the
// exchange. Timeouts and connection failures fail the exchange; the engine
// never retries on its own.
func (p *Send) Apply(ctx context.Context, ex *pipeline.Exchange) pipeline.Outcome {
	target := *p.base
	target.Path = strings.TrimSuffix(target.Path, "/") + ex.Request.URL.Path
	target.RawQuery = ex.Request.URL.RawQuery

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var body io.Reader
	if len(ex.Request.Body) > 0 {
		body = bytes.NewReader(ex.Request.Body)
	}

	req, err := http.NewRequestWithContext(ctx, ex.Request.Method, target.String(), body)
	if err != nil {
		return pipeline.Fail(problem.Wrap(err, problem.KindBackendUnavailable, "build backend request"))
	}

	req.Header = ex.Request.Header.Clone()
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		logging.Warn("backend call failed",
			logging.Exchange(ex.ID),
			zap.String("target", target.String()),
			zap.Error(err),
		)
		return pipeline.Fail(problem.Wrap(err, problem.KindBackendUnavailable, "backend request failed"))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipeline.Fail(problem.Wrap(err, problem.KindBackendUnavailable, "read backend response"))
	}

	for name, values := range resp.Header {
		if isHopHeader(name) {
			continue
		}
		for _, v := range values {
			ex.Response.Header.Add(name, v)
		}
	}
	ex.Response.Set(resp.StatusCode, http.StatusText(resp.StatusCode), respBody)

	return pipeline.Continue()
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// MockConfig holds mock-response policy configuration.
type MockConfig struct {
	StatusCode  int
	ContentType string
	Body        string
	Headers     map[string]string
}

// Mock short-circuits the backend stage with a canned response.
type Mock struct {
	statusCode  int
	contentType string
	headers     map[string]string
	body        []byte
}

// NewMock creates a mock-response policy.
func NewMock(cfg MockConfig) *Mock {
	status := cfg.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	return &Mock{
		statusCode:  status,
		contentType: cfg.ContentType,
		headers:     cfg.Headers,
		body:        []byte(cfg.Body),
	}
}

// Name implements pipeline.Policy.
func (p *Mock) Name() string { return "mock-response" }

// Apply implements pipeline.Policy.
func (p *Mock) Apply(_ context.Context, ex *pipeline.Exchange) pipeline.Outcome {
	resp := pipeline.NewResponse()
	// Carry headers staged by inbound policies.
	for name, values := range ex.Response.Header {
		resp.Header[name] = values
	}
	for k, v := range p.headers {
		resp.Header.Set(k, v)
	}
	if p.contentType != "" {
		resp.Header.Set("Content-Type", p.contentType)
	}

	body := p.body
	// An error mock with no configured body answers with a problem document
	// so clients get the same error shape as real failures.
	if len(body) == 0 && p.statusCode >= 400 {
		doc := problem.Document{
			Type:     "about:blank",
			Title:    http.StatusText(p.statusCode),
			Status:   p.statusCode,
			Instance: ex.Request.URL.Path,
		}
		if data, err := json.Marshal(doc); err == nil {
			body = data
			resp.Header.Set("Content-Type", problem.ContentType)
		}
	}

	resp.Set(p.statusCode, http.StatusText(p.statusCode), body)
	return pipeline.ShortCircuit(resp)
}

// ReturnConfig holds return-response policy configuration.
type ReturnConfig struct {
	StatusCode int
	Reason     string
	Headers    map[string]string
	Body       string
}

// Return unconditionally short-circuits with an explicit response. Used for
// deliberate early exits and error formatting.
type Return struct {
	statusCode int
	reason     string
	headers    map[string]string
	body       []byte
}

// NewReturn creates a return-response policy.
func NewReturn(cfg ReturnConfig) *Return {
	status := cfg.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	reason := cfg.Reason
	if reason == "" {
		reason = http.StatusText(status)
	}
	return &Return{
		statusCode: status,
		reason:     reason,
		headers:    cfg.Headers,
		body:       []byte(cfg.Body),
	}
}

// Name implements pipeline.Policy.
func (p *Return) Name() string { return "return-response" }

// Apply implements pipeline.Policy.
func (p *Return) Apply(_ context.Context, _ *pipeline.Exchange) pipeline.Outcome {
	resp := pipeline.NewResponse()
	for k, v := range p.headers {
		resp.Header.Set(k, v)
	}
	resp.StatusCode = p.statusCode
	resp.Reason = p.reason
	resp.Body = append([]byte(nil), p.body...)
	return pipeline.ShortCircuit(resp)
}
