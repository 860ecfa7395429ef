package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/edgegate/edgegate/internal/pipeline"
	"github.com/edgegate/edgegate/internal/problem"
)

func newExchange(method, target string) *pipeline.Exchange {
	u, _ := url.Parse(target)
	return pipeline.NewExchange(&pipeline.Request{
		Method: method,
		URL:    u,
		Header: make(http.Header),
	})
}

func TestSendForwardsRequestAndResponse(t *testing.T) {
	var gotPath, gotQuery, gotHeader, gotConnection string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Get("X-Api-Version")
		gotConnection = r.Header.Get("Proxy-Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":1,"make":"Opel"}`))
	}))
	defer ts.Close()

	p, err := NewSend(SendConfig{BaseURL: ts.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewSend: %v", err)
	}

	ex := newExchange("GET", "/cars/1?fields=make")
	ex.Request.Header.Set("X-Api-Version", "2")
	ex.Request.Header.Set("Proxy-Authorization", "secret")

	out := p.Apply(context.Background(), ex)
	if !out.IsContinue() {
		t.Fatalf("expected continue, got %v", out.Err)
	}

	if gotPath != "/cars/1" {
		t.Errorf("backend path = %q", gotPath)
	}
	if gotQuery != "fields=make" {
		t.Errorf("backend query = %q", gotQuery)
	}
	if gotHeader != "2" {
		t.Errorf("forwarded header = %q", gotHeader)
	}
	if gotConnection != "" {
		t.Error("hop-by-hop header must not be forwarded")
	}

	if ex.Response.StatusCode != http.StatusOK {
		t.Errorf("status = %d", ex.Response.StatusCode)
	}
	if string(ex.Response.Body) != `{"id":1,"make":"Opel"}` {
		t.Errorf("body = %s", ex.Response.Body)
	}
	if ex.Response.Header.Get("Content-Type") != "application/json" {
		t.Error("backend response header missing")
	}
}

func TestSendKeepsStagedHeaders(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	p, _ := NewSend(SendConfig{BaseURL: ts.URL, Timeout: time.Second})
	ex := newExchange("GET", "/cars")
	ex.Response.Header.Set("X-RateLimit-Limit", "5")

	p.Apply(context.Background(), ex)

	if got := ex.Response.Header.Get("X-RateLimit-Limit"); got != "5" {
		t.Errorf("staged header lost after backend call: %q", got)
	}
}

func TestSendTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	p, _ := NewSend(SendConfig{BaseURL: ts.URL, Timeout: 20 * time.Millisecond})
	out := p.Apply(context.Background(), newExchange("GET", "/slow"))

	if !out.IsFail() {
		t.Fatal("timeout must fail the exchange")
	}
	if out.Err.Kind != problem.KindBackendUnavailable {
		t.Errorf("kind = %s, want backend-unavailable", out.Err.Kind)
	}
}

func TestSendConnectionRefused(t *testing.T) {
	// Grab a port nothing listens on.
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := ts.URL
	ts.Close()

	p, _ := NewSend(SendConfig{BaseURL: deadURL, Timeout: time.Second})
	out := p.Apply(context.Background(), newExchange("GET", "/cars"))

	if !out.IsFail() || out.Err.Kind != problem.KindBackendUnavailable {
		t.Fatalf("connection failure must fail with backend-unavailable, got %+v", out)
	}
}

func TestMockShortCircuits(t *testing.T) {
	p := NewMock(MockConfig{
		StatusCode:  http.StatusOK,
		ContentType: "application/json",
		Body:        `[{"id":1}]`,
	})

	ex := newExchange("GET", "/cars")
	ex.Response.Header.Set("X-RateLimit-Limit", "5")

	out := p.Apply(context.Background(), ex)
	if !out.IsShortCircuit() {
		t.Fatal("mock must short-circuit")
	}
	resp := out.Response
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Error("content type missing")
	}
	if resp.Header.Get("X-RateLimit-Limit") != "5" {
		t.Error("mock must carry headers staged by inbound policies")
	}
	if string(resp.Body) != `[{"id":1}]` {
		t.Errorf("body = %s", resp.Body)
	}
}

func TestMockErrorWithoutBodyRendersProblem(t *testing.T) {
	p := NewMock(MockConfig{StatusCode: http.StatusNotFound})

	out := p.Apply(context.Background(), newExchange("GET", "/cars/999"))
	resp := out.Response
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != problem.ContentType {
		t.Errorf("content type = %q", resp.Header.Get("Content-Type"))
	}

	var doc problem.Document
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		t.Fatalf("body is not a problem document: %v", err)
	}
	if doc.Status != http.StatusNotFound || doc.Instance != "/cars/999" {
		t.Errorf("doc = %+v", doc)
	}
}

func TestMockDefaultsTo200(t *testing.T) {
	p := NewMock(MockConfig{Body: "ok"})
	out := p.Apply(context.Background(), newExchange("GET", "/"))
	if out.Response.StatusCode != http.StatusOK {
		t.Errorf("default status = %d, want 200", out.Response.StatusCode)
	}
}

func TestReturnResponse(t *testing.T) {
	p := NewReturn(ReturnConfig{
		StatusCode: http.StatusForbidden,
		Headers:    map[string]string{"X-Reason": "maintenance"},
		Body:       "come back later",
	})

	out := p.Apply(context.Background(), newExchange("GET", "/cars"))
	if !out.IsShortCircuit() {
		t.Fatal("return-response must short-circuit")
	}
	if out.Response.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d", out.Response.StatusCode)
	}
	if out.Response.Reason != "Forbidden" {
		t.Errorf("reason = %q", out.Response.Reason)
	}
	if out.Response.Header.Get("X-Reason") != "maintenance" {
		t.Error("explicit header missing")
	}
	if string(out.Response.Body) != "come back later" {
		t.Errorf("body = %s", out.Response.Body)
	}
}
