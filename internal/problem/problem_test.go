package problem

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestPolicyErrorMessage(t *testing.T) {
	e := New(KindInvalidToken, "token expired")
	if got := e.Error(); got != "invalid-token: token expired" {
		t.Errorf("unexpected message: %q", got)
	}

	bare := New(KindForbidden, "")
	if got := bare.Error(); got != "forbidden" {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	e := Wrap(cause, KindBackendUnavailable, "dial failed")

	if !errors.Is(e, cause) {
		t.Error("wrapped error should match cause via errors.Is")
	}
	if !strings.Contains(e.Error(), "connection refused") {
		t.Errorf("message should include cause: %q", e.Error())
	}
}

func TestBuildDefaults(t *testing.T) {
	b := NewBuilder(nil)

	tests := []struct {
		kind   Kind
		status int
		title  string
	}{
		{KindInvalidToken, http.StatusUnauthorized, "Invalid or missing token"},
		{KindRateLimitExceeded, http.StatusTooManyRequests, "Rate limit exceeded"},
		{KindBackendUnavailable, http.StatusBadGateway, "Backend unavailable"},
		{KindNoBackendConfigured, http.StatusInternalServerError, "No backend configured"},
		{KindValidationFailed, http.StatusBadRequest, "Validation failed"},
		{KindForbidden, http.StatusForbidden, "Forbidden"},
		{KindUnknown, http.StatusInternalServerError, "Internal error"},
	}

	for _, tc := range tests {
		doc := b.Build(New(tc.kind, "x"), "/cars/1")
		if doc.Status != tc.status {
			t.Errorf("%s: expected status %d, got %d", tc.kind, tc.status, doc.Status)
		}
		if doc.Title != tc.title {
			t.Errorf("%s: expected title %q, got %q", tc.kind, tc.title, doc.Title)
		}
		if doc.Type == "" {
			t.Errorf("%s: type must always be set", tc.kind)
		}
		if doc.Instance != "/cars/1" {
			t.Errorf("%s: expected instance /cars/1, got %q", tc.kind, doc.Instance)
		}
	}
}

func TestBuildUnknownKindFallsBack(t *testing.T) {
	b := NewBuilder(nil)
	doc := b.Build(New(Kind("something-new"), ""), "")
	if doc.Status != http.StatusInternalServerError {
		t.Errorf("unmapped kind should render as 500, got %d", doc.Status)
	}
	if doc.Title != "Internal error" {
		t.Errorf("unmapped kind should use generic title, got %q", doc.Title)
	}
}

func TestBuildNilError(t *testing.T) {
	b := NewBuilder(nil)
	doc := b.Build(nil, "/x")
	if doc.Status != http.StatusInternalServerError {
		t.Errorf("nil error should render as 500, got %d", doc.Status)
	}
}

func TestBuilderOverrides(t *testing.T) {
	b := NewBuilder(map[Kind]Mapping{
		KindRateLimitExceeded: {Title: "Slow down"},
		KindBackendUnavailable: {Status: http.StatusServiceUnavailable},
	})

	doc := b.Build(New(KindRateLimitExceeded, ""), "")
	if doc.Title != "Slow down" {
		t.Errorf("override title not applied: %q", doc.Title)
	}
	if doc.Status != http.StatusTooManyRequests {
		t.Errorf("status should keep default when override is zero: %d", doc.Status)
	}

	doc = b.Build(New(KindBackendUnavailable, ""), "")
	if doc.Status != http.StatusServiceUnavailable {
		t.Errorf("override status not applied: %d", doc.Status)
	}
}

func TestRenderProducesRequiredFields(t *testing.T) {
	b := NewBuilder(nil)
	status, body := b.Render(New(KindRateLimitExceeded, "quota exhausted"), "/cars")

	if status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	for _, field := range []string{"type", "title", "status"} {
		if _, ok := doc[field]; !ok {
			t.Errorf("body missing required field %q", field)
		}
	}
}
