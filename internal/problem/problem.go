package problem

import (
	"fmt"
	"net/http"
)

// Kind identifies a class of policy failure.
type Kind string

// Failure kinds produced by policies and the executor.
const (
	KindInvalidToken        Kind = "invalid-token"
	KindRateLimitExceeded   Kind = "rate-limit-exceeded"
	KindBackendUnavailable  Kind = "backend-unavailable"
	KindNoBackendConfigured Kind = "no-backend-configured"
	KindExpressionError     Kind = "expression-error"
	KindOperationNotFound   Kind = "operation-not-found"
	KindValidationFailed    Kind = "validation-failed"
	KindForbidden           Kind = "forbidden"
	KindUnknown             Kind = "unknown"
)

// PolicyError is a failure carried from a policy to the error stage.
type PolicyError struct {
	Kind       Kind
	Detail     string
	underlying error
}

func (e *PolicyError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.underlying)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

func (e *PolicyError) Unwrap() error {
	return e.underlying
}

// New creates a new PolicyError.
func New(kind Kind, detail string) *PolicyError {
	return &PolicyError{
		Kind:   kind,
		Detail: detail,
	}
}

// Newf creates a new PolicyError with a formatted detail.
func Newf(kind Kind, format string, args ...any) *PolicyError {
	return &PolicyError{
		Kind:   kind,
		Detail: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a failure kind.
func Wrap(err error, kind Kind, detail string) *PolicyError {
	return &PolicyError{
		Kind:       kind,
		Detail:     detail,
		underlying: err,
	}
}

// AsPolicyError checks if an error is a PolicyError.
func AsPolicyError(err error) (*PolicyError, bool) {
	if pe, ok := err.(*PolicyError); ok {
		return pe, true
	}
	return nil, false
}

// Document is an RFC 7807 problem document.
type Document struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Mapping describes how a failure kind renders as a problem document.
type Mapping struct {
	Status int
	Title  string
	Type   string
}

// ContentType is the media type of rendered problem documents.
const ContentType = "application/problem+json"

const typePrefix = "https://edgegate.dev/problems/"

// defaultMappings covers every known kind; unknown kinds fall back to KindUnknown.
var defaultMappings = map[Kind]Mapping{
	KindInvalidToken:        {Status: http.StatusUnauthorized, Title: "Invalid or missing token"},
	KindRateLimitExceeded:   {Status: http.StatusTooManyRequests, Title: "Rate limit exceeded"},
	KindBackendUnavailable:  {Status: http.StatusBadGateway, Title: "Backend unavailable"},
	KindNoBackendConfigured: {Status: http.StatusInternalServerError, Title: "No backend configured"},
	KindExpressionError:     {Status: http.StatusInternalServerError, Title: "Expression evaluation failed"},
	KindOperationNotFound:   {Status: http.StatusNotFound, Title: "Operation not found"},
	KindValidationFailed:    {Status: http.StatusBadRequest, Title: "Validation failed"},
	KindForbidden:           {Status: http.StatusForbidden, Title: "Forbidden"},
	KindUnknown:             {Status: http.StatusInternalServerError, Title: "Internal error"},
}
