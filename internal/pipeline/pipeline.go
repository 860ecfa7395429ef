package pipeline

import (
	"context"
	"maps"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/edgegate/edgegate/internal/problem"
)

// Stage is one of the four points at which policies execute for an exchange.
type Stage string

const (
	StageInbound  Stage = "inbound"
	StageBackend  Stage = "backend"
	StageOutbound Stage = "outbound"
	StageOnError  Stage = "on-error"
)

// Stages lists the stages in execution order, on-error last.
var Stages = []Stage{StageInbound, StageBackend, StageOutbound, StageOnError}

// Request is the mutable request half of an exchange.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// ContentType returns the declared content type of the request body.
func (r *Request) ContentType() string {
	return r.Header.Get("Content-Type")
}

// Response is the outgoing response being built for an exchange. It exists
// from exchange creation with an empty header map so that inbound policies
// can stage response headers before a status is known.
type Response struct {
	StatusCode int
	Reason     string
	Header     http.Header
	Body       []byte
}

// NewResponse creates an empty response with an initialized header map.
func NewResponse() *Response {
	return &Response{Header: make(http.Header)}
}

// Set fills in status, reason and body, keeping already-staged headers.
func (r *Response) Set(status int, reason string, body []byte) {
	r.StatusCode = status
	r.Reason = reason
	r.Body = body
}

// Written reports whether a status has been produced.
func (r *Response) Written() bool {
	return r.StatusCode != 0
}

// Clone returns a deep copy safe to publish into a shared cache.
func (r *Response) Clone() *Response {
	c := &Response{
		StatusCode: r.StatusCode,
		Reason:     r.Reason,
		Header:     r.Header.Clone(),
		Body:       append([]byte(nil), r.Body...),
	}
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	return c
}

// Exchange is one in-flight request/response pair. It is exclusively owned
// by the single pipeline execution processing it and is never shared across
// concurrent exchanges.
type Exchange struct {
	ID       string
	Request  *Request
	Response *Response

	// API and Operation identify the matched catalog operation.
	API       string
	Operation string

	// Params holds path-template variables from operation matching.
	Params map[string]string

	// SubscriptionKey is resolved once from a header at exchange creation.
	SubscriptionKey string

	// CounterKey is the rate-limit identity derived from the subscription
	// store, falling back to the client address.
	CounterKey string

	// AuthToken holds claims, populated only after successful JWT validation.
	AuthToken map[string]any

	// Variables is scratch space set by policies and read by later
	// policies and expressions within the same exchange.
	Variables map[string]any

	// CacheHit marks that the response was served from the response cache.
	CacheHit bool
}

// NewExchange creates an exchange for a request with an empty response and
// initialized maps.
func NewExchange(req *Request) *Exchange {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	return &Exchange{
		ID:        uuid.NewString(),
		Request:   req,
		Response:  NewResponse(),
		Params:    make(map[string]string),
		Variables: make(map[string]any),
	}
}

// Claim returns an auth token claim, or nil if the token is unset.
func (ex *Exchange) Claim(name string) any {
	if ex.AuthToken == nil {
		return nil
	}
	return ex.AuthToken[name]
}

// SetVariable stores a value in the exchange scratch space.
func (ex *Exchange) SetVariable(name string, value any) {
	ex.Variables[name] = value
}

// CopyVariables returns a snapshot of the scratch space, for tracing.
func (ex *Exchange) CopyVariables() map[string]any {
	return maps.Clone(ex.Variables)
}

// Policy is one executable policy statement. Implementations never mutate
// themselves during Apply; all mutable state lives in the exchange or in
// shared stores with their own synchronization.
type Policy interface {
	// Name identifies the policy kind for logging and tracing.
	Name() string

	// Apply runs the policy against the exchange.
	Apply(ctx context.Context, ex *Exchange) Outcome
}

type outcomeKind int

const (
	outcomeContinue outcomeKind = iota
	outcomeShortCircuit
	outcomeFail
)

// Outcome is the result of applying one policy.
type Outcome struct {
	kind     outcomeKind
	Response *Response
	Err      *problem.PolicyError
}

// Continue advances to the next policy in the stage.
func Continue() Outcome {
	return Outcome{kind: outcomeContinue}
}

// ShortCircuit skips the remaining policies in the stage and jumps to the
// outbound stage with the given response (or to done, when already there).
func ShortCircuit(resp *Response) Outcome {
	return Outcome{kind: outcomeShortCircuit, Response: resp}
}

// Fail transfers control to the on-error stage.
func Fail(err *problem.PolicyError) Outcome {
	return Outcome{kind: outcomeFail, Err: err}
}

// IsContinue reports a continue outcome.
func (o Outcome) IsContinue() bool { return o.kind == outcomeContinue }

// IsShortCircuit reports a short-circuit outcome.
func (o Outcome) IsShortCircuit() bool { return o.kind == outcomeShortCircuit }

// IsFail reports a failure outcome.
func (o Outcome) IsFail() bool { return o.kind == outcomeFail }

// Chain is an ordered list of policies for one stage.
type Chain []Policy

// Run applies the chain in order, returning the first non-continue outcome.
// Each applied policy is recorded as an event on the exchange span, if one
// is active on the context.
func (c Chain) Run(ctx context.Context, ex *Exchange) Outcome {
	span := trace.SpanFromContext(ctx)
	for _, p := range c {
		if err := ctx.Err(); err != nil {
			return Fail(problem.Wrap(err, problem.KindUnknown, "exchange cancelled"))
		}
		if span.IsRecording() {
			span.AddEvent("policy", trace.WithAttributes(
				attribute.String("policy", p.Name()),
			))
		}
		out := p.Apply(ctx, ex)
		if !out.IsContinue() {
			return out
		}
	}
	return Continue()
}
