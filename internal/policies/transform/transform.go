// Package transform implements header and variable mutation policies.
package transform

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/edgegate/edgegate/internal/exprs"
	"github.com/edgegate/edgegate/internal/logging"
	"github.com/edgegate/edgegate/internal/pipeline"
	"github.com/edgegate/edgegate/internal/tracing"
)

// ExistsAction controls what SetHeader does when the header already exists.
type ExistsAction string

const (
	// Override replaces any existing values.
	Override ExistsAction = "override"
	// Skip leaves an existing header untouched.
	Skip ExistsAction = "skip"
	// Append adds the value alongside existing ones.
	Append ExistsAction = "append"
)

// Target selects which half of the exchange a header edit applies to.
type Target string

const (
	TargetRequest  Target = "request"
	TargetResponse Target = "response"
)

// SetHeaderConfig holds set-header policy configuration. Value is a literal;
// ValueExpr, when set, is evaluated per exchange and wins over Value.
type SetHeaderConfig struct {
	Name         string
	Value        string
	ValueExpr    *exprs.Value
	ExistsAction ExistsAction
	Target       Target
}

// SetHeader sets, appends or conditionally skips a named header.
type SetHeader struct {
	name      string
	value     string
	valueExpr *exprs.Value
	action    ExistsAction
	target    Target
}

// NewSetHeader creates a set-header policy.
func NewSetHeader(cfg SetHeaderConfig) *SetHeader {
	action := cfg.ExistsAction
	if action == "" {
		action = Override
	}
	target := cfg.Target
	if target == "" {
		target = TargetRequest
	}
	return &SetHeader{
		name:      cfg.Name,
		value:     cfg.Value,
		valueExpr: cfg.ValueExpr,
		action:    action,
		target:    target,
	}
}

// Name implements pipeline.Policy.
func (p *SetHeader) Name() string { return "set-header" }

// Apply implements pipeline.Policy. An expression failure falls back to the
// literal value; header edits never fail the exchange.
func (p *SetHeader) Apply(_ context.Context, ex *pipeline.Exchange) pipeline.Outcome {
	var h http.Header
	if p.target == TargetResponse {
		h = ex.Response.Header
	} else {
		h = ex.Request.Header
	}

	value := p.value
	if p.valueExpr != nil {
		value = p.valueExpr.EvalString(ex, p.value)
	}

	switch p.action {
	case Skip:
		if len(h.Values(p.name)) == 0 {
			h.Set(p.name, value)
		}
	case Append:
		h.Add(p.name, value)
	default:
		h.Set(p.name, value)
	}

	return pipeline.Continue()
}

// SetVariableConfig holds set-variable policy configuration.
type SetVariableConfig struct {
	Name      string
	Value     any
	ValueExpr *exprs.Value
}

// SetVariable writes a value into the exchange scratch space for later
// policies and expressions.
type SetVariable struct {
	name      string
	value     any
	valueExpr *exprs.Value
}

// NewSetVariable creates a set-variable policy.
func NewSetVariable(cfg SetVariableConfig) *SetVariable {
	return &SetVariable{
		name:      cfg.Name,
		value:     cfg.Value,
		valueExpr: cfg.ValueExpr,
	}
}

// Name implements pipeline.Policy.
func (p *SetVariable) Name() string { return "set-variable" }

// Apply implements pipeline.Policy.
func (p *SetVariable) Apply(_ context.Context, ex *pipeline.Exchange) pipeline.Outcome {
	value := p.value
	if p.valueExpr != nil {
		if v, err := p.valueExpr.Eval(ex); err == nil {
			value = v
		}
	}
	ex.SetVariable(p.name, value)
	return pipeline.Continue()
}

// TraceConfig holds trace policy configuration.
type TraceConfig struct {
	Message string
}

// Trace emits a structured log line with the exchange state.
type Trace struct {
	message string
}

// NewTrace creates a trace policy.
func NewTrace(cfg TraceConfig) *Trace {
	return &Trace{message: cfg.Message}
}

// Name implements pipeline.Policy.
func (p *Trace) Name() string { return "trace" }

// Apply implements pipeline.Policy. The message lands both in the log and as
// an event on the exchange span.
func (p *Trace) Apply(ctx context.Context, ex *pipeline.Exchange) pipeline.Outcome {
	logging.Info("trace",
		zap.String("message", p.message),
		logging.Exchange(ex.ID),
		logging.Policy(p.Name()),
		zap.String("method", ex.Request.Method),
		zap.String("path", ex.Request.URL.Path),
		zap.Any("variables", ex.CopyVariables()),
	)
	tracing.TraceEvent(ctx, p.message)
	return pipeline.Continue()
}
