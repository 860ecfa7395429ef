// Package executor drives an exchange through the inbound, backend and
// outbound stages, failing over to the on-error stage on any policy failure.
package executor

import (
	"context"

	"go.uber.org/zap"

	"github.com/edgegate/edgegate/internal/logging"
	"github.com/edgegate/edgegate/internal/metrics"
	"github.com/edgegate/edgegate/internal/pipeline"
	"github.com/edgegate/edgegate/internal/problem"
	"github.com/edgegate/edgegate/internal/scope"
	"github.com/edgegate/edgegate/internal/tracing"
)

// Executor runs effective pipelines. It is stateless across exchanges; all
// per-exchange state lives in the exchange itself.
type Executor struct {
	problems  *problem.Builder
	collector *metrics.Collector
}

// New creates an executor. collector may be nil.
func New(problems *problem.Builder, collector *metrics.Collector) *Executor {
	if problems == nil {
		problems = problem.NewBuilder(nil)
	}
	return &Executor{
		problems:  problems,
		collector: collector,
	}
}

// Execute drives the exchange to completion. On return the exchange carries
// a complete response, unless the context was cancelled, in which case the
// context error is returned and the exchange is abandoned.
func (e *Executor) Execute(ctx context.Context, ex *pipeline.Exchange, ep *scope.EffectivePipeline) error {
	// Inbound
	tracing.StageEvent(ctx, pipeline.StageInbound)
	out := ep.Stage(pipeline.StageInbound).Run(ctx, ex)
	switch {
	case out.IsFail():
		return e.onError(ctx, ex, ep, out.Err)
	case out.IsShortCircuit():
		e.install(ex, out.Response)
		return e.outbound(ctx, ex, ep)
	}

	// Backend: some policy must produce a response, via short-circuit
	// (mock, cache hit, return-response) or by writing it (send-backend).
	tracing.StageEvent(ctx, pipeline.StageBackend)
	out = ep.Stage(pipeline.StageBackend).Run(ctx, ex)
	switch {
	case out.IsFail():
		return e.onError(ctx, ex, ep, out.Err)
	case out.IsShortCircuit():
		e.install(ex, out.Response)
	default:
		if !ex.Response.Written() {
			return e.onError(ctx, ex, ep, problem.New(problem.KindNoBackendConfigured,
				"no backend, mock or cached response produced for "+ex.Operation))
		}
	}

	return e.outbound(ctx, ex, ep)
}

// outbound runs the outbound stage. A short-circuit here replaces the
// response and ends the exchange directly.
func (e *Executor) outbound(ctx context.Context, ex *pipeline.Exchange, ep *scope.EffectivePipeline) error {
	tracing.StageEvent(ctx, pipeline.StageOutbound)
	out := ep.Stage(pipeline.StageOutbound).Run(ctx, ex)
	switch {
	case out.IsFail():
		return e.onError(ctx, ex, ep, out.Err)
	case out.IsShortCircuit():
		e.install(ex, out.Response)
	}
	return ctx.Err()
}

// onError runs the on-error stage once and guarantees a response. A failure
// inside error handling falls back to the default problem document; the
// error path never re-fails the exchange.
func (e *Executor) onError(ctx context.Context, ex *pipeline.Exchange, ep *scope.EffectivePipeline, cause *problem.PolicyError) error {
	if err := ctx.Err(); err != nil {
		// Client is gone; abandon without building a response.
		return err
	}

	if e.collector != nil && cause != nil {
		e.collector.RecordFailure(cause.Kind)
	}
	logging.Debug("exchange entering error stage",
		logging.Exchange(ex.ID),
		logging.Operation(ex.Operation),
		logging.Stage(string(pipeline.StageOnError)),
		zap.Error(cause),
	)
	if cause != nil {
		tracing.RecordError(ctx, cause, string(cause.Kind))
	}

	tracing.StageEvent(ctx, pipeline.StageOnError)
	out := ep.Stage(pipeline.StageOnError).Run(ctx, ex)
	if out.IsShortCircuit() && out.Response != nil && out.Response.Written() {
		e.install(ex, out.Response)
		return nil
	}
	if out.IsFail() {
		if err := ctx.Err(); err != nil {
			return err
		}
		// A broken error handler maps to the generic document, not the
		// original cause.
		cause = problem.Wrap(out.Err, problem.KindUnknown, "error handler failed")
	}

	// The error chain did not produce a response: synthesize the default
	// problem document from the triggering error.
	status, body := e.problems.Render(cause, ex.Request.URL.Path)
	resp := pipeline.NewResponse()
	// Keep headers staged before the failure (rate limit counters).
	for name, values := range ex.Response.Header {
		resp.Header[name] = values
	}
	resp.Header.Set("Content-Type", problem.ContentType)
	resp.Set(status, "", body)
	e.install(ex, resp)
	return nil
}

// install publishes a short-circuit response as the exchange response.
func (e *Executor) install(ex *pipeline.Exchange, resp *pipeline.Response) {
	if resp == nil {
		resp = pipeline.NewResponse()
	}
	if resp.Header == nil {
		resp.Header = make(map[string][]string)
	}
	ex.Response = resp
}
