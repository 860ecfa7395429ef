// Package tracing exports one span per exchange over OTLP. Stage and policy
// events hang off the exchange span via the context, so the executor and
// individual policies annotate it without holding a tracer.
package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/edgegate/edgegate/internal/pipeline"
)

// Config holds span export settings.
type Config struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Insecure    bool
	SampleRate  float64
	Headers     map[string]string
}

// Tracer owns the exchange span lifecycle. A disabled tracer is a valid
// zero-cost instance; StartExchange then returns the context unchanged with a
// non-recording span.
type Tracer struct {
	enabled    bool
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// New creates a tracer from config. When disabled, no exporter is built.
func New(cfg Config) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "edgegate"
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	ctx := context.Background()

	opts := []otlptracegrpc.Option{}
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(sampleRate)),
	)
	return newFromProvider(provider), nil
}

// newFromProvider wires an enabled tracer around a provider. Split out so
// tests can supply a provider with an in-memory exporter.
func newFromProvider(provider *sdktrace.TracerProvider) *Tracer {
	t := &Tracer{
		enabled:  true,
		provider: provider,
		tracer:   provider.Tracer("edgegate"),
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(t.propagator)
	return t
}

// IsEnabled reports whether spans are exported.
func (t *Tracer) IsEnabled() bool {
	return t.enabled
}

// StartExchange opens the span for a matched exchange, continuing any trace
// context carried in the request headers, and stages the trace id as a
// response header.
func (t *Tracer) StartExchange(ctx context.Context, ex *pipeline.Exchange) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx = t.propagator.Extract(ctx, propagation.HeaderCarrier(ex.Request.Header))
	ctx, span := t.tracer.Start(ctx, ex.Request.Method+" "+ex.Request.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(ex.Request.Method),
			semconv.URLPath(ex.Request.URL.Path),
			attribute.String("exchange", ex.ID),
			attribute.String("api", ex.API),
			attribute.String("operation", ex.Operation),
		),
	)

	if span.SpanContext().HasTraceID() {
		ex.Response.Header.Set("X-Trace-ID", span.SpanContext().TraceID().String())
	}
	return ctx, span
}

// EndExchange records the final status and closes the span.
func (t *Tracer) EndExchange(span trace.Span, status int) {
	if !t.enabled {
		return
	}
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if status >= 500 {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
	span.End()
}

// StageEvent marks the start of a pipeline stage on the exchange span.
func StageEvent(ctx context.Context, stage pipeline.Stage) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("stage", trace.WithAttributes(
		attribute.String("stage", string(stage)),
	))
}

// TraceEvent carries a trace-policy message onto the exchange span.
func TraceEvent(ctx context.Context, message string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("trace", trace.WithAttributes(
		attribute.String("message", message),
	))
}

// RecordError attaches a policy failure to the exchange span.
func RecordError(ctx context.Context, err error, kind string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String("error.kind", kind))
}

// InjectHeaders propagates the exchange's trace context onto an outgoing
// backend request.
func InjectHeaders(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}

// Close flushes and shuts down the exporter.
func (t *Tracer) Close() error {
	if t.provider != nil {
		return t.provider.Shutdown(context.Background())
	}
	return nil
}
