// Package tracing wraps OpenTelemetry span creation for the flush path —
// buffer flushes, LLM calls, tool execution — behind a narrow Tracer
// type, the same shape as the rest of the pack's OTel wrappers.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer issues spans for one service. With no Endpoint configured it
// returns a no-op tracer so tracing is opt-in at deploy time.
type Tracer struct {
	tracer trace.Tracer
}

// Config configures the OTLP exporter.
type Config struct {
	ServiceName string
	Environment string
	Endpoint    string
}

// New builds a Tracer and a shutdown func that flushes the exporter.
func New(cfg Config) (*Tracer, func(context.Context) error) {
	if cfg.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(cfg.ServiceName)}, func(context.Context) error { return nil }
	}

	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(cfg.ServiceName)}, func(context.Context) error { return nil }
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return &Tracer{tracer: provider.Tracer(cfg.ServiceName)}, provider.Shutdown
}

func (t *Tracer) Start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceFlush spans one buffer-controller flush of a session.
func (t *Tracer) TraceFlush(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return t.Start(ctx, "buffer.flush", trace.SpanKindInternal, attribute.String("session_id", sessionID))
}

// TraceLLMCall spans one agent-loop completion request.
func (t *Tracer) TraceLLMCall(ctx context.Context, provider, model string, iteration int) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("llm.%s", provider), trace.SpanKindClient,
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
		attribute.Int("llm.iteration", iteration),
	)
}

// TraceTool spans one tool execution.
func (t *Tracer) TraceTool(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("tool.%s", name), trace.SpanKindInternal, attribute.String("tool.name", name))
}
