package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

// Tracer records spans for batch planning and installation runs. A
// disabled tracer records nothing and is safe to use everywhere.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a tracer from the tracing settings.
func NewTracer(ctx context.Context, cfg TracingConfig, service, version string) (*Tracer, error) {
	if !cfg.Enabled {
		provider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		return &Tracer{provider: provider, tracer: provider.Tracer(service)}, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(service),
		semconv.ServiceVersionKey.String(version),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to describe trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exporter),
	)
	return &Tracer{provider: provider, tracer: provider.Tracer(service)}, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		return otlptracegrpc.New(ctx, opts...)
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}

// StartBatch opens the span covering one planning and execution batch.
func (t *Tracer) StartBatch(ctx context.Context, pipelineID string, hosts int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "batch", trace.WithAttributes(
		attribute.String("pipeline.id", pipelineID),
		attribute.Int("batch.hosts", hosts),
	))
}

// StartPlan opens the span for one host's plan generation.
func (t *Tracer) StartPlan(ctx context.Context, hostID int64, innerIP string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "plan.build", trace.WithAttributes(
		attribute.Int64("host.id", hostID),
		attribute.String("host.inner_ip", innerIP),
	))
}

// StartInstall opens the span for one host's remote run.
func (t *Tracer) StartInstall(ctx context.Context, hostID int64, operation string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "install."+operation, trace.WithAttributes(
		attribute.Int64("host.id", hostID),
		attribute.String("operation", operation),
	))
}

// EndSpan closes a span, recording err as its outcome.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TraceID returns the active trace ID, empty outside a sampled trace.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// Shutdown flushes pending spans and releases the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}
