package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig configures span creation for a single process.
//
// There is deliberately no exporter selection here: the runtime does not
// ship spans to an external collector, only samples and propagates them
// in-process so task/step/RPC spans can be correlated by TaskIDFromContext
// and RobotIDFromContext in log lines. See DESIGN.md for why the otlp and
// zipkin exporters were left unwired.
type TracingConfig struct {
	Enabled        bool
	SampleRate     float64
	ServiceName    string
	ServiceVersion string
}

// TracerProvider wraps an OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider creates a tracer provider. When disabled it returns a
// noop tracer so StartSpan call sites never need a nil check.
func NewTracerProvider(config TracingConfig) (*TracerProvider, error) {
	if !config.Enabled {
		return &TracerProvider{
			tracer: noop.NewTracerProvider().Tracer("biopatrol"),
		}, nil
	}

	if config.ServiceName == "" {
		config.ServiceName = "biopatrol"
	}
	if config.SampleRate <= 0 || config.SampleRate > 1.0 {
		config.SampleRate = 1.0
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build tracing resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SampleRate)),
	)

	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer("biopatrol"),
	}, nil
}

// Shutdown gracefully shuts down the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartSpan starts a span, tagging it with the task/robot ids carried in
// ctx, and stamps the resulting span's trace id back onto the returned
// context so a WithContext-scoped logger picks it up too.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if taskID := TaskIDFromContext(ctx); taskID != "" {
		attrs = append(attrs, attribute.String(AttrTaskID, taskID))
	}
	if robotID := RobotIDFromContext(ctx); robotID != "" {
		attrs = append(attrs, attribute.String(AttrRobotID, robotID))
	}

	spanCtx, span := tp.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	if sc := span.SpanContext(); sc.HasTraceID() {
		spanCtx = ContextWithTraceID(spanCtx, sc.TraceID().String())
	}
	return spanCtx, span
}

// Span names for the task runtime.
const (
	SpanTaskExecute      = "biopatrol.task.execute"
	SpanStepExecute      = "biopatrol.step.execute"
	SpanFleetRPC         = "biopatrol.fleet.rpc"
	SpanShelfMonitorPoll = "biopatrol.shelf_monitor.poll"
	SpanHTTPServer       = "biopatrol.http.request"
)

// Attribute keys for the task runtime.
const (
	AttrTaskID    = "biopatrol.task_id"
	AttrRobotID   = "biopatrol.robot_id"
	AttrStepID    = "biopatrol.step_id"
	AttrAction    = "biopatrol.action"
	AttrErrorCode = "biopatrol.error_code"
	AttrStatus    = "biopatrol.status"
	AttrError     = "biopatrol.error"
)

// TaskAttrs creates task-scoped attributes.
func TaskAttrs(taskID, robotID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrTaskID, taskID),
		attribute.String(AttrRobotID, robotID),
	}
}

// StepAttrs creates step-scoped attributes.
func StepAttrs(stepID, action string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrStepID, stepID),
		attribute.String(AttrAction, action),
	}
}

// StatusAttrs creates status attributes.
func StatusAttrs(status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrStatus, status),
	}
}

// ErrorAttrs creates error attributes, or nil when err is nil.
func ErrorAttrs(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.Bool(AttrError, true),
		attribute.String("error.message", err.Error()),
	}
}

// ErrorCodeAttrs creates a fleet error-code attribute.
func ErrorCodeAttrs(code int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrErrorCode, code),
	}
}
