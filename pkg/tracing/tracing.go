package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "liveclass"

var (
	StreamIDKey      = attribute.Key("stream.id")
	ParticipantIDKey = attribute.Key("participant.id")
	UserIDKey        = attribute.Key("user.id")
	RecordingIDKey   = attribute.Key("recording.id")
	MessageTypeKey   = attribute.Key("signal.message_type")
)

type Config struct {
	Enabled     bool
	ServiceName string
	Version     string
	InstanceID  string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

// Provider owns the SDK tracer provider. A disabled provider is a no-op and
// spans go to the global no-op tracer.
type Provider struct {
	tp *tracesdk.TracerProvider
}

// Init installs a Jaeger-backed provider as the global tracer provider.
func Init(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		attribute.String("deployment.environment", cfg.Environment),
	}
	if cfg.Version != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(cfg.Version))
	}
	if cfg.InstanceID != "" {
		attrs = append(attrs, semconv.ServiceInstanceIDKey.String(cfg.InstanceID))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{tp: tp}, nil
}

// Shutdown flushes buffered spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// RecordError marks the span on ctx as failed.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceStream starts a coordinator span for one stream lifecycle operation.
// userID may be empty for server-initiated operations.
func TraceStream(ctx context.Context, operation, streamID, userID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{StreamIDKey.String(streamID)}
	if userID != "" {
		attrs = append(attrs, UserIDKey.String(userID))
	}
	return StartSpan(ctx, "coordinator."+operation, trace.WithAttributes(attrs...))
}

func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, "http."+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

func TraceSignal(ctx context.Context, messageType, participantID, streamID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "signal."+messageType,
		trace.WithAttributes(
			MessageTypeKey.String(messageType),
			ParticipantIDKey.String(participantID),
			StreamIDKey.String(streamID),
		),
	)
}

func TraceRecording(ctx context.Context, operation, streamID, recordingID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{StreamIDKey.String(streamID)}
	if recordingID != "" {
		attrs = append(attrs, RecordingIDKey.String(recordingID))
	}
	return StartSpan(ctx, "recording."+operation, trace.WithAttributes(attrs...))
}
