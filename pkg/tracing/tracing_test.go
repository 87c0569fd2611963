package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return exp
}

func TestInit_Disabled(t *testing.T) {
	p, err := Init(Config{ServiceName: "liveclass-coordinator"})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestStartSpan_WithoutProvider(t *testing.T) {
	_, span := StartSpan(context.Background(), "test.operation")
	require.NotNil(t, span)
	span.End()
}

func TestRecordError(t *testing.T) {
	exp := installRecorder(t)

	ctx, span := StartSpan(context.Background(), "failing")
	RecordError(ctx, errors.New("blob store unavailable"))
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "blob store unavailable", spans[0].Status.Description)
}

func TestTraceStream(t *testing.T) {
	exp := installRecorder(t)

	_, span := TraceStream(context.Background(), "join_stream", "stream-1", "user-1")
	span.End()
	_, span = TraceStream(context.Background(), "end_stream", "stream-1", "")
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "coordinator.join_stream", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, UserIDKey.String("user-1"))
	assert.Equal(t, "coordinator.end_stream", spans[1].Name)
	assert.Len(t, spans[1].Attributes, 1)
}

func TestTraceSignal(t *testing.T) {
	exp := installRecorder(t)

	_, span := TraceSignal(context.Background(), "offer", "participant-1", "stream-1")
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "signal.offer", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, StreamIDKey.String("stream-1"))
	assert.Contains(t, spans[0].Attributes, MessageTypeKey.String("offer"))
}

func TestTraceRecordingAndHTTP(t *testing.T) {
	exp := installRecorder(t)

	_, span := TraceHTTPRequest(context.Background(), "GET", "/api/v1/streams")
	span.End()
	_, span = TraceRecording(context.Background(), "start", "stream-1", "")
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "http.GET", spans[0].Name)
	assert.Equal(t, "recording.start", spans[1].Name)
	assert.NotContains(t, spans[1].Attributes, RecordingIDKey.String(""))
}
