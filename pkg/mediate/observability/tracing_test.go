package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTracingTest(t *testing.T) *tracetest.InMemoryExporter {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer("mediate")

	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		tracer = otel.Tracer("mediate")
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutting down tracer provider: %v", err)
		}
	})
	return exporter
}

func TestDispatchSpan(t *testing.T) {
	exporter := setupTracingTest(t)
	sm := NewSpanManager()

	ctx, span := sm.StartDispatchSpan(context.Background(), "Ping", "req-1")
	sm.AddSpanEvent(ctx, "validated", attribute.Int("rules", 2))
	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	s := spans[0]
	assert.Equal(t, "mediate.dispatch Ping", s.Name)
	assert.Equal(t, codes.Ok, s.Status.Code)
	assert.Contains(t, s.Attributes, attribute.String("request.id", "req-1"))
	require.Len(t, s.Events, 1)
	assert.Equal(t, "validated", s.Events[0].Name)
}

func TestPublishSpanRecordsError(t *testing.T) {
	exporter := setupTracingTest(t)
	sm := NewSpanManager()

	_, span := sm.StartPublishSpan(context.Background(), "OrderPlaced", "E1")
	sm.EndSpanWithError(span, errors.New("handler failed"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "mediate.publish", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "handler failed", spans[0].Status.Description)
	assert.Contains(t, spans[0].Attributes, attribute.String("event.id", "E1"))
}

func TestEndSpanWithErrorNilSpan(t *testing.T) {
	assert.NotPanics(t, func() { EndSpanWithError(nil, errors.New("x")) })
}

func TestNoopImplementations(t *testing.T) {
	ctx := context.Background()
	assert.NotPanics(t, func() {
		var m MetricsRecorder = NoopMetrics{}
		m.RecordDispatch(ctx, "", 0, nil)
		m.RecordEventPublish(ctx, "", 0, 0, errors.New("x"))
		m.RecordRetry(ctx, "", "")
		m.RecordDeadLetter(ctx, "", nil)
		m.RecordQueueDepth(ctx, 0)
	})

	var sm SpanManager = NoopSpanManager{}
	got, span := sm.StartDispatchSpan(ctx, "F", "R")
	assert.Equal(t, ctx, got)
	assert.False(t, span.IsRecording())
	_, span = sm.StartPublishSpan(ctx, "E", "1")
	sm.EndSpanWithError(span, nil)
	sm.AddSpanEvent(ctx, "x")
}
