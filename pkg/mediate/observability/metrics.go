package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records dispatch and event delivery metrics.
// Use NewMetricsRecorder() for OTel, NewPrometheusRecorder() for Prometheus,
// or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDispatch records one pipeline execution for a request type.
	RecordDispatch(ctx context.Context, feature string, duration time.Duration, err error)

	// RecordEventPublish records one fan-out of an event to its handlers.
	RecordEventPublish(ctx context.Context, eventType string, handlers int, duration time.Duration, err error)

	// RecordRetry records a retry decision taken by the listener.
	RecordRetry(ctx context.Context, eventType, action string)

	// RecordDeadLetter records a dead-letter hand-off; err is the
	// persistence error, if any.
	RecordDeadLetter(ctx context.Context, eventType string, err error)

	// RecordQueueDepth records the current number of buffered events.
	RecordQueueDepth(ctx context.Context, depth int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	dispatches       metric.Int64Counter
	dispatchLatency  metric.Float64Histogram
	dispatchErrors   metric.Int64Counter
	publishes        metric.Int64Counter
	publishLatency   metric.Float64Histogram
	retries          metric.Int64Counter
	deadLetters      metric.Int64Counter
	deadLetterErrors metric.Int64Counter
	queueDepth       metric.Int64Gauge
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily initializes the default OTel instruments.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("mediate")
	m := &otelMetrics{}
	var err error

	if m.dispatches, err = meter.Int64Counter("mediate.dispatch.count",
		metric.WithDescription("Number of pipeline executions"),
	); err != nil {
		return nil, err
	}
	if m.dispatchLatency, err = meter.Float64Histogram("mediate.dispatch.latency_ms",
		metric.WithDescription("Pipeline execution latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.dispatchErrors, err = meter.Int64Counter("mediate.dispatch.errors",
		metric.WithDescription("Number of failed pipeline executions"),
	); err != nil {
		return nil, err
	}
	if m.publishes, err = meter.Int64Counter("mediate.event.publishes",
		metric.WithDescription("Number of event fan-outs"),
	); err != nil {
		return nil, err
	}
	if m.publishLatency, err = meter.Float64Histogram("mediate.event.latency_ms",
		metric.WithDescription("Event fan-out latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.retries, err = meter.Int64Counter("mediate.event.retries",
		metric.WithDescription("Number of event retries by action"),
	); err != nil {
		return nil, err
	}
	if m.deadLetters, err = meter.Int64Counter("mediate.event.dead_letters",
		metric.WithDescription("Number of dead-lettered events"),
	); err != nil {
		return nil, err
	}
	if m.deadLetterErrors, err = meter.Int64Counter("mediate.event.dead_letter_errors",
		metric.WithDescription("Number of dead-letter persistence failures"),
	); err != nil {
		return nil, err
	}
	if m.queueDepth, err = meter.Int64Gauge("mediate.queue.depth",
		metric.WithDescription("Events buffered in the queue"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider; configure it first
// with otel.SetMeterProvider.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordDispatch(ctx context.Context, feature string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("feature", feature))

	m.dispatches.Add(ctx, 1, attrs)
	m.dispatchLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.dispatchErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordEventPublish(ctx context.Context, eventType string, handlers int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.Int("handlers", handlers),
		attribute.Bool("success", err == nil),
	)
	m.publishes.Add(ctx, 1, attrs)
	m.publishLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *otelMetrics) RecordRetry(ctx context.Context, eventType, action string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("action", action),
	))
}

func (m *otelMetrics) RecordDeadLetter(ctx context.Context, eventType string, err error) {
	attrs := metric.WithAttributes(attribute.String("event_type", eventType))
	m.deadLetters.Add(ctx, 1, attrs)
	if err != nil {
		m.deadLetterErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordQueueDepth(ctx context.Context, depth int) {
	m.queueDepth.Record(ctx, int64(depth))
}
