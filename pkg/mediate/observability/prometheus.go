package observability

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const promNamespace = "mediate"

// PrometheusRecorder implements MetricsRecorder with Prometheus collectors.
type PrometheusRecorder struct {
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	publishTotal     *prometheus.CounterVec
	publishDuration  *prometheus.HistogramVec
	retryTotal       *prometheus.CounterVec
	deadLetterTotal  *prometheus.CounterVec
	queueDepth       prometheus.Gauge
}

var _ MetricsRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer. Collectors that are already
// registered are reused, so the recorder may be built more than once per
// registry.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &PrometheusRecorder{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Pipeline executions by feature and outcome.",
		}, []string{"feature", "outcome"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: promNamespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Pipeline execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"feature"}),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: "event",
			Name:      "publish_total",
			Help:      "Event fan-outs by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		publishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: promNamespace,
			Subsystem: "event",
			Name:      "publish_duration_seconds",
			Help:      "Event fan-out latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		retryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: "event",
			Name:      "retry_total",
			Help:      "Event retries by event type and action.",
		}, []string{"event_type", "action"}),
		deadLetterTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: "event",
			Name:      "dead_letter_total",
			Help:      "Dead-lettered events by event type and persistence outcome.",
		}, []string{"event_type", "outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Events buffered in the queue.",
		}),
	}

	var err error
	if r.dispatchTotal, err = register(reg, r.dispatchTotal); err != nil {
		return nil, err
	}
	if r.dispatchDuration, err = register(reg, r.dispatchDuration); err != nil {
		return nil, err
	}
	if r.publishTotal, err = register(reg, r.publishTotal); err != nil {
		return nil, err
	}
	if r.publishDuration, err = register(reg, r.publishDuration); err != nil {
		return nil, err
	}
	if r.retryTotal, err = register(reg, r.retryTotal); err != nil {
		return nil, err
	}
	if r.deadLetterTotal, err = register(reg, r.deadLetterTotal); err != nil {
		return nil, err
	}
	if r.queueDepth, err = register(reg, r.queueDepth); err != nil {
		return nil, err
	}
	return r, nil
}

// register registers c, returning the existing collector when an
// identical one is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordDispatch implements MetricsRecorder.
func (r *PrometheusRecorder) RecordDispatch(_ context.Context, feature string, duration time.Duration, err error) {
	r.dispatchTotal.WithLabelValues(feature, outcome(err)).Inc()
	r.dispatchDuration.WithLabelValues(feature).Observe(duration.Seconds())
}

// RecordEventPublish implements MetricsRecorder.
func (r *PrometheusRecorder) RecordEventPublish(_ context.Context, eventType string, _ int, duration time.Duration, err error) {
	r.publishTotal.WithLabelValues(eventType, outcome(err)).Inc()
	r.publishDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// RecordRetry implements MetricsRecorder.
func (r *PrometheusRecorder) RecordRetry(_ context.Context, eventType, action string) {
	r.retryTotal.WithLabelValues(eventType, action).Inc()
}

// RecordDeadLetter implements MetricsRecorder.
func (r *PrometheusRecorder) RecordDeadLetter(_ context.Context, eventType string, err error) {
	r.deadLetterTotal.WithLabelValues(eventType, outcome(err)).Inc()
}

// RecordQueueDepth implements MetricsRecorder.
func (r *PrometheusRecorder) RecordQueueDepth(_ context.Context, depth int) {
	r.queueDepth.Set(float64(depth))
}
