package mediate

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/mediate/pkg/mediate/observability"
	"github.com/randalmurphal/mediate/pkg/mediate/publish"
	"github.com/randalmurphal/mediate/pkg/mediate/registry"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the base logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the recorder for event fan-out metrics. Per-request
// metrics come from behavior.Metrics. Defaults to observability.NoopMetrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithSpanManager sets the tracer used around event fan-out.
// Defaults to observability.NoopSpanManager.
func WithSpanManager(s observability.SpanManager) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.spans = s
		}
	}
}

// WithScopeFactory acquires a Scope around every pipeline execution.
func WithScopeFactory(f ScopeFactory) Option {
	return func(d *Dispatcher) {
		d.scopes = f
	}
}

// WithPublishStrategy sets how Publish fans events out.
// Defaults to publish.Sequential.
func WithPublishStrategy(s publish.Strategy) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.strategy = s
		}
	}
}

type pipelineEntry struct {
	run        Pipeline
	resultType reflect.Type
	err        error
}

// Dispatcher runs requests and publishes events against an immutable set
// of registrations. It is safe for concurrent use.
type Dispatcher struct {
	requests map[reflect.Type][]requestRegistration
	events   map[reflect.Type][]eventRegistration
	global   []Behavior

	pipelines     *registry.Registry[reflect.Type, pipelineEntry]
	eventHandlers *registry.Registry[reflect.Type, []publish.Handler]

	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
	scopes   ScopeFactory
	strategy publish.Strategy
}

func newDispatcher(
	requests map[reflect.Type][]requestRegistration,
	events map[reflect.Type][]eventRegistration,
	global []Behavior,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		requests:      requests,
		events:        events,
		global:        global,
		pipelines:     registry.New[reflect.Type, pipelineEntry](),
		eventHandlers: registry.New[reflect.Type, []publish.Handler](),
		logger:        slog.Default(),
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
		strategy:      publish.Sequential{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Logger returns the dispatcher's base logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Metrics returns the dispatcher's metrics recorder.
func (d *Dispatcher) Metrics() observability.MetricsRecorder { return d.metrics }

// Send runs req through its pipeline and returns the handler's result.
//
// A *ConfigurationError is returned, before anything runs, when Req has
// no handler, more than one handler, or was registered with a result type
// not assignable to Res.
func Send[Req, Res any](ctx context.Context, d *Dispatcher, req Req) (Res, error) {
	var zero Res
	if ctx == nil {
		return zero, ErrNilContext
	}

	key, ok := featureType(req)
	if !ok {
		return zero, &ConfigurationError{Feature: reflect.TypeFor[Req]().String(), Err: ErrNilFeature}
	}

	entry := d.requestPipeline(key)
	if entry.err != nil {
		return zero, entry.err
	}

	want := reflect.TypeFor[Res]()
	if !entry.resultType.AssignableTo(want) {
		return zero, &ConfigurationError{
			Feature:  key.String(),
			Handlers: 1,
			Err:      fmt.Errorf("%w: registered %v, requested %v", ErrResultType, entry.resultType, want),
		}
	}

	out, err := d.execute(ctx, key.String(), entry.run, req)
	if err != nil {
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	res, ok := out.(Res)
	if !ok {
		return zero, &ConfigurationError{
			Feature:  key.String(),
			Handlers: 1,
			Err:      fmt.Errorf("%w: pipeline returned %T, requested %v", ErrResultType, out, want),
		}
	}
	return res, nil
}

// featureType returns the registration key for v: its static type, or
// its dynamic type when T is an interface.
func featureType[T any](v T) (reflect.Type, bool) {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Interface {
		return t, true
	}
	dt := reflect.TypeOf(any(v))
	return dt, dt != nil
}

// requestPipeline returns the memoized pipeline for a request type.
func (d *Dispatcher) requestPipeline(key reflect.Type) pipelineEntry {
	return d.pipelines.GetOrCreate(key, func() pipelineEntry {
		regs := d.requests[key]
		switch len(regs) {
		case 0:
			return pipelineEntry{err: &ConfigurationError{Feature: key.String(), Err: ErrNoHandler}}
		case 1:
		default:
			return pipelineEntry{err: &ConfigurationError{Feature: key.String(), Handlers: len(regs), Err: ErrAmbiguousHandler}}
		}
		reg := regs[0]
		return pipelineEntry{
			run:        Compose(reg.invoke, d.chain(reg.behaviors)...),
			resultType: reg.resultType,
		}
	})
}

// chain puts registry-wide behaviors outside the per-feature ones.
func (d *Dispatcher) chain(behaviors []Behavior) []Behavior {
	out := make([]Behavior, 0, len(d.global)+len(behaviors))
	out = append(out, d.global...)
	return append(out, behaviors...)
}

// execute runs one pipeline inside its scope.
func (d *Dispatcher) execute(ctx context.Context, feature string, run Pipeline, req any) (out any, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scope := NoopScope
	if d.scopes != nil {
		s, err := d.scopes(ctx)
		if err != nil {
			return nil, fmt.Errorf("mediate: acquire scope for %s: %w", feature, err)
		}
		scope = s
	}

	requestID := newRequestID()
	attempt := attemptFrom(ctx)
	dc := &dispatchContext{
		Context:   ctx,
		logger:    observability.EnrichLogger(d.logger, requestID, feature, attempt),
		scope:     scope,
		requestID: requestID,
		feature:   feature,
		attempt:   attempt,
	}

	// Release must run even when ctx is already cancelled.
	releaseCtx := context.WithoutCancel(ctx)

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		perr := asPanicError(feature, r)
		if rerr := scope.Release(releaseCtx, perr); rerr != nil {
			dc.logger.Error("scope release failed", slog.String("error", rerr.Error()))
		}
		panic(r)
	}()

	out, err = run(dc, req)

	if rerr := scope.Release(releaseCtx, err); rerr != nil {
		if err == nil {
			out, err = nil, fmt.Errorf("mediate: release scope for %s: %w", feature, rerr)
		} else {
			dc.logger.Error("scope release failed", slog.String("error", rerr.Error()))
		}
	}

	return out, err
}

func asPanicError(feature string, r any) *PanicError {
	if pe, ok := r.(*PanicError); ok {
		return pe
	}
	return &PanicError{Feature: feature, Value: r, Stack: string(debug.Stack())}
}

// Publish delivers evt to every handler registered for its type using the
// configured strategy. An event type without handlers is not an error.
// Handler failures come back as a *publish.AggregateError.
func (d *Dispatcher) Publish(ctx context.Context, evt Event) error {
	if ctx == nil {
		return ErrNilContext
	}
	if evt == nil {
		return &ConfigurationError{Feature: "<nil>", Err: ErrNilFeature}
	}

	key := reflect.TypeOf(evt)
	handlers := d.handlersFor(key)
	if len(handlers) == 0 {
		d.logger.Debug("no handlers for event",
			slog.String("event_type", key.String()),
			slog.String("event_id", evt.EventID()))
		return nil
	}

	ctx, span := d.spans.StartPublishSpan(ctx, key.String(), evt.EventID())
	start := time.Now()

	err := d.strategy.Publish(ctx, evt, handlers)

	d.spans.EndSpanWithError(span, err)
	d.metrics.RecordEventPublish(ctx, key.String(), len(handlers), time.Since(start), err)
	return err
}

// HandlerCount returns how many handlers are registered for evt's type.
func (d *Dispatcher) HandlerCount(evt Event) int {
	if evt == nil {
		return 0
	}
	return len(d.events[reflect.TypeOf(evt)])
}

// handlersFor returns the memoized publish handlers for an event type.
func (d *Dispatcher) handlersFor(key reflect.Type) []publish.Handler {
	return d.eventHandlers.GetOrCreate(key, func() []publish.Handler {
		regs := d.events[key]
		feature := key.String()
		handlers := make([]publish.Handler, len(regs))
		for i, reg := range regs {
			run := Compose(reg.invoke, d.chain(reg.behaviors)...)
			handlers[i] = func(ctx context.Context, evt any) (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = asPanicError(feature, r)
					}
				}()
				_, err = d.execute(ctx, feature, run, evt)
				return err
			}
		}
		return handlers
	})
}

// EventType returns the type name used for evt in logs and metrics.
func EventType(evt Event) string {
	if evt == nil {
		return "<nil>"
	}
	return reflect.TypeOf(evt).String()
}
