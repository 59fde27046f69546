package mediate

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/randalmurphal/mediate/pkg/mediate/registry"
)

type requestRegistration struct {
	handler    string
	resultType reflect.Type
	invoke     Pipeline
	behaviors  []Behavior
}

type eventRegistration struct {
	handler   string
	invoke    Pipeline
	behaviors []Behavior
}

// Registry collects handler registrations at startup. It is safe for
// concurrent use, but is meant to be filled once and then frozen with Build.
type Registry struct {
	requests *registry.Registry[reflect.Type, []requestRegistration]
	events   *registry.Registry[reflect.Type, []eventRegistration]

	mu     sync.Mutex
	global []Behavior
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		requests: registry.New[reflect.Type, []requestRegistration](),
		events:   registry.New[reflect.Type, []eventRegistration](),
	}
}

// Use adds behaviors that wrap every request and event pipeline built
// from this registry. They run outside the per-feature behaviors, in the
// order given.
func (r *Registry) Use(behaviors ...Behavior) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global = append(r.global, behaviors...)
}

// Register records h as the handler for Req, wrapped by behaviors in the
// given order. Registering a second handler for the same Req is not an
// error here; dispatching Req then fails with ErrAmbiguousHandler.
func Register[Req, Res any](r *Registry, h Handler[Req, Res], behaviors ...Behavior) {
	key := reflect.TypeFor[Req]()
	reg := requestRegistration{
		handler:    fmt.Sprintf("%T", h),
		resultType: reflect.TypeFor[Res](),
		invoke: func(ctx Context, req any) (any, error) {
			typed, ok := req.(Req)
			if !ok {
				return nil, fmt.Errorf("mediate: %T dispatched to handler for %v", req, key)
			}
			res, err := h.Handle(ctx, typed)
			if err != nil {
				return nil, err
			}
			return res, nil
		},
		behaviors: slices.Clone(behaviors),
	}
	r.requests.Update(key, func(cur []requestRegistration) []requestRegistration {
		return append(slices.Clip(cur), reg)
	})
}

// RegisterFunc is Register for a plain function.
func RegisterFunc[Req, Res any](r *Registry, fn func(ctx Context, req Req) (Res, error), behaviors ...Behavior) {
	Register(r, HandlerFunc[Req, Res](fn), behaviors...)
}

// RegisterEvent adds h as one more handler for events of type E.
func RegisterEvent[E Event](r *Registry, h EventHandler[E], behaviors ...Behavior) {
	key := reflect.TypeFor[E]()
	reg := eventRegistration{
		handler: fmt.Sprintf("%T", h),
		invoke: func(ctx Context, evt any) (any, error) {
			typed, ok := evt.(E)
			if !ok {
				return nil, fmt.Errorf("mediate: %T delivered to handler for %v", evt, key)
			}
			if err := h.Handle(ctx, typed); err != nil {
				return nil, err
			}
			return Unit{}, nil
		},
		behaviors: slices.Clone(behaviors),
	}
	r.events.Update(key, func(cur []eventRegistration) []eventRegistration {
		return append(slices.Clip(cur), reg)
	})
}

// RegisterEventFunc is RegisterEvent for a plain function.
func RegisterEventFunc[E Event](r *Registry, fn func(ctx Context, evt E) error, behaviors ...Behavior) {
	RegisterEvent(r, EventHandlerFunc[E](fn), behaviors...)
}

// Build freezes the current registrations into a Dispatcher. Later
// registrations do not affect dispatchers that were already built.
func (r *Registry) Build(opts ...Option) *Dispatcher {
	r.mu.Lock()
	global := slices.Clone(r.global)
	r.mu.Unlock()

	return newDispatcher(r.requests.Snapshot(), r.events.Snapshot(), global, opts...)
}
