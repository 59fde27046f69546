package mediate

// Handler handles one request type. Handlers must not keep per-call state.
type Handler[Req, Res any] interface {
	Handle(ctx Context, req Req) (Res, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[Req, Res any] func(ctx Context, req Req) (Res, error)

// Handle implements Handler.
func (f HandlerFunc[Req, Res]) Handle(ctx Context, req Req) (Res, error) {
	return f(ctx, req)
}

// EventHandler handles one event type.
type EventHandler[E Event] interface {
	Handle(ctx Context, evt E) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc[E Event] func(ctx Context, evt E) error

// Handle implements EventHandler.
func (f EventHandlerFunc[E]) Handle(ctx Context, evt E) error {
	return f(ctx, evt)
}

// Next invokes the rest of the chain.
type Next func(ctx Context) (any, error)

// Behavior wraps the rest of the chain. It may run code before and after
// next, skip next entirely, or replace the outcome.
type Behavior interface {
	Handle(ctx Context, req any, next Next) (any, error)
}

// BehaviorFunc adapts a function to Behavior.
type BehaviorFunc func(ctx Context, req any, next Next) (any, error)

// Handle implements Behavior.
func (f BehaviorFunc) Handle(ctx Context, req any, next Next) (any, error) {
	return f(ctx, req, next)
}

// Pipeline is a composed chain ready to run.
type Pipeline func(ctx Context, req any) (any, error)

// Compose wraps terminal with behaviors so that behaviors[0] is outermost.
// Composition is pure: calling it again yields an equivalent pipeline.
func Compose(terminal Pipeline, behaviors ...Behavior) Pipeline {
	p := terminal
	for i := len(behaviors) - 1; i >= 0; i-- {
		b, next := behaviors[i], p
		p = func(ctx Context, req any) (any, error) {
			return b.Handle(ctx, req, func(ctx Context) (any, error) {
				return next(ctx, req)
			})
		}
	}
	return p
}
