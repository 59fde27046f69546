// Package mediate dispatches typed requests to their handler through an
// ordered chain of behaviors, and delivers events to any number of
// handlers.
//
// # Requests
//
// Each request type has exactly one handler. Register it together with
// the behaviors that should wrap it, then build a Dispatcher:
//
//	reg := mediate.NewRegistry()
//	reg.Use(behavior.Exceptions(), behavior.Logging())
//	mediate.Register(reg, PlaceOrderHandler{}, behavior.Validation(validator))
//	d := reg.Build(mediate.WithLogger(logger))
//
//	receipt, err := mediate.Send[PlaceOrder, Receipt](ctx, d, PlaceOrder{...})
//
// Behaviors run in onion order: the first registered behavior is entered
// first and left last. Registry-wide behaviors added with Use sit outside
// the per-request ones. The composed pipeline is built once per request
// type, on first dispatch, and reused afterwards.
//
// A request type with no handler, or with more than one, fails with a
// *ConfigurationError before any behavior or handler runs.
//
// # Events
//
// Events may have zero, one or many handlers:
//
//	mediate.RegisterEvent(reg, EmailReceipt{})
//	mediate.RegisterEvent(reg, UpdateStock{})
//
// Dispatcher.Publish runs them through the configured publish.Strategy.
// For fire-and-forget delivery, producers call EventQueue.Enqueue and a
// listener.Listener drains the queue in the background with retry and
// dead-letter handling.
//
// # Scopes
//
// WithScopeFactory attaches a per-execution Scope (for example a database
// transaction from package uow). The scope is released on every exit path
// with the pipeline's outcome, including panics.
package mediate
