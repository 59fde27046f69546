// Package behavior provides the standard cross-cutting behaviors:
// exception handling, validation, logging, tracing, metrics, retry and
// timeouts.
//
// Order matters. A typical registry-wide chain is:
//
//	reg.Use(
//	    behavior.Exceptions(),
//	    behavior.Logging(),
//	    behavior.Tracing(nil),
//	    behavior.Metrics(recorder),
//	    behavior.Validation(),
//	)
//
// Exceptions should be outermost so it also sees faults raised by the
// other behaviors.
package behavior

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/mediate/pkg/mediate"
	mederrors "github.com/randalmurphal/mediate/pkg/mediate/errors"
	"github.com/randalmurphal/mediate/pkg/mediate/observability"
)

// Exceptions converts unexpected faults into *mediate.InternalError.
//
// Typed failures (validation, configuration, internal and business
// failures) and context cancellation pass through unchanged. Anything else,
// including panics, is logged with its stack and replaced; the original
// fault is not returned.
func Exceptions() mediate.Behavior {
	return mediate.BehaviorFunc(func(ctx mediate.Context, _ any, next mediate.Next) (out any, err error) {
		defer func() {
			if r := recover(); r != nil {
				ctx.Logger().Error("unhandled panic",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				out, err = nil, internal(ctx)
			}
		}()

		out, err = next(ctx)
		if err == nil || mediate.IsTypedFailure(err) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return out, err
		}

		ctx.Logger().Error("unhandled error", slog.String("error", err.Error()))
		return nil, internal(ctx)
	})
}

func internal(ctx mediate.Context) *mediate.InternalError {
	return &mediate.InternalError{Feature: ctx.Feature(), RequestID: ctx.RequestID()}
}

// Validator checks a request and reports rule failures. A non-nil error
// means the check itself could not run.
type Validator interface {
	Validate(ctx context.Context, req any) ([]mediate.FieldFailure, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, req any) ([]mediate.FieldFailure, error)

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, req any) ([]mediate.FieldFailure, error) {
	return f(ctx, req)
}

// SelfValidating is implemented by requests that can check themselves.
type SelfValidating interface {
	Validate() []mediate.FieldFailure
}

// Validation runs the validators (and the request's own Validate method,
// if it has one) before the rest of the chain. Any failure short-circuits
// with a *mediate.ValidationError carrying every failure found.
func Validation(validators ...Validator) mediate.Behavior {
	return mediate.BehaviorFunc(func(ctx mediate.Context, req any, next mediate.Next) (any, error) {
		var failures []mediate.FieldFailure
		if sv, ok := req.(SelfValidating); ok {
			failures = append(failures, sv.Validate()...)
		}
		for _, v := range validators {
			f, err := v.Validate(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("validate %s: %w", ctx.Feature(), err)
			}
			failures = append(failures, f...)
		}

		if len(failures) > 0 {
			return nil, &mediate.ValidationError{Feature: ctx.Feature(), Failures: failures}
		}
		return next(ctx)
	})
}

// Logging logs the start and outcome of each execution with the
// context's enriched logger.
func Logging() mediate.Behavior {
	return mediate.BehaviorFunc(func(ctx mediate.Context, _ any, next mediate.Next) (any, error) {
		logger := ctx.Logger()
		observability.LogDispatchStart(logger, ctx.Feature())
		done := observability.TimedOperation()

		out, err := next(ctx)

		if err != nil {
			observability.LogDispatchError(logger, ctx.Feature(), err, done())
		} else {
			observability.LogDispatchComplete(logger, ctx.Feature(), done())
		}
		return out, err
	})
}

// Tracing wraps each execution in a span. A nil spans uses the global
// OpenTelemetry tracer.
func Tracing(spans observability.SpanManager) mediate.Behavior {
	if spans == nil {
		spans = observability.NewSpanManager()
	}
	return mediate.BehaviorFunc(func(ctx mediate.Context, _ any, next mediate.Next) (any, error) {
		spanCtx, span := spans.StartDispatchSpan(ctx, ctx.Feature(), ctx.RequestID())
		out, err := next(mediate.WithContext(ctx, spanCtx))
		spans.EndSpanWithError(span, err)
		return out, err
	})
}

// Metrics records one dispatch per execution. A nil recorder uses the
// OpenTelemetry recorder.
func Metrics(recorder observability.MetricsRecorder) mediate.Behavior {
	if recorder == nil {
		recorder = observability.NewMetricsRecorder()
	}
	return mediate.BehaviorFunc(func(ctx mediate.Context, _ any, next mediate.Next) (any, error) {
		start := time.Now()
		out, err := next(ctx)
		recorder.RecordDispatch(ctx, ctx.Feature(), time.Since(start), err)
		return out, err
	})
}

// Retry re-runs the rest of the chain on transient failures.
// Permanent failures (see errors.Categorize) are returned at once.
func Retry(cfg mederrors.RetryConfig) mediate.Behavior {
	return mediate.BehaviorFunc(func(ctx mediate.Context, _ any, next mediate.Next) (any, error) {
		attempt := 0
		res := mederrors.WithRetryContext(ctx, cfg, func(context.Context) (any, error) {
			attempt++
			if attempt > 1 {
				ctx.Logger().Debug("retrying", slog.Int("retry_attempt", attempt))
			}
			return next(ctx)
		})
		return res.Value, res.Err
	})
}

// Timeout bounds the rest of the chain to d.
func Timeout(d time.Duration) mediate.Behavior {
	return mediate.BehaviorFunc(func(ctx mediate.Context, _ any, next mediate.Next) (any, error) {
		tctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(mediate.WithContext(ctx, tctx))
	})
}
