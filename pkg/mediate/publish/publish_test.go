package publish_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/mediate/pkg/mediate/publish"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errH1 = errors.New("h1 failed")

func strategies() map[string]publish.Strategy {
	return map[string]publish.Strategy{
		"sequential": publish.Sequential{},
		"parallel":   publish.Parallel{},
		"parallel-1": publish.Parallel{MaxConcurrency: 1},
	}
}

func TestFailureDoesNotStopOtherHandlers(t *testing.T) {
	for name, s := range strategies() {
		t.Run(name, func(t *testing.T) {
			var h2Ran atomic.Bool
			handlers := []publish.Handler{
				func(context.Context, any) error { return errH1 },
				func(context.Context, any) error { h2Ran.Store(true); return nil },
			}

			err := s.Publish(context.Background(), "evt", handlers)

			var agg *publish.AggregateError
			require.ErrorAs(t, err, &agg)
			require.Len(t, agg.Errors, 1)
			assert.Equal(t, 2, agg.Handlers)
			assert.ErrorIs(t, err, errH1)

			var he *publish.HandlerError
			require.ErrorAs(t, agg.Errors[0], &he)
			assert.Equal(t, 0, he.Index)
			assert.True(t, h2Ran.Load(), "second handler must still run")
		})
	}
}

func TestParallelAggregateIndependentOfCompletionOrder(t *testing.T) {
	errA := errors.New("a")
	errC := errors.New("c")
	handlers := []publish.Handler{
		func(context.Context, any) error { time.Sleep(30 * time.Millisecond); return errA },
		func(context.Context, any) error { return nil },
		func(context.Context, any) error { return errC },
	}

	seqErr := publish.Sequential{}.Publish(context.Background(), nil, handlers)
	parErr := publish.Parallel{}.Publish(context.Background(), nil, handlers)

	require.Error(t, seqErr)
	require.Error(t, parErr)
	assert.Equal(t, seqErr.Error(), parErr.Error())

	var agg *publish.AggregateError
	require.ErrorAs(t, parErr, &agg)
	require.Len(t, agg.Errors, 2)
	assert.ErrorIs(t, agg.Errors[0], errA)
	assert.ErrorIs(t, agg.Errors[1], errC)
}

func TestSequentialRunsInOrder(t *testing.T) {
	var order []int
	handlers := make([]publish.Handler, 3)
	for i := range handlers {
		handlers[i] = func(context.Context, any) error {
			order = append(order, i)
			return nil
		}
	}

	require.NoError(t, publish.Sequential{}.Publish(context.Background(), nil, handlers))
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestParallelRunsConcurrently(t *testing.T) {
	const n = 4
	var wg sync.WaitGroup
	wg.Add(n)
	handlers := make([]publish.Handler, n)
	for i := range handlers {
		handlers[i] = func(context.Context, any) error {
			wg.Done()
			wg.Wait() // deadlocks unless all handlers run at once
			return nil
		}
	}

	done := make(chan error, 1)
	go func() { done <- publish.Parallel{}.Publish(context.Background(), nil, handlers) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handlers did not run concurrently")
	}
}

func TestParallelRespectsLimit(t *testing.T) {
	var running, peak atomic.Int32
	handlers := make([]publish.Handler, 6)
	for i := range handlers {
		handlers[i] = func(context.Context, any) error {
			cur := running.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		}
	}

	require.NoError(t, publish.Parallel{MaxConcurrency: 2}.Publish(context.Background(), nil, handlers))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPanicBecomesError(t *testing.T) {
	for name, s := range strategies() {
		t.Run(name, func(t *testing.T) {
			var ran atomic.Bool
			handlers := []publish.Handler{
				func(context.Context, any) error { panic("kaboom") },
				func(context.Context, any) error { ran.Store(true); return nil },
			}

			err := s.Publish(context.Background(), nil, handlers)
			assert.ErrorIs(t, err, publish.ErrHandlerPanic)
			assert.True(t, ran.Load())
		})
	}
}

func TestNoHandlers(t *testing.T) {
	for name, s := range strategies() {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, s.Publish(context.Background(), nil, nil))
		})
	}
}

func TestNew(t *testing.T) {
	s, err := publish.New("parallel", 3)
	require.NoError(t, err)
	assert.Equal(t, publish.Parallel{MaxConcurrency: 3}, s)

	s, err = publish.New("", 0)
	require.NoError(t, err)
	assert.Equal(t, publish.Sequential{}, s)

	_, err = publish.New("broadcast", 0)
	assert.Error(t, err)
}
