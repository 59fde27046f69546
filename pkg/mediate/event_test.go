package mediate_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/randalmurphal/mediate/pkg/mediate"
	"github.com/randalmurphal/mediate/pkg/mediate/publish"
	"github.com/randalmurphal/mediate/pkg/mediate/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type OrderPlaced struct {
	mediate.BaseEvent
	OrderID string `json:"order_id"`
}

// seenIDs records the event ids a handler observed.
type seenIDs struct {
	mu  sync.Mutex
	ids []string
}

func (s *seenIDs) handler() mediate.EventHandlerFunc[OrderPlaced] {
	return func(_ mediate.Context, evt OrderPlaced) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.ids = append(s.ids, evt.EventID())
		return nil
	}
}

func (s *seenIDs) get() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func TestPublishFansOut(t *testing.T) {
	for name, strategy := range map[string]publish.Strategy{
		"sequential": publish.Sequential{},
		"parallel":   publish.Parallel{},
	} {
		t.Run(name, func(t *testing.T) {
			h1, h2 := &seenIDs{}, &seenIDs{}
			reg := mediate.NewRegistry()
			mediate.RegisterEvent(reg, h1.handler())
			mediate.RegisterEvent(reg, h2.handler())
			d := reg.Build(mediate.WithPublishStrategy(strategy))

			evt := OrderPlaced{BaseEvent: mediate.BaseEvent{ID: "E1"}, OrderID: "o-1"}
			require.NoError(t, d.Publish(context.Background(), evt))

			assert.Equal(t, []string{"E1"}, h1.get())
			assert.Equal(t, []string{"E1"}, h2.get())
			assert.Equal(t, 2, d.HandlerCount(evt))
		})
	}
}

func TestPublishWithoutHandlers(t *testing.T) {
	d := mediate.NewRegistry().Build()
	evt := OrderPlaced{BaseEvent: mediate.NewBaseEvent()}
	assert.NoError(t, d.Publish(context.Background(), evt))
	assert.Equal(t, 0, d.HandlerCount(evt))
}

func TestPublishAggregatesFailures(t *testing.T) {
	boom := errors.New("boom")
	var secondRan atomic.Bool
	reg := mediate.NewRegistry()
	mediate.RegisterEventFunc(reg, func(mediate.Context, OrderPlaced) error { return boom })
	mediate.RegisterEventFunc(reg, func(mediate.Context, OrderPlaced) error {
		secondRan.Store(true)
		return nil
	})
	d := reg.Build()

	err := d.Publish(context.Background(), OrderPlaced{BaseEvent: mediate.NewBaseEvent()})

	var agg *publish.AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Errors, 1)
	assert.ErrorIs(t, err, boom)
	assert.True(t, secondRan.Load())
}

func TestPublishRecoversHandlerPanic(t *testing.T) {
	reg := mediate.NewRegistry()
	mediate.RegisterEventFunc(reg, func(mediate.Context, OrderPlaced) error { panic("bad handler") })
	d := reg.Build(mediate.WithPublishStrategy(publish.Parallel{}))

	err := d.Publish(context.Background(), OrderPlaced{BaseEvent: mediate.NewBaseEvent()})

	var pe *mediate.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "bad handler", pe.Value)
}

func TestEventBehaviorsWrapEachHandler(t *testing.T) {
	tr := &trace{}
	reg := mediate.NewRegistry()
	reg.Use(tr.behavior("G"))
	mediate.RegisterEventFunc(reg, func(mediate.Context, OrderPlaced) error {
		tr.add("H1")
		return nil
	}, tr.behavior("A"))
	mediate.RegisterEventFunc(reg, func(mediate.Context, OrderPlaced) error {
		tr.add("H2")
		return nil
	})
	d := reg.Build()

	require.NoError(t, d.Publish(context.Background(), OrderPlaced{BaseEvent: mediate.NewBaseEvent()}))
	assert.Equal(t, []string{"G>", "A>", "H1", "<A", "<G", "G>", "H2", "<G"}, tr.get())
}

func TestPublishNilEvent(t *testing.T) {
	err := mediate.NewRegistry().Build().Publish(context.Background(), nil)
	assert.ErrorIs(t, err, mediate.ErrNilFeature)
}

func TestEventQueue(t *testing.T) {
	q, err := mediate.NewEventQueue(queue.Config{Capacity: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, q.Cap())
	ctx := context.Background()

	evt := OrderPlaced{BaseEvent: mediate.NewBaseEvent()}
	require.NoError(t, q.Enqueue(ctx, evt))
	assert.Equal(t, 1, q.Len())

	assert.False(t, q.Requeue(mediate.Envelope{Event: evt, Attempts: 1}), "full queue rejects requeue")

	env, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, evt, env.Event)
	assert.Equal(t, 0, env.Attempts)
	assert.False(t, env.EnqueuedAt.IsZero())

	assert.True(t, q.Requeue(mediate.Envelope{Event: evt, Attempts: 2}))
	env, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, env.Attempts)

	assert.ErrorIs(t, q.Enqueue(ctx, nil), mediate.ErrNilFeature)
}

func TestEventQueueFailMode(t *testing.T) {
	q, err := mediate.NewEventQueue(queue.Config{Capacity: 1, FullMode: queue.FullModeFail})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, OrderPlaced{BaseEvent: mediate.NewBaseEvent()}))
	assert.ErrorIs(t, q.Enqueue(ctx, OrderPlaced{BaseEvent: mediate.NewBaseEvent()}), queue.ErrFull)
}

func TestEventType(t *testing.T) {
	assert.Equal(t, "mediate_test.OrderPlaced", mediate.EventType(OrderPlaced{}))
	assert.Equal(t, "<nil>", mediate.EventType(nil))
}
