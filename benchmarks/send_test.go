package benchmarks

import (
	"context"
	"testing"

	"github.com/randalmurphal/mediate/pkg/mediate"
	"github.com/randalmurphal/mediate/pkg/mediate/behavior"
)

// Ping is a minimal request.
type Ping struct{ N int }

func pong(_ mediate.Context, p Ping) (int, error) { return p.N + 1, nil }

func passThrough() mediate.Behavior {
	return mediate.BehaviorFunc(func(ctx mediate.Context, _ any, next mediate.Next) (any, error) {
		return next(ctx)
	})
}

func buildDispatcher(behaviors int) *mediate.Dispatcher {
	reg := mediate.NewRegistry()
	bs := make([]mediate.Behavior, behaviors)
	for i := range bs {
		bs[i] = passThrough()
	}
	mediate.RegisterFunc(reg, pong, bs...)
	return reg.Build()
}

func benchmarkSend(b *testing.B, behaviors int) {
	d := buildDispatcher(behaviors)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = mediate.Send[Ping, int](ctx, d, Ping{N: i})
	}
}

// BenchmarkSend_NoBehaviors sends through a bare handler.
func BenchmarkSend_NoBehaviors(b *testing.B) { benchmarkSend(b, 0) }

// BenchmarkSend_5 sends through 5 pass-through behaviors.
func BenchmarkSend_5(b *testing.B) { benchmarkSend(b, 5) }

// BenchmarkSend_50 sends through 50 pass-through behaviors.
func BenchmarkSend_50(b *testing.B) { benchmarkSend(b, 50) }

// BenchmarkSend_Standard sends through the usual registry-wide chain.
func BenchmarkSend_Standard(b *testing.B) {
	reg := mediate.NewRegistry()
	reg.Use(behavior.Exceptions(), behavior.Validation())
	mediate.RegisterFunc(reg, pong)
	d := reg.Build()
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = mediate.Send[Ping, int](ctx, d, Ping{N: i})
	}
}

// BenchmarkSend_Parallel measures the cached pipeline under contention.
func BenchmarkSend_Parallel(b *testing.B) {
	d := buildDispatcher(5)
	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = mediate.Send[Ping, int](ctx, d, Ping{})
		}
	})
}

// BenchmarkCompose measures building a 10-behavior chain.
func BenchmarkCompose(b *testing.B) {
	bs := make([]mediate.Behavior, 10)
	for i := range bs {
		bs[i] = passThrough()
	}
	terminal := func(mediate.Context, any) (any, error) { return nil, nil }
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = mediate.Compose(terminal, bs...)
	}
}
