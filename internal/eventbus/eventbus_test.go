package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type ping struct{ N int }

type pong struct{ N int }

func TestEmitDispatchesByType(t *testing.T) {
	b := New()
	var pings, pongs []int
	On(b, func(_ context.Context, e ping) { pings = append(pings, e.N) })
	On(b, func(_ context.Context, e pong) { pongs = append(pongs, e.N) })

	Emit(context.Background(), b, ping{1})
	Emit(context.Background(), b, pong{2})
	Emit(context.Background(), b, ping{3})

	assert.Equal(t, []int{1, 3}, pings)
	assert.Equal(t, []int{2}, pongs)
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	b := New()
	var order []string
	On(b, func(context.Context, ping) { order = append(order, "first") })
	On(b, func(context.Context, ping) { order = append(order, "second") })

	Emit(context.Background(), b, ping{})
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	calls := 0
	unsubscribe := On(b, func(context.Context, ping) { calls++ })
	other := On(b, func(context.Context, ping) {})

	Emit(context.Background(), b, ping{})
	unsubscribe()
	unsubscribe()
	Emit(context.Background(), b, ping{})
	assert.Equal(t, 1, calls)

	other()
	b.mu.RLock()
	defer b.mu.RUnlock()
	assert.Empty(t, b.handlers)
}

func TestHandlerMayUnsubscribeDuringEmit(t *testing.T) {
	b := New()
	calls := 0
	var unsubscribe func()
	unsubscribe = On(b, func(context.Context, ping) {
		calls++
		unsubscribe()
	})

	Emit(context.Background(), b, ping{})
	Emit(context.Background(), b, ping{})
	assert.Equal(t, 1, calls)
}

type ctxKey string

func TestEnrichThreadsContext(t *testing.T) {
	b := New()
	OnEnrich(b, func(ctx context.Context, e ping) context.Context {
		return context.WithValue(ctx, ctxKey("first"), e.N)
	})
	OnEnrich(b, func(ctx context.Context, _ ping) context.Context {
		return context.WithValue(ctx, ctxKey("second"), ctx.Value(ctxKey("first")))
	})
	var seen any
	On(b, func(ctx context.Context, _ ping) { seen = ctx.Value(ctxKey("second")) })

	ctx := Enrich(context.Background(), b, ping{7})
	assert.Equal(t, 7, ctx.Value(ctxKey("first")))
	assert.Equal(t, 7, ctx.Value(ctxKey("second")))
	assert.Equal(t, 7, seen, "handlers see the enriched context")
}

func TestEnrichWithoutEnrichers(t *testing.T) {
	b := New()
	calls := 0
	On(b, func(context.Context, ping) { calls++ })
	OnEnrich(b, func(context.Context, pong) context.Context { return nil })

	ctx := context.WithValue(context.Background(), ctxKey("k"), "v")
	assert.Equal(t, ctx, Enrich(ctx, b, ping{}))
	assert.Equal(t, ctx, Enrich(ctx, b, pong{}), "a nil context from an enricher is ignored")
	assert.Equal(t, 1, calls)
}

func TestUnsubscribeEnricher(t *testing.T) {
	b := New()
	unsubscribe := OnEnrich(b, func(ctx context.Context, _ ping) context.Context {
		return context.WithValue(ctx, ctxKey("k"), "v")
	})
	unsubscribe()

	assert.Nil(t, Enrich(context.Background(), b, ping{}).Value(ctxKey("k")))
	b.mu.RLock()
	defer b.mu.RUnlock()
	assert.Empty(t, b.enrichers)
}

func TestNilBus(t *testing.T) {
	assert.NotPanics(t, func() {
		On(nil, func(context.Context, ping) {})()
		OnEnrich(nil, func(ctx context.Context, _ ping) context.Context { return ctx })()
		Emit(context.Background(), nil, ping{})
	})
	ctx := context.Background()
	assert.Equal(t, ctx, Enrich(ctx, nil, ping{}))
}

func TestGlobalBus(t *testing.T) {
	t.Cleanup(func() { Use(nil) })

	calls := 0
	Publish(context.Background(), ping{})
	Subscribe(func(context.Context, ping) { calls++ })()

	b := New()
	Use(b)
	unsubscribe := Subscribe(func(context.Context, ping) { calls++ })
	Publish(context.Background(), ping{})
	assert.Equal(t, 1, calls)

	unsubscribe()
	Use(nil)
	Publish(context.Background(), ping{})
	assert.Equal(t, 1, calls)
}

func TestEnrichContextUsesGlobalBus(t *testing.T) {
	t.Cleanup(func() { Use(nil) })

	ctx := context.Background()
	assert.Equal(t, ctx, EnrichContext(ctx, ping{}))

	b := New()
	OnEnrich(b, func(ctx context.Context, e ping) context.Context {
		return context.WithValue(ctx, ctxKey("n"), e.N)
	})
	Use(b)
	assert.Equal(t, 3, EnrichContext(ctx, ping{3}).Value(ctxKey("n")))
}
