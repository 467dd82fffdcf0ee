// Package eventbus is a small typed in-process event dispatcher. Publishers
// and subscribers agree only on the event type.
package eventbus

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
)

// Handler processes events of type T.
type Handler[T any] func(context.Context, T)

// Enricher derives the context an operation continues with from the event
// announcing it.
type Enricher[T any] func(context.Context, T) context.Context

type entry struct {
	id uint64
	fn func(context.Context, any) context.Context
}

type registry map[reflect.Type][]entry

// Bus dispatches events to the handlers registered for their dynamic type.
// Handlers and enrichers run synchronously on the publishing goroutine.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	handlers  registry
	enrichers registry
}

// New creates a new Bus.
func New() *Bus { return &Bus{handlers: make(registry), enrichers: make(registry)} }

func (b *Bus) subscribe(reg registry, t reflect.Type, fn func(context.Context, any) context.Context) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	reg[t] = append(reg[t], entry{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			hs := reg[t]
			for i, e := range hs {
				if e.id == id {
					hs = append(hs[:i:i], hs[i+1:]...)
					break
				}
			}
			if len(hs) == 0 {
				delete(reg, t)
			} else {
				reg[t] = hs
			}
		})
	}
}

func (b *Bus) snapshot(reg registry, t reflect.Type) []entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]entry(nil), reg[t]...)
}

func (b *Bus) emit(ctx context.Context, t reflect.Type, e any) {
	for _, h := range b.snapshot(b.handlers, t) {
		h.fn(ctx, e)
	}
}

// enrich threads ctx through every enricher in registration order, then
// emits e to the handlers with the result.
func (b *Bus) enrich(ctx context.Context, t reflect.Type, e any) context.Context {
	for _, en := range b.snapshot(b.enrichers, t) {
		if next := en.fn(ctx, e); next != nil {
			ctx = next
		}
	}
	b.emit(ctx, t, e)
	return ctx
}

func typeOf[T any]() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

// On registers h with b for events of type T.
func On[T any](b *Bus, h Handler[T]) (unsubscribe func()) {
	if b == nil {
		return func() {}
	}
	return b.subscribe(b.handlers, typeOf[T](), func(ctx context.Context, v any) context.Context {
		h(ctx, v.(T))
		return ctx
	})
}

// OnEnrich registers fn with b for events of type T. Enrichers run before
// handlers, each seeing the context returned by the previous one.
func OnEnrich[T any](b *Bus, fn Enricher[T]) (unsubscribe func()) {
	if b == nil {
		return func() {}
	}
	return b.subscribe(b.enrichers, typeOf[T](), func(ctx context.Context, v any) context.Context {
		return fn(ctx, v.(T))
	})
}

// Emit sends e to the handlers registered with b for type T.
func Emit[T any](ctx context.Context, b *Bus, e T) {
	if b == nil {
		return
	}
	b.emit(ctx, typeOf[T](), e)
}

// Enrich sends e through the enrichers and handlers registered with b for
// type T and returns the enriched context. With no enrichers it returns ctx.
func Enrich[T any](ctx context.Context, b *Bus, e T) context.Context {
	if b == nil {
		return ctx
	}
	return b.enrich(ctx, typeOf[T](), e)
}

var global atomic.Pointer[Bus]

// Use sets the global bus. Passing nil disables event publishing.
func Use(b *Bus) { global.Store(b) }

// Subscribe registers h with the global bus. It is a no-op when no global
// bus is set.
func Subscribe[T any](h Handler[T]) (unsubscribe func()) {
	return On(global.Load(), h)
}

// Publish sends e through the global bus.
func Publish[T any](ctx context.Context, e T) {
	Emit(ctx, global.Load(), e)
}

// EnrichContext is Enrich on the global bus.
func EnrichContext[T any](ctx context.Context, e T) context.Context {
	return Enrich(ctx, global.Load(), e)
}
