// Package binding drives UI state cells from reactive GraphQL streams.
//
// A binding owns at most one live subscription. Every write to the cells
// happens under the binding's mutex and only when the writing consumer
// belongs to the binding's current generation. Execute and Cleanup advance
// the generation before cancelling, so a superseded subscription can never
// write after either returns. Flusher cells are notified after the mutex is
// released, so observers may call Cleanup or Execute.
package binding

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jamesprial/effectql/internal/classify"
	"github.com/jamesprial/effectql/internal/graphql"
	"github.com/jamesprial/effectql/internal/stream"
)

// ErrClosed is returned by Execute after Cleanup.
var ErrClosed = errors.New("binding: closed")

// EmptyStreamMessage is the failure message written when a stream closes
// before emitting anything.
const EmptyStreamMessage = "stream completed without a result"

// Option configures a binding.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger for the binding and its stream.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

type binder[T any] struct {
	mu     sync.Mutex
	parent context.Context
	cells  Cells[T]
	logger *slog.Logger
	// resetStale makes failures write stale=false.
	resetStale bool

	gen    uint64
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

func (b *binder[T]) init(ctx context.Context, cells Cells[T], opts []Option, resetStale bool) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	b.parent = ctx
	b.cells = cells
	b.logger = o.logger
	b.resetStale = resetStale
}

// set runs fn against the cells. b.mu must be held.
func (b *binder[T]) set(fn func(Cells[T])) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("binding: state update panicked", "panic", p)
		}
	}()
	fn(b.cells)
}

// flush tells the cells a transition is complete. b.mu must not be held:
// observers may call back into the binding.
func (b *binder[T]) flush() {
	f, ok := b.cells.(Flusher)
	if !ok {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("binding: state observer panicked", "panic", p)
		}
	}()
	f.Flush()
}

// supersedeLocked cancels the running consumer and reserves the generation
// of its successor. b.mu must be held.
func (b *binder[T]) supersedeLocked() uint64 {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.gen++
	return b.gen
}

// launch starts consuming s as generation gen, unless the binding was
// closed or superseded since gen was reserved.
func (b *binder[T]) launch(gen uint64, s *stream.Stream[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || gen != b.gen {
		return
	}
	ctx, cancel := context.WithCancel(b.parent)
	b.cancel = cancel
	done := make(chan struct{})
	b.done = done
	go b.consume(ctx, gen, s.Run(ctx), done)
}

func (b *binder[T]) consume(ctx context.Context, gen uint64, src <-chan stream.Result[T], done chan<- struct{}) {
	defer close(done)
	n := 0
	for r := range src {
		n++
		res := r.Operation
		b.apply(gen, r, &res)
	}
	if n == 0 && ctx.Err() == nil {
		b.apply(gen, stream.Result[T]{Err: &classify.DataAbsentFailure{
			Message:  EmptyStreamMessage,
			Combined: &graphql.CombinedError{},
		}}, nil)
	}
}

func (b *binder[T]) apply(gen uint64, r stream.Result[T], res *graphql.OperationResult) {
	b.mu.Lock()
	if b.closed || gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.set(func(c Cells[T]) {
		c.SetLoading(false)
		if r.Err != nil {
			c.SetError(r.Err)
			c.SetData(nil)
			if b.resetStale {
				c.SetStale(false)
			}
		} else {
			data := r.Data
			c.SetError(nil)
			c.SetData(&data)
			c.SetStale(r.Stale)
		}
		if res != nil {
			c.SetResult(res)
		}
	})
	b.mu.Unlock()
	b.flush()
}

func (b *binder[T]) cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.supersedeLocked()
}

func (b *binder[T]) wait() {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Query binds a reactive query to a set of cells.
type Query[T any] struct {
	b binder[T]
}

// BindQuery writes the initial loading state to cells and starts consuming
// the query's stream. The binding lives until Cleanup is called or ctx ends.
func BindQuery[T any](ctx context.Context, client graphql.Client, doc *graphql.Document, variables map[string]any, cells Cells[T], opts ...Option) *Query[T] {
	q := &Query[T]{}
	q.b.init(ctx, cells, opts, true)

	q.b.mu.Lock()
	gen := q.b.supersedeLocked()
	q.b.set(func(c Cells[T]) {
		c.SetLoading(true)
		c.SetError(nil)
		c.SetData(nil)
		c.SetStale(false)
		c.SetResult(nil)
	})
	q.b.mu.Unlock()
	q.b.flush()
	q.b.launch(gen, stream.New[T](client, doc, variables, stream.WithLogger(q.b.logger)))
	return q
}

// Cleanup cancels the subscription. It may be called any number of times,
// including after the stream has completed; no write reaches the cells
// once it returns.
func (q *Query[T]) Cleanup() { q.b.cleanup() }

// Wait blocks until the current stream consumer has exited.
func (q *Query[T]) Wait() { q.b.wait() }

// Mutation binds a mutation to a set of cells. Each Execute runs the
// mutation on a fresh stream.
type Mutation[T any] struct {
	b      binder[T]
	client graphql.Client
	doc    *graphql.Document
}

// BindMutation writes the idle state to cells. Nothing is sent until
// Execute is called.
func BindMutation[T any](ctx context.Context, client graphql.Client, doc *graphql.Document, cells Cells[T], opts ...Option) *Mutation[T] {
	m := &Mutation[T]{client: client, doc: doc}
	m.b.init(ctx, cells, opts, false)

	m.b.mu.Lock()
	m.b.set(func(c Cells[T]) {
		c.SetLoading(false)
		c.SetError(nil)
		c.SetData(nil)
		c.SetStale(false)
		c.SetResult(nil)
	})
	m.b.mu.Unlock()
	m.b.flush()
	return m
}

// Execute cancels any execution still in flight and runs the mutation with
// variables. It returns ErrClosed after Cleanup.
func (m *Mutation[T]) Execute(variables map[string]any) error {
	m.b.mu.Lock()
	if m.b.closed {
		m.b.mu.Unlock()
		return ErrClosed
	}
	gen := m.b.supersedeLocked()
	m.b.set(func(c Cells[T]) {
		c.SetLoading(true)
		c.SetError(nil)
	})
	m.b.mu.Unlock()
	m.b.flush()
	m.b.launch(gen, stream.New[T](m.client, m.doc, variables, stream.WithLogger(m.b.logger)))
	return nil
}

// Cleanup cancels any execution in flight. It may be called any number of
// times.
func (m *Mutation[T]) Cleanup() { m.b.cleanup() }

// Wait blocks until the current execution's consumer has exited.
func (m *Mutation[T]) Wait() { m.b.wait() }
