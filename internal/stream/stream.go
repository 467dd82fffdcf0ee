// Package stream exposes live GraphQL subscriptions as lazy sequences of
// classified results. A failed element does not end the sequence.
package stream

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jamesprial/effectql/internal/classify"
	"github.com/jamesprial/effectql/internal/eventbus"
	"github.com/jamesprial/effectql/internal/events"
	"github.com/jamesprial/effectql/internal/graphql"
)

// Result is one classified emission. Exactly one of Data and Err is
// meaningful: Err is nil on success.
type Result[T any] struct {
	Data T
	Err  classify.Error
	// Stale is true when a fresher result is expected to follow.
	Stale bool
	// HasNext is true when more incremental payloads will arrive.
	HasNext bool
	// Operation is the raw transport result this element was built from.
	Operation graphql.OperationResult
}

// OK reports whether the element is a success.
func (r Result[T]) OK() bool { return r.Err == nil }

// Option configures a Stream.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for stream diagnostics. The default is
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Stream is a lazy, restartable source of classified results. Each call to
// Run or All opens a fresh subscription; a subscription cannot be resumed
// once its channel is closed. A Stream is immutable and may be shared.
type Stream[T any] struct {
	client    graphql.Client
	doc       *graphql.Document
	variables map[string]any
	logger    *slog.Logger
}

// New returns a Stream over client.Subscribe for doc and variables.
func New[T any](client graphql.Client, doc *graphql.Document, variables map[string]any, opts ...Option) *Stream[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Stream[T]{
		client:    client,
		doc:       doc,
		variables: variables,
		logger:    o.logger,
	}
}

// Run opens a subscription and returns its classified elements. The channel
// is closed when the subscription completes or ctx is done.
//
// A panic while classifying an element is reported as a final
// DataAbsentFailure element, after which the channel is closed.
func (s *Stream[T]) Run(ctx context.Context) <-chan Result[T] {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Result[T])
	src := s.client.Subscribe(ctx, s.doc, s.variables)
	go func() {
		defer cancel()
		s.forward(ctx, src, out)
	}()
	return out
}

// All is the range-over-func form of Run. Breaking out of the loop ends
// the subscription.
func (s *Stream[T]) All(ctx context.Context) iter.Seq[Result[T]] {
	return func(yield func(Result[T]) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		for r := range s.Run(ctx) {
			if !yield(r) {
				return
			}
		}
	}
}

func (s *Stream[T]) forward(ctx context.Context, src <-chan graphql.OperationResult, out chan<- Result[T]) {
	id := uuid.NewString()
	start := time.Now()
	seq := 0
	defer func() {
		eventbus.Publish(ctx, events.StreamClosed{
			ID:            id,
			OperationName: s.doc.Name,
			OperationType: string(s.doc.Kind),
			Emissions:     seq,
			Duration:      time.Since(start),
		})
		close(out)
	}()

	for res := range src {
		r, panicked := s.classify(res)
		seq++
		outcome := "ok"
		if r.Err != nil {
			outcome = r.Err.Kind().String()
			s.logger.DebugContext(ctx, "stream element failed",
				"operation", s.doc.Name, "id", id, "seq", seq, "kind", outcome, "error", r.Err)
		}
		eventbus.Publish(ctx, events.StreamEmission{
			ID:            id,
			OperationName: s.doc.Name,
			OperationType: string(s.doc.Kind),
			Seq:           seq,
			Outcome:       outcome,
			Stale:         r.Stale,
			HasNext:       r.HasNext,
		})

		select {
		case out <- r:
		case <-ctx.Done():
			return
		}
		if panicked {
			return
		}
	}
}

func (s *Stream[T]) classify(res graphql.OperationResult) (r Result[T], panicked bool) {
	r = Result[T]{Stale: res.Stale, HasNext: res.HasNext, Operation: res}
	defer func() {
		if p := recover(); p != nil {
			panicked = true
			r.Err = &classify.DataAbsentFailure{
				Message:  "stream failed",
				Combined: res.Error,
				Cause:    fmt.Errorf("stream: panic while classifying: %v", p),
			}
		}
	}()
	r.Data, r.Err = classify.Decode[T](res)
	return r, false
}
