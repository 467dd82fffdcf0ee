// Package effect wraps single request/response GraphQL operations in deferred,
// cancellable computations whose failures are classified.
package effect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jamesprial/effectql/internal/classify"
	"github.com/jamesprial/effectql/internal/eventbus"
	"github.com/jamesprial/effectql/internal/events"
	"github.com/jamesprial/effectql/internal/graphql"
)

type executor func(ctx context.Context, doc *graphql.Document, variables map[string]any) graphql.OperationResult

// Option configures an Effect.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for completion diagnostics. The default
// is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Effect is a deferred GraphQL operation yielding T. Nothing is sent until
// Run is called, and each Run sends exactly one request.
type Effect[T any] struct {
	kind      graphql.OperationKind
	exec      executor
	doc       *graphql.Document
	variables map[string]any
	logger    *slog.Logger
}

// Query builds an Effect that runs doc through client.Query.
func Query[T any](client graphql.Client, doc *graphql.Document, variables map[string]any, opts ...Option) *Effect[T] {
	return newEffect[T](graphql.KindQuery, client.Query, doc, variables, opts)
}

// Mutation builds an Effect that runs doc through client.Mutation.
func Mutation[T any](client graphql.Client, doc *graphql.Document, variables map[string]any, opts ...Option) *Effect[T] {
	return newEffect[T](graphql.KindMutation, client.Mutation, doc, variables, opts)
}

func newEffect[T any](kind graphql.OperationKind, exec executor, doc *graphql.Document, variables map[string]any, opts []Option) *Effect[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Effect[T]{
		kind:      kind,
		exec:      exec,
		doc:       doc,
		variables: variables,
		logger:    o.logger,
	}
}

// Run sends the operation and waits for its result.
//
// On success it returns the decoded data. On failure the error is a
// classify.Error. If ctx ends first, Run returns an error wrapping ctx.Err()
// and the outstanding request is left to finish unobserved.
func (e *Effect[T]) Run(ctx context.Context) (T, error) {
	var zero T
	id := uuid.NewString()
	start := time.Now()
	ctx = eventbus.EnrichContext(ctx, events.OperationStart{
		ID:            id,
		OperationName: e.doc.Name,
		OperationType: string(e.kind),
	})

	done := make(chan graphql.OperationResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- graphql.OperationResult{
					Error: &graphql.CombinedError{NetworkError: fmt.Errorf("effect: transport panic: %v", r)},
				}
			}
		}()
		done <- e.exec(ctx, e.doc, e.variables)
	}()

	select {
	case <-ctx.Done():
		err := fmt.Errorf("effect: %s %q interrupted: %w", e.kind, e.doc.Name, ctx.Err())
		e.finish(ctx, id, start, "interrupted", err)
		return zero, err
	case res := <-done:
		data, cerr := classify.Decode[T](res)
		if cerr != nil {
			e.finish(ctx, id, start, cerr.Kind().String(), cerr)
			return zero, cerr
		}
		e.finish(ctx, id, start, "ok", nil)
		return data, nil
	}
}

func (e *Effect[T]) finish(ctx context.Context, id string, start time.Time, outcome string, err error) {
	d := time.Since(start)
	eventbus.Publish(ctx, events.OperationFinish{
		ID:            id,
		OperationName: e.doc.Name,
		OperationType: string(e.kind),
		Outcome:       outcome,
		Err:           err,
		Duration:      d,
	})

	attrs := []any{"operation", e.doc.Name, "id", id, "duration", d}
	switch {
	case err == nil:
		e.logger.InfoContext(ctx, string(e.kind)+" completed", attrs...)
	case outcome == "interrupted":
		e.logger.DebugContext(ctx, string(e.kind)+" interrupted", attrs...)
	default:
		e.logger.WarnContext(ctx, string(e.kind)+" failed", append(attrs, "kind", outcome, "error", err)...)
	}
}
