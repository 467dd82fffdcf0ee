package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/jamesprial/effectql/internal/eventbus"
	"github.com/jamesprial/effectql/internal/events"
)

func newRecorder(t *testing.T) (*eventbus.Bus, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	bus := eventbus.New()
	detach := Attach(bus, tp.Tracer(TracerName))
	t.Cleanup(detach)
	return bus, sr
}

func attr(kvs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range kvs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestOperationSpan(t *testing.T) {
	bus, sr := newRecorder(t)
	ctx := context.Background()

	ctx = eventbus.Enrich(ctx, bus, events.OperationStart{ID: "op-1", OperationName: "GetPokemon", OperationType: "query"})
	eventbus.Emit(ctx, bus, events.OperationFinish{ID: "op-1", OperationName: "GetPokemon", OperationType: "query", Outcome: "ok", Duration: time.Millisecond})

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "graphql.query", spans[0].Name())
	v, ok := attr(spans[0].Attributes(), "graphql.operation.name")
	require.True(t, ok)
	assert.Equal(t, "GetPokemon", v.AsString())
	v, ok = attr(spans[0].Attributes(), "graphql.outcome")
	require.True(t, ok)
	assert.Equal(t, "ok", v.AsString())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestOperationSpanRecordsFailure(t *testing.T) {
	bus, sr := newRecorder(t)
	ctx := context.Background()

	ctx = eventbus.Enrich(ctx, bus, events.OperationStart{ID: "op-2", OperationName: "AddPet", OperationType: "mutation"})
	eventbus.Emit(ctx, bus, events.OperationFinish{ID: "op-2", OperationType: "mutation", Outcome: "NetworkFailure", Err: errors.New("connection refused")})

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "graphql.mutation", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func TestOperationContextCarriesSpan(t *testing.T) {
	bus, sr := newRecorder(t)
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)).Tracer("transport")

	ctx := eventbus.Enrich(context.Background(), bus, events.OperationStart{ID: "op-4", OperationName: "GetPokemon", OperationType: "query"})
	opCtx := trace.SpanContextFromContext(ctx)
	require.True(t, opCtx.IsValid())

	_, child := tracer.Start(ctx, "POST /graphql")
	child.End()
	eventbus.Emit(ctx, bus, events.OperationFinish{ID: "op-4", OperationType: "query", Outcome: "ok"})

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "POST /graphql", spans[0].Name())
	assert.Equal(t, opCtx.SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, opCtx.TraceID(), spans[0].SpanContext().TraceID())
	assert.Equal(t, opCtx.SpanID(), spans[1].SpanContext().SpanID())
}

func TestFinishWithoutStartIsIgnored(t *testing.T) {
	bus, sr := newRecorder(t)
	eventbus.Emit(context.Background(), bus, events.OperationFinish{ID: "unknown", Outcome: "ok"})
	assert.Empty(t, sr.Ended())
}

func TestStreamSpan(t *testing.T) {
	bus, sr := newRecorder(t)
	ctx := context.Background()

	eventbus.Emit(ctx, bus, events.StreamEmission{ID: "s-1", OperationName: "Feed", OperationType: "query", Seq: 1, Outcome: "ok", Stale: true})
	eventbus.Emit(ctx, bus, events.StreamEmission{ID: "s-1", OperationName: "Feed", OperationType: "query", Seq: 2, Outcome: "ProtocolFailure"})
	assert.Empty(t, sr.Ended())

	eventbus.Emit(ctx, bus, events.StreamClosed{ID: "s-1", OperationName: "Feed", OperationType: "query", Emissions: 2})

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "graphql.stream", spans[0].Name())
	require.Len(t, spans[0].Events(), 2)
	v, ok := attr(spans[0].Events()[1].Attributes, "outcome")
	require.True(t, ok)
	assert.Equal(t, "ProtocolFailure", v.AsString())
	v, ok = attr(spans[0].Attributes(), "graphql.stream.emissions")
	require.True(t, ok)
	assert.Equal(t, int64(2), v.AsInt64())
}

func TestEmptyStreamStillProducesSpan(t *testing.T) {
	bus, sr := newRecorder(t)
	eventbus.Emit(context.Background(), bus, events.StreamClosed{ID: "s-2", OperationName: "Feed", OperationType: "query"})

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Empty(t, spans[0].Events())
}

func TestDetachStopsRecording(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	bus := eventbus.New()

	detach := Attach(bus, tp.Tracer(TracerName))
	detach()

	ctx := context.Background()
	ctx = eventbus.Enrich(ctx, bus, events.OperationStart{ID: "op-3", OperationType: "query"})
	eventbus.Emit(ctx, bus, events.OperationFinish{ID: "op-3", OperationType: "query", Outcome: "ok"})
	assert.Empty(t, sr.Ended())
}

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), "", "effectql", eventbus.New())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
