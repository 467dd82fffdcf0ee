// Package telemetry turns operation lifecycle events into OpenTelemetry
// spans.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jamesprial/effectql/internal/eventbus"
	"github.com/jamesprial/effectql/internal/events"
)

// TracerName is the instrumentation scope of every span.
const TracerName = "github.com/jamesprial/effectql"

// Setup installs an OTLP gRPC tracer provider and attaches span
// subscribers to bus. If endpoint is empty, no telemetry is configured and
// the returned shutdown is a no-op.
func Setup(ctx context.Context, endpoint, service string, bus *eventbus.Bus) (shutdown func(context.Context) error, err error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	detach := Attach(bus, tp.Tracer(TracerName))
	return func(ctx context.Context) error {
		detach()
		return tp.Shutdown(ctx)
	}, nil
}

// Attach subscribes span handlers to bus. Single-shot operations become
// one span each, and the operation continues under that span's context so
// transport spans and outgoing trace headers nest beneath it. A stream
// becomes one span with an event per emission.
func Attach(bus *eventbus.Bus, tracer trace.Tracer) (detach func()) {
	s := &subscriber{tracer: tracer}
	unsubs := []func(){
		eventbus.OnEnrich(bus, s.operationStart),
		eventbus.On(bus, s.operationFinish),
		eventbus.On(bus, s.streamEmission),
		eventbus.On(bus, s.streamClosed),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

type subscriber struct {
	tracer      trace.Tracer
	opSpans     sync.Map // id -> trace.Span
	streamSpans sync.Map // id -> trace.Span
}

func (s *subscriber) operationStart(ctx context.Context, e events.OperationStart) context.Context {
	ctx, span := s.tracer.Start(ctx, "graphql."+e.OperationType)
	span.SetAttributes(
		attribute.String("graphql.operation.id", e.ID),
		attribute.String("graphql.operation.name", e.OperationName),
		attribute.String("graphql.operation.type", e.OperationType),
	)
	s.opSpans.Store(e.ID, span)
	return ctx
}

func (s *subscriber) operationFinish(_ context.Context, e events.OperationFinish) {
	v, ok := s.opSpans.LoadAndDelete(e.ID)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(attribute.String("graphql.outcome", e.Outcome))
	if e.Err != nil {
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, e.Outcome)
	}
	span.End()
}

// streamEmission starts the stream span lazily on the first element.
func (s *subscriber) streamEmission(ctx context.Context, e events.StreamEmission) {
	v, ok := s.streamSpans.Load(e.ID)
	if !ok {
		_, span := s.tracer.Start(ctx, "graphql.stream")
		span.SetAttributes(
			attribute.String("graphql.operation.id", e.ID),
			attribute.String("graphql.operation.name", e.OperationName),
			attribute.String("graphql.operation.type", e.OperationType),
		)
		v, _ = s.streamSpans.LoadOrStore(e.ID, span)
	}
	v.(trace.Span).AddEvent("emission", trace.WithAttributes(
		attribute.Int("seq", e.Seq),
		attribute.String("outcome", e.Outcome),
		attribute.Bool("stale", e.Stale),
		attribute.Bool("has_next", e.HasNext),
	))
}

func (s *subscriber) streamClosed(ctx context.Context, e events.StreamClosed) {
	v, ok := s.streamSpans.LoadAndDelete(e.ID)
	if !ok {
		// Closed without emitting.
		_, span := s.tracer.Start(ctx, "graphql.stream")
		span.SetAttributes(
			attribute.String("graphql.operation.id", e.ID),
			attribute.String("graphql.operation.name", e.OperationName),
			attribute.String("graphql.operation.type", e.OperationType),
		)
		v = span
	}
	span := v.(trace.Span)
	span.SetAttributes(attribute.Int("graphql.stream.emissions", e.Emissions))
	span.End()
}
