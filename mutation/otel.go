package mutation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// instrumented wraps a Dispatcher with OpenTelemetry tracing and metrics.
type instrumented struct {
	next     Dispatcher
	tracer   trace.Tracer
	count    metric.Int64Counter
	duration metric.Float64Histogram
}

// Instrument returns a Dispatcher that records one span per commit plus the
// graphsync.commit.count counter and graphsync.commit.duration histogram.
// A nil tracer or meter disables that half of the instrumentation.
func Instrument(next Dispatcher, tracer trace.Tracer, meter metric.Meter) (Dispatcher, error) {
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("graphsync")
	}
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("graphsync")
	}

	count, err := meter.Int64Counter(
		"graphsync.commit.count",
		metric.WithDescription("Number of relationship mutations committed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create commit counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"graphsync.commit.duration",
		metric.WithDescription("Relationship mutation round-trip time in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create commit duration histogram: %w", err)
	}

	return &instrumented{next: next, tracer: tracer, count: count, duration: duration}, nil
}

// Commit implements Dispatcher.
func (i *instrumented) Commit(ctx context.Context, op Operation, vars Variables) (*Payload, error) {
	containerID := ""
	if vars != nil {
		containerID = vars.Container()
	}

	ctx, span := i.tracer.Start(ctx, "graphsync.commit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("graphsync.operation", string(op)),
			attribute.String("graphsync.container_id", containerID),
		),
	)
	defer span.End()

	start := time.Now()
	payload, err := i.next.Commit(ctx, op, vars)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	outcome := "ok"
	if err != nil {
		outcome = string(ReasonOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetStatus(codes.Ok, "")
		if payload != nil && payload.RequestID != "" {
			span.SetAttributes(attribute.String("graphsync.request_id", payload.RequestID))
		}
	}
	span.SetAttributes(attribute.String("graphsync.outcome", outcome))

	attrs := metric.WithAttributes(
		attribute.String("operation", string(op)),
		attribute.String("outcome", outcome),
	)
	i.count.Add(ctx, 1, attrs)
	i.duration.Record(ctx, elapsed, attrs)

	return payload, err
}
