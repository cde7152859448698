// Package adapter connects ipcdemo components to external observability systems.
package adapter

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/srediag/ipcdemo"

// OTelAdapter records handoff operations as spans and counters.
type OTelAdapter struct {
	tracer trace.Tracer
	ops    metric.Int64Counter
	errs   metric.Int64Counter
	bytes  metric.Int64Counter
}

// NewOTelAdapter builds the instruments on meter. Nil meter or tracer fall back to no-op providers.
func NewOTelAdapter(meter metric.Meter, tracer trace.Tracer) (*OTelAdapter, error) {
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	ops, err := meter.Int64Counter("ipcdemo.handoff.operations",
		metric.WithDescription("Handoff channel operations"))
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64Counter("ipcdemo.handoff.errors",
		metric.WithDescription("Failed handoff channel operations"))
	if err != nil {
		return nil, err
	}
	bytes, err := meter.Int64Counter("ipcdemo.handoff.bytes",
		metric.WithDescription("Payload bytes moved through the handoff channel"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	return &OTelAdapter{tracer: tracer, ops: ops, errs: errs, bytes: bytes}, nil
}

// GlobalOTelAdapter builds the instruments on the globally registered providers, which
// record nothing until an SDK is installed.
func GlobalOTelAdapter() (*OTelAdapter, error) {
	return NewOTelAdapter(
		otel.GetMeterProvider().Meter(instrumentationName),
		otel.GetTracerProvider().Tracer(instrumentationName),
	)
}

// NoopOTelAdapter returns an adapter that records nothing.
func NoopOTelAdapter() *OTelAdapter {
	a, _ := NewOTelAdapter(nil, nil)
	return a
}

// StartSpan starts a span named "handoff.<op>".
func (a *OTelAdapter) StartSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return a.tracer.Start(ctx, "handoff."+op, trace.WithAttributes(attrs...))
}

// RecordOp counts one operation and, on failure, marks span as errored.
func (a *OTelAdapter) RecordOp(ctx context.Context, span trace.Span, op string, err error) {
	attrs := metric.WithAttributes(attribute.String("op", op))
	a.ops.Add(ctx, 1, attrs)
	if err != nil {
		a.errs.Add(ctx, 1, attrs)
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
}

// RecordBytes counts n payload bytes for op.
func (a *OTelAdapter) RecordBytes(ctx context.Context, op string, n int) {
	if n <= 0 {
		return
	}
	a.bytes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("op", op)))
}
