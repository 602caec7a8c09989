package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/VadimVDM/VisAPI-sub006/job"
	"github.com/VadimVDM/VisAPI-sub006/retry"
)

const tracerName = "github.com/VadimVDM/VisAPI-sub006"

// Tracing returns middleware that wraps each attempt in a span from the
// global TracerProvider. Without a configured provider it is a noop.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
//
// Span attributes: visapi.job.id, visapi.job.type, visapi.lane,
// visapi.attempt, visapi.key. Failures set codes.Error and record the
// retry class.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "visapi.job.execute",
			trace.WithAttributes(
				attribute.String("visapi.job.id", j.ID.String()),
				attribute.String("visapi.job.type", string(j.Type)),
				attribute.String("visapi.lane", string(j.Lane)),
				attribute.Int("visapi.attempt", j.Attempt),
				attribute.String("visapi.key", j.Key),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("visapi.error.class", retry.ClassOf(err).String()))
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
