package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/VadimVDM/VisAPI-sub006/job"
	"github.com/VadimVDM/VisAPI-sub006/retry"
)

const meterName = "github.com/VadimVDM/VisAPI-sub006"

// Metrics returns middleware that records attempt metrics on the global
// MeterProvider.
//
// Instruments:
//   - visapi.job.duration (Float64Histogram, seconds)
//   - visapi.job.executions (Int64Counter)
//
// Both carry job_type, lane, and status ("ok", "transient", "permanent").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The OTel API returns noop instruments on error.
	duration, _ := meter.Float64Histogram(
		"visapi.job.duration",
		metric.WithDescription("Duration of job attempts in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"visapi.job.executions",
		metric.WithDescription("Total number of job attempts"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = retry.ClassOf(err).String()
		}
		attrs := metric.WithAttributes(
			attribute.String("job_type", string(j.Type)),
			attribute.String("lane", string(j.Lane)),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
