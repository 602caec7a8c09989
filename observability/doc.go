// Package observability provides an OpenTelemetry metrics extension. The
// MetricsExtension implements lifecycle hooks to record system-wide
// counters for job enqueue, completion, failure, retry, dead-letter, and
// cron events, plus how long jobs wait in their lane before a worker
// picks them up.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
