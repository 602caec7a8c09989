// Package middleware provides composable middleware around a single job
// attempt.
//
// A [Middleware] wraps the attempt. [Chain] composes them; the first
// middleware in the slice is the outermost wrapper.
//
//	// logging → recover → timeout → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger), middleware.Timeout(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs job type, lane, attempt, duration, and outcome
//   - [Recover] converts panics into errors
//   - [Timeout] abandons the attempt at the job's deadline and reports a
//     transient failure
//   - [Tracing] wraps the attempt in an OpenTelemetry span
//   - [Metrics] records duration and outcome counters
//   - [Attempt] exposes the job identity to handlers through the context
package middleware
