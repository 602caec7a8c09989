// Package audit is an extension that turns job lifecycle hooks into
// structured audit events.
//
// Each hook emits one [Event] through a [Recorder]. Severity is info for
// normal progress, warning for retries, and critical for terminal failures.
// Events carry the job type, lane, key, attempt counters, and the failure
// class of any error. [LogRecorder] writes events to a slog.Logger.
//
//	eng, err := engine.Build(d, engine.WithExtension(
//	    audit.New(audit.LogRecorder(logger),
//	        audit.WithActions(audit.ActionJobRetrying, audit.ActionJobDLQ),
//	    ),
//	))
package audit
