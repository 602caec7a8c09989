package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/VadimVDM/VisAPI-sub006/ext"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
	"github.com/VadimVDM/VisAPI-sub006/retry"
)

var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobEnqueued  = (*Extension)(nil)
	_ ext.JobStarted   = (*Extension)(nil)
	_ ext.JobCompleted = (*Extension)(nil)
	_ ext.JobRetrying  = (*Extension)(nil)
	_ ext.JobFailed    = (*Extension)(nil)
	_ ext.JobDLQ       = (*Extension)(nil)
	_ ext.CronFired    = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
}

// RecorderFunc adapts a function to a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Event is one audit record.
type Event struct {
	At         time.Time      `json:"at"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// LogRecorder writes events to l. Critical events log at error level,
// warnings at warn, everything else at info.
func LogRecorder(l *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *Event) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := make([]any, 0, len(evt.Metadata))
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		l.LogAttrs(ctx, level, "audit",
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
			slog.Group("meta", attrs...),
		)
		return nil
	})
}

// Extension records lifecycle hooks as audit events.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Extension recording through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit" }

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return e.recordJob(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess, j, nil,
		"run_at", j.RunAt.Format(time.RFC3339),
	)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.recordJob(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess, j, nil,
		"worker_id", j.WorkerID.String(),
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.recordJob(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess, j, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return e.recordJob(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure, j, nil,
		"next_attempt", attempt,
		"next_run_at", nextRunAt.Format(time.RFC3339),
		"last_error", j.LastError,
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.recordJob(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure, j, jobErr)
}

// OnJobDLQ implements ext.JobDLQ.
func (e *Extension) OnJobDLQ(ctx context.Context, j *job.Job, jobErr error) error {
	return e.recordJob(ctx, ActionJobDLQ, SeverityCritical, OutcomeFailure, j, jobErr)
}

// OnCronFired implements ext.CronFired.
func (e *Extension) OnCronFired(ctx context.Context, entryName string, jobID id.JobID) error {
	return e.record(ctx, &Event{
		Action:     ActionCronFired,
		Resource:   ResourceCron,
		Category:   CategoryCron,
		ResourceID: entryName,
		Metadata:   map[string]any{"job_id": jobID.String()},
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
	})
}

func (e *Extension) recordJob(
	ctx context.Context,
	action, severity, outcome string,
	j *job.Job,
	err error,
	kv ...any,
) error {
	meta := map[string]any{
		"job_type":     string(j.Type),
		"lane":         string(j.Lane),
		"attempt":      j.Attempt,
		"max_attempts": j.MaxAttempts,
	}
	if j.Key != "" {
		meta["key"] = j.Key
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			meta[k] = kv[i+1]
		}
	}

	evt := &Event{
		Action:     action,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: j.ID.String(),
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
	}
	if err != nil {
		evt.Reason = err.Error()
		meta["error_class"] = retry.ClassOf(err).String()
	}
	return e.record(ctx, evt)
}

// record sends evt if its action is enabled. Recorder failures are logged,
// never returned.
func (e *Extension) record(ctx context.Context, evt *Event) error {
	if e.enabled != nil && !e.enabled[evt.Action] {
		return nil
	}
	evt.At = e.now()
	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit event not recorded",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
