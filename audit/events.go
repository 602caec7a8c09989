package audit

// Actions. Each corresponds to one ext lifecycle hook.
const (
	ActionJobEnqueued  = "job.enqueued"
	ActionJobStarted   = "job.started"
	ActionJobCompleted = "job.completed"
	ActionJobRetrying  = "job.retrying"
	ActionJobFailed    = "job.failed"
	ActionJobDLQ       = "job.dead_lettered"
	ActionCronFired    = "cron.fired"
)

// Categories group related actions.
const (
	CategoryJob  = "visapi.job"
	CategoryCron = "visapi.cron"
)

// Resource types.
const (
	ResourceJob  = "job"
	ResourceCron = "cron_entry"
)

// Severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AllActions returns every action the extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobRetrying,
		ActionJobFailed,
		ActionJobDLQ,
		ActionCronFired,
	}
}
