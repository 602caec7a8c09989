// Package ext is the lifecycle hook system. Components that react to job
// outcomes (the order-sync saga, metrics, audit logging) register as
// extensions instead of being called directly by workers, so a failure in
// one step is observed as an event and never crosses a step boundary as a
// returned error.
//
// Each hook is its own interface; an extension implements only the ones it
// cares about:
//
//	type Auditor struct{}
//
//	func (Auditor) Name() string { return "auditor" }
//
//	func (Auditor) OnJobDLQ(ctx context.Context, j *job.Job, err error) error {
//	    ...
//	}
//
// # Job Hooks
//
//   - [JobEnqueued] job accepted into a lane
//   - [JobStarted] worker claimed the job
//   - [JobCompleted] attempt succeeded; j.Result holds the handler result
//   - [JobRetrying] attempt failed and the job was re-scheduled
//   - [JobFailed] job will not run again
//   - [JobDLQ] job was handed to the dead-letter handler
//
// # Other Hooks
//
//   - [CronFired] a cron entry enqueued a job
//   - [Shutdown] the dispatcher is stopping
//
// Hook errors are logged by the [Registry] and never propagated.
package ext
