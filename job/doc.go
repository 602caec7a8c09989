// Package job defines the job entity, lanes, state machine, typed
// definitions, and store interface.
//
// # Job Entity
//
// A [Job] is one unit of asynchronous work. It embeds [visapi.Entity] for
// timestamps, carries a JSON payload whose shape is fixed by its [Type],
// and moves through:
//
//	waiting → active → completed
//	delayed → active → delayed → active → ...   (retry with backoff)
//	waiting → active → failed                   (dead-lettered)
//
// Attempt is incremented by the store when a worker claims the job, so a
// job never runs more than MaxAttempts times.
//
// # Lanes
//
// Every job belongs to one of three lanes. Lanes are scheduled
// independently, each with its own worker pool; a pool that serves several
// lanes prefers the higher [Lane.Priority].
//
//	critical  new orders, first contact-sync
//	default   notifications, document scrapes
//	bulk      re-drives, log pruning
//
// # Defining a Job
//
// Payload types implement [Payload], which ties each struct to exactly one
// job type. [Definition] pairs that payload with a typed handler returning
// a result:
//
//	var Sync = job.NewDefinition(func(ctx context.Context, p ContactSync) (ContactSyncResult, error) {
//	    ...
//	}, job.WithLane(job.LaneCritical))
//
// [Registry] stores the type-erased handler; decoding happens at the
// dispatcher boundary and a payload that fails to decode is a permanent
// failure.
package job
