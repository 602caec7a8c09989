// Package dlq is the dead-letter handler: the durable sink for jobs that
// failed permanently or exhausted their attempt budget.
//
// [Service.Handle] is called by the executor on terminal failure. It is
// idempotent per job id, so a job reaches the DLQ at most once even when a
// retried or reaped execution path hands it over a second time. Handle
// never returns an error and recovers from panics in the store: there is
// no escalation path after the dead-letter queue, so secondary failures
// are logged and dropped.
//
// # Entry
//
// An [Entry] keeps the original job identity (JobID, Type, Lane, Key), the
// raw payload, the final error and its classification, and the attempt
// counters. ReplayedAt is set once the entry is replayed.
//
// # Replay
//
// [Service.Replay] re-enqueues the payload as a fresh job with a new id and
// a full attempt budget. Operators reach it through the admin API:
//
//	GET  /v1/dlq                 list entries
//	GET  /v1/dlq/{entryId}       get one entry
//	POST /v1/dlq/{entryId}/replay
//	POST /v1/dlq/purge
package dlq
