// Package cron fires periodic jobs, such as the daily log prune.
//
// Entries are stored through [Store] so every process sees the same
// schedule. On each tick the [Scheduler] picks due entries and takes a
// per-entry lock before enqueueing, so an entry fires once per schedule
// slot even when several processes run a scheduler.
//
// # Entry
//
// An [Entry] represents a recurring job schedule:
//   - Schedule: cron expression or descriptor (e.g. "@daily", "0 3 * * *")
//   - JobType: the registered job type to enqueue when fired
//   - Lane: target lane (defaults to bulk)
//   - Payload: static JSON payload passed to every triggered job
//   - Enabled: whether the entry fires
//   - LockedBy / LockedUntil: lock fields managed by the store
//
// The [ext.CronFired] hook fires after each enqueue.
package cron
