// Package order holds the slice of the order aggregate the orchestration
// core reads and writes: external sync status, the external contact id,
// the saga stage and per-notification delivery flags.
//
// Every mutation in [Store] is a conditional write keyed by order id.
// Contact sync is guarded by a lease ([Store.AcquireSyncLock]) so that two
// attempts for the same order never run the check-then-set concurrently,
// and stage changes use compare-and-set ([Store.TransitionStage]).
package order
