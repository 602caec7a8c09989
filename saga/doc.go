// Package saga drives an order through contact sync and notification.
//
// The state machine is the pure function [Transition]: given the order as
// stored and one step outcome it returns the next stage and the jobs to
// enqueue. The [Orchestrator] feeds it from job lifecycle hooks, writes the
// stage with a compare-and-set, and enqueues the resulting jobs. Failed
// steps leave the order in a retryable failure stage; nothing is rolled
// back.
package saga
