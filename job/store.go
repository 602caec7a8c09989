package job

import (
	"context"
	"time"

	"github.com/VadimVDM/VisAPI-sub006/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Lane filters by lane. Empty means all lanes.
	Lane Lane
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Lane filters by lane. Empty means all lanes.
	Lane Lane
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs. It is the queue backing
// store: durable per-lane storage with delayed visibility and at-least-once
// delivery.
type Store interface {
	// EnqueueJob persists a new job in waiting or delayed state.
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs atomically claims up to limit due jobs from the given
	// lanes. Claimed jobs are set active, assigned to workerID, stamped
	// with ProcessedAt, and have Attempt incremented. Jobs are ordered by
	// priority (descending) then RunAt (ascending).
	DequeueJobs(ctx context.Context, lanes []Lane, workerID id.WorkerID, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job. A job written back in
	// waiting or delayed state becomes claimable again at RunAt.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByState returns jobs matching the given state.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// HeartbeatJob refreshes the heartbeat of an active job.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns active jobs in lanes whose last heartbeat is
	// older than threshold, indicating the worker may have crashed. Empty
	// lanes means every lane.
	ReapStaleJobs(ctx context.Context, lanes []Lane, threshold time.Duration) ([]*Job, error)

	// CancelJob removes a job that has not been claimed yet. It returns
	// visapi.ErrInvalidState for a job in any other state.
	CancelJob(ctx context.Context, jobID id.JobID) error

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
