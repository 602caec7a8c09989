// Package worker runs jobs. An [Executor] performs one attempt through the
// middleware chain and applies the retry policy to the outcome; a [Pool]
// runs concurrent dequeue loops over one or more lanes.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VadimVDM/VisAPI-sub006/ext"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
	"github.com/VadimVDM/VisAPI-sub006/middleware"
	"github.com/VadimVDM/VisAPI-sub006/retry"
)

// DeadLetterHandler records jobs that will not run again. Handle must be
// idempotent per job id and must not fail loudly; it returns false when
// the job had already been handed over.
type DeadLetterHandler interface {
	Handle(ctx context.Context, j *job.Job, err error) bool
}

// Executor runs a single attempt of a claimed job, then persists the
// outcome: completed, re-scheduled with backoff, or dead-lettered.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	deadLetter DeadLetterHandler
	policy     *retry.Policy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	deadLetter DeadLetterHandler,
	policy *retry.Policy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if policy == nil {
		policy = retry.NewPolicy(nil)
	}
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		deadLetter: deadLetter,
		policy:     policy,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs one attempt of j, which must already be claimed (active,
// Attempt counted). The returned error is the attempt's failure, if any;
// the job's new state has been persisted either way.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Type)
	if !ok {
		err := retry.Permanent(fmt.Errorf("no handler registered for job %q", j.Type))
		return e.HandleFailure(ctx, j, err)
	}

	var result []byte
	terminal := func(ctx context.Context) error {
		out, err := handler(ctx, j.Payload)
		if err == nil {
			result = out
		}
		return err
	}

	start := time.Now()
	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	// Bookkeeping must survive cancellation of the attempt context.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		return e.HandleFailure(ctx, j, err)
	}
	return e.handleSuccess(ctx, j, result, elapsed)
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, result []byte, elapsed time.Duration) error {
	now := time.Now().UTC()
	j.State = job.StateCompleted
	j.Result = result
	j.LastError = ""
	j.FinishedAt = &now
	j.UpdatedAt = now

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// HandleFailure applies the retry policy to a failed attempt of j and
// persists the decision. It is also used by the pool's reaper for jobs
// whose worker disappeared mid-attempt.
func (e *Executor) HandleFailure(ctx context.Context, j *job.Job, attemptErr error) error {
	now := time.Now().UTC()
	j.LastError = attemptErr.Error()
	j.UpdatedAt = now

	d := e.policy.Decide(j.Attempt, j.MaxAttempts, attemptErr, now)
	if d.Action == retry.ActionRetry {
		return e.scheduleRetry(ctx, j, attemptErr, d)
	}
	return e.sendToDeadLetter(ctx, j, attemptErr, d)
}

func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, attemptErr error, d retry.Decision) error {
	j.State = job.StateDelayed
	j.RunAt = d.RunAt
	j.WorkerID = id.Nil
	j.HeartbeatAt = nil

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobRetrying(ctx, j, j.Attempt, d.RunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempt", j.Attempt),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", d.Delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %w", j.Type, j.Attempt, j.MaxAttempts, attemptErr)
}

func (e *Executor) sendToDeadLetter(ctx context.Context, j *job.Job, attemptErr error, d retry.Decision) error {
	now := time.Now().UTC()
	j.State = job.StateFailed
	j.FinishedAt = &now
	j.HeartbeatAt = nil

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	first := true
	if e.deadLetter != nil {
		first = e.deadLetter.Handle(ctx, j, attemptErr)
	}
	if first {
		e.extensions.EmitJobFailed(ctx, j, attemptErr)
		e.extensions.EmitJobDLQ(ctx, j, attemptErr)
	}

	e.logger.Warn("job moved to dead-letter queue",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.String("reason", d.Reason),
		slog.Int("attempt", j.Attempt),
		slog.String("error", attemptErr.Error()),
	)

	return attemptErr
}
