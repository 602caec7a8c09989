package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
	"github.com/VadimVDM/VisAPI-sub006/retry"
)

// Service provides dead-letter operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
	logger   *slog.Logger
}

// NewService creates a DLQ service. A nil logger uses slog.Default.
func NewService(store Store, jobStore job.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, jobStore: jobStore, logger: logger}
}

// Handle records j as dead-lettered. It reports false only when the job
// was already recorded, so callers announce each terminal failure once.
// Storage failures are logged and still count as a first hand-over.
// Handle never returns an error and never panics.
func (s *Service) Handle(ctx context.Context, j *job.Job, jobErr error) (first bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dlq: panic while recording job",
				slog.String("job_id", j.ID.String()),
				slog.String("panic", fmt.Sprint(r)),
			)
			first = true
		}
	}()

	msg := j.LastError
	if jobErr != nil {
		msg = jobErr.Error()
	}
	now := time.Now().UTC()
	entry := &Entry{
		ID:          id.NewDLQID(),
		JobID:       j.ID,
		JobType:     j.Type,
		Lane:        j.Lane,
		Key:         j.Key,
		Payload:     j.Payload,
		Error:       msg,
		ErrorClass:  retry.ClassOf(jobErr).String(),
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		FailedAt:    now,
		CreatedAt:   now,
	}

	err := s.store.PushDLQ(ctx, entry)
	switch {
	case err == nil:
		s.logger.Warn("job dead-lettered",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("lane", string(j.Lane)),
			slog.Int("attempt", j.Attempt),
			slog.String("error", msg),
		)
		return true
	case errors.Is(err, visapi.ErrDLQAlreadyExists):
		s.logger.Debug("dlq: job already recorded", slog.String("job_id", j.ID.String()))
		return false
	default:
		s.logger.Error("dlq: failed to record job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("error", err.Error()),
		)
		return true
	}
}

// Replay re-enqueues an entry as a new waiting job with a fresh ID and a
// full attempt budget, then marks the entry replayed.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      visapi.NewEntity(),
		ID:          id.NewJobID(),
		Type:        entry.JobType,
		Lane:        entry.Lane,
		Key:         entry.Key,
		Payload:     entry.Payload,
		State:       job.StateWaiting,
		Priority:    entry.Lane.Priority(),
		MaxAttempts: max(entry.MaxAttempts, 1),
		RunAt:       now,
	}
	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already enqueued.
		return j, err
	}
	return j, nil
}

// Purge removes entries that failed before the given time.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PurgeDLQ(ctx, before)
}

// DLQStore returns the underlying store for list, get, and count.
func (s *Service) DLQStore() Store {
	return s.store
}
