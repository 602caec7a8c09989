package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/job"
	"github.com/VadimVDM/VisAPI-sub006/retry"
)

// Timeout returns middleware that bounds an attempt by j.Timeout.
//
// The handler runs in its own goroutine. When the deadline passes first the
// attempt is abandoned: the middleware returns a transient ErrJobTimeout
// right away and the handler's eventual result is discarded. The handler's
// context is cancelled too, but an external call already in flight may
// still complete, so handlers must guard their side effects.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in job %s: %v", j.Type, r)
				}
			}()
			done <- next(ctx)
		}()

		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				// Cancelled by the pool during a forced shutdown.
				return retry.Transient(ctx.Err())
			}
			logger.Warn("job attempt abandoned after timeout",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", string(j.Type)),
				slog.Int("attempt", j.Attempt),
				slog.Duration("timeout", j.Timeout),
			)
			return retry.Transient(fmt.Errorf("%w after %s: %w", visapi.ErrJobTimeout, j.Timeout, context.DeadlineExceeded))
		}
	}
}
