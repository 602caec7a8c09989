package visapi

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("visapi: no store configured")
	ErrStoreClosed     = errors.New("visapi: store closed")
	ErrMigrationFailed = errors.New("visapi: migration failed")

	// Not found errors.
	ErrJobNotFound     = errors.New("visapi: job not found")
	ErrCronNotFound    = errors.New("visapi: cron entry not found")
	ErrDLQNotFound     = errors.New("visapi: dlq entry not found")
	ErrOrderNotFound   = errors.New("visapi: order not found")
	ErrMessageNotFound = errors.New("visapi: message not found")

	// Conflict errors.
	ErrJobAlreadyExists     = errors.New("visapi: job already exists")
	ErrDLQAlreadyExists     = errors.New("visapi: job already dead-lettered")
	ErrOrderAlreadyExists   = errors.New("visapi: order already exists")
	ErrMessageAlreadyExists = errors.New("visapi: message already exists")
	ErrDuplicateCron        = errors.New("visapi: duplicate cron entry")

	// State errors.
	ErrInvalidState       = errors.New("visapi: invalid state transition")
	ErrStageConflict      = errors.New("visapi: order stage changed concurrently")
	ErrSyncInProgress     = errors.New("visapi: contact sync already in progress")
	ErrSyncLockLost       = errors.New("visapi: contact sync lock not held")
	ErrMaxAttemptsReached = errors.New("visapi: max attempts reached")
	ErrJobTimeout         = errors.New("visapi: job execution timed out")
	ErrUnknownLane        = errors.New("visapi: unknown lane")
	ErrUnknownJobType     = errors.New("visapi: no handler registered for job type")
)
