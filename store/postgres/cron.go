package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/cron"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
)

const cronColumns = `
	id, name, schedule, job_type, lane, payload,
	last_run_at, next_run_at, locked_by, locked_until,
	enabled, created_at, updated_at`

// RegisterCron persists a new cron entry. Returns visapi.ErrDuplicateCron if
// the name already exists.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO visapi_cron_entries (`+cronColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID.String(), entry.Name, entry.Schedule, string(entry.JobType), string(entry.Lane), entry.Payload,
		entry.LastRunAt, entry.NextRunAt, nilIfEmpty(entry.LockedBy), entry.LockedUntil,
		entry.Enabled, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return visapi.ErrDuplicateCron
		}
		return fmt.Errorf("visapi/postgres: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+cronColumns+` FROM visapi_cron_entries WHERE id = $1`, entryID.String())

	e, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, visapi.ErrCronNotFound
		}
		return nil, fmt.Errorf("visapi/postgres: get cron: %w", err)
	}
	return e, nil
}

// ListCrons returns all cron entries, oldest first.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+cronColumns+` FROM visapi_cron_entries ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("visapi/postgres: list crons: %w", err)
	}
	defer rows.Close()

	var entries []*cron.Entry
	for rows.Next() {
		e, scanErr := scanCron(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("visapi/postgres: scan cron row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("visapi/postgres: iterate cron rows: %w", err)
	}
	return entries, nil
}

// AcquireCronLock takes the row lock when it is free, expired, or already
// held by workerID.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE visapi_cron_entries
		SET locked_by = $2, locked_until = $3, updated_at = NOW()
		WHERE id = $1
		  AND (locked_by IS NULL OR locked_until < $4 OR locked_by = $2)`,
		entryID.String(), workerID.String(), now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("visapi/postgres: acquire cron lock: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM visapi_cron_entries WHERE id = $1)`, entryID.String(),
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("visapi/postgres: check cron exists: %w", err)
	}
	if !exists {
		return false, visapi.ErrCronNotFound
	}
	return false, nil
}

// ReleaseCronLock releases the lock if workerID holds it.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE visapi_cron_entries
		SET locked_by = NULL, locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND locked_by = $2`,
		entryID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("visapi/postgres: release cron lock: %w", err)
	}
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE visapi_cron_entries
		SET last_run_at = $2, updated_at = NOW()
		WHERE id = $1`,
		entryID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("visapi/postgres: update cron last run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return visapi.ErrCronNotFound
	}
	return nil
}

// UpdateCronEntry updates a cron entry's schedule fields. The lock columns
// are left to AcquireCronLock and ReleaseCronLock.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE visapi_cron_entries SET
			name = $2, schedule = $3, job_type = $4, lane = $5, payload = $6,
			last_run_at = $7, next_run_at = $8,
			enabled = $9, updated_at = NOW()
		WHERE id = $1`,
		entry.ID.String(), entry.Name, entry.Schedule, string(entry.JobType), string(entry.Lane), entry.Payload,
		entry.LastRunAt, entry.NextRunAt,
		entry.Enabled,
	)
	if err != nil {
		return fmt.Errorf("visapi/postgres: update cron entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return visapi.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM visapi_cron_entries WHERE id = $1`, entryID.String())
	if err != nil {
		return fmt.Errorf("visapi/postgres: delete cron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return visapi.ErrCronNotFound
	}
	return nil
}

// scanCron scans a single cron entry row.
func scanCron(row pgx.Row) (*cron.Entry, error) {
	var (
		e       cron.Entry
		idStr   string
		typeStr string
		laneStr string
		lockBy  *string
	)
	err := row.Scan(
		&idStr, &e.Name, &e.Schedule, &typeStr, &laneStr, &e.Payload,
		&e.LastRunAt, &e.NextRunAt, &lockBy, &e.LockedUntil,
		&e.Enabled, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseCronID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("visapi/postgres: parse cron id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID
	e.JobType = job.Type(typeStr)
	e.Lane = job.Lane(laneStr)
	if lockBy != nil {
		e.LockedBy = *lockBy
	}

	return &e, nil
}
