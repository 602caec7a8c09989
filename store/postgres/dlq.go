package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/dlq"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
)

const dlqColumns = `
	id, job_id, job_type, lane, key, payload, error, error_class,
	attempt, max_attempts, failed_at, replayed_at, created_at`

// PushDLQ adds a failed job entry. The unique job_id column makes a second
// push for the same job fail with visapi.ErrDLQAlreadyExists.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO visapi_dlq (`+dlqColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID.String(), entry.JobID.String(), string(entry.JobType), string(entry.Lane),
		entry.Key, entry.Payload, entry.Error, entry.ErrorClass,
		entry.Attempt, entry.MaxAttempts, entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return visapi.ErrDLQAlreadyExists
		}
		return fmt.Errorf("visapi/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries matching the given options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM visapi_dlq WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Lane != "" {
		query += fmt.Sprintf(" AND lane = $%d", argIdx)
		args = append(args, string(opts.Lane))
		argIdx++
	}

	query += " ORDER BY failed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("visapi/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("visapi/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("visapi/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+dlqColumns+` FROM visapi_dlq WHERE id = $1`, entryID.String())

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, visapi.ErrDLQNotFound
		}
		return nil, fmt.Errorf("visapi/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE visapi_dlq SET replayed_at = NOW() WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("visapi/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return visapi.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM visapi_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("visapi/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM visapi_dlq`).Scan(&count); err != nil {
		return 0, fmt.Errorf("visapi/postgres: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e        dlq.Entry
		idStr    string
		jobIDStr string
		typeStr  string
		laneStr  string
	)
	err := row.Scan(
		&idStr, &jobIDStr, &typeStr, &laneStr, &e.Key, &e.Payload, &e.Error, &e.ErrorClass,
		&e.Attempt, &e.MaxAttempts, &e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("visapi/postgres: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	parsedJobID, jobParseErr := id.ParseJobID(jobIDStr)
	if jobParseErr != nil {
		return nil, fmt.Errorf("visapi/postgres: parse job id %q: %w", jobIDStr, jobParseErr)
	}
	e.JobID = parsedJobID
	e.JobType = job.Type(typeStr)
	e.Lane = job.Lane(laneStr)

	return &e, nil
}
