package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
)

const jobColumns = `
	id, type, lane, key, payload, result, state, priority, attempt, max_attempts,
	last_error, worker_id, run_at, processed_at, finished_at, heartbeat_at,
	timeout, created_at, updated_at`

// EnqueueJob persists a new job in waiting or delayed state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO visapi_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17, $18, $19
		)`,
		j.ID.String(), string(j.Type), string(j.Lane), j.Key, j.Payload, j.Result,
		string(j.State), j.Priority, j.Attempt, j.MaxAttempts,
		j.LastError, j.WorkerID.String(), j.RunAt, j.ProcessedAt, j.FinishedAt, j.HeartbeatAt,
		j.Timeout.Nanoseconds(), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return visapi.ErrJobAlreadyExists
		}
		return fmt.Errorf("visapi/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit due jobs from the given lanes.
// FOR UPDATE SKIP LOCKED lets concurrent workers claim disjoint rows.
func (s *Store) DequeueJobs(ctx context.Context, lanes []job.Lane, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	names := make([]string, len(lanes))
	for i, l := range lanes {
		names[i] = string(l)
	}

	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE visapi_jobs
			SET state = 'active', attempt = attempt + 1, worker_id = $3,
			    processed_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM visapi_jobs
				WHERE state IN ('waiting', 'delayed')
				  AND (cardinality($1::text[]) = 0 OR lane = ANY($1))
				  AND run_at <= NOW()
				ORDER BY priority DESC, run_at ASC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM claimed ORDER BY priority DESC, run_at ASC`,
		names, limit, workerID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("visapi/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM visapi_jobs WHERE id = $1`, jobID.String())

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, visapi.ErrJobNotFound
		}
		return nil, fmt.Errorf("visapi/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE visapi_jobs SET
			type = $2, lane = $3, key = $4, payload = $5, result = $6,
			state = $7, priority = $8, attempt = $9, max_attempts = $10,
			last_error = $11, worker_id = $12, run_at = $13,
			processed_at = $14, finished_at = $15, heartbeat_at = $16,
			timeout = $17, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), string(j.Type), string(j.Lane), j.Key, j.Payload, j.Result,
		string(j.State), j.Priority, j.Attempt, j.MaxAttempts,
		j.LastError, j.WorkerID.String(), j.RunAt,
		j.ProcessedAt, j.FinishedAt, j.HeartbeatAt,
		j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("visapi/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return visapi.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM visapi_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("visapi/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return visapi.ErrJobNotFound
	}
	return nil
}

// CancelJob removes a waiting or delayed job.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM visapi_jobs WHERE id = $1 AND state IN ('waiting', 'delayed')`,
		jobID.String())
	if err != nil {
		return fmt.Errorf("visapi/postgres: cancel job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s", visapi.ErrInvalidState, jobID, j.State)
}

// ListJobsByState returns jobs matching the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM visapi_jobs WHERE state = $1`
	args := []any{string(state)}
	argIdx := 2

	if opts.Lane != "" {
		query += fmt.Sprintf(" AND lane = $%d", argIdx)
		args = append(args, string(opts.Lane))
		argIdx++
	}

	query += " ORDER BY created_at ASC"

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
		return nil, fmt.Errorf("visapi/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// HeartbeatJob refreshes the heartbeat of an active job owned by workerID.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE visapi_jobs SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state = 'active' AND worker_id = $2`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("visapi/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM visapi_jobs WHERE id = $1)`, jobID.String(),
	).Scan(&exists); err != nil {
		return fmt.Errorf("visapi/postgres: heartbeat check job: %w", err)
	}
	if !exists {
		return visapi.ErrJobNotFound
	}
	return visapi.ErrInvalidState
}

// ReapStaleJobs returns active jobs in lanes whose last heartbeat is older
// than the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, lanes []job.Lane, threshold time.Duration) ([]*job.Job, error) {
	names := make([]string, len(lanes))
	for i, l := range lanes {
		names[i] = string(l)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM visapi_jobs
		WHERE state = 'active'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < $1
		  AND (cardinality($2::text[]) = 0 OR lane = ANY($2))`,
		time.Now().UTC().Add(-threshold), names,
	)
	if err != nil {
		return nil, fmt.Errorf("visapi/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM visapi_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Lane != "" {
		query += fmt.Sprintf(" AND lane = $%d", argIdx)
		args = append(args, string(opts.Lane))
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("visapi/postgres: count jobs: %w", err)
	}
	return count, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		typeStr   string
		laneStr   string
		stateStr  string
		workerStr string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &typeStr, &laneStr, &j.Key, &j.Payload, &j.Result,
		&stateStr, &j.Priority, &j.Attempt, &j.MaxAttempts,
		&j.LastError, &workerStr, &j.RunAt, &j.ProcessedAt, &j.FinishedAt, &j.HeartbeatAt,
		&timeoutNs, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Type = job.Type(typeStr)
	j.Lane = job.Lane(laneStr)
	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("visapi/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		if parsedWorker, workerErr := id.ParseWorkerID(workerStr); workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("visapi/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("visapi/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
