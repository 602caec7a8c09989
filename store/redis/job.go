package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
)

// claimScript pops due members from each lane in KEYS order and marks them
// active. ZREM decides the winner when two workers race for one member.
//
// ARGV: now_ms, limit, worker_id, now_rfc3339, key_prefix
var claimScript = goredis.NewScript(`
local claimed = {}
local limit = tonumber(ARGV[2])
for _, lane in ipairs(KEYS) do
  if #claimed >= limit then break end
  local ids = redis.call('ZRANGEBYSCORE', lane, '-inf', ARGV[1], 'LIMIT', 0, limit - #claimed)
  for _, jid in ipairs(ids) do
    if redis.call('ZREM', lane, jid) == 1 then
      local key = ARGV[5] .. 'job:' .. jid
      redis.call('HINCRBY', key, 'attempt', 1)
      redis.call('HSET', key, 'state', 'active', 'worker_id', ARGV[3],
        'processed_at', ARGV[4], 'heartbeat_at', ARGV[4], 'updated_at', ARGV[4])
      redis.call('ZADD', ARGV[5] .. 'active', ARGV[1], jid)
      table.insert(claimed, jid)
    end
  end
end
return claimed
`)

// heartbeatScript refreshes an active job only when workerID still owns it.
// Returns -1 when missing, 0 when not owned, 1 on success.
//
// KEYS: job key, active set. ARGV: worker_id, now_rfc3339, now_ms, job_id
var heartbeatScript = goredis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'state', 'worker_id')
if not cur[1] then return -1 end
if cur[1] ~= 'active' or cur[2] ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'heartbeat_at', ARGV[2], 'updated_at', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
return 1
`)

// cancelScript removes a job only while it still sits in its lane, so a
// claim racing the cancel has exactly one winner.
// Returns -1 when missing, 0 when already claimed or finished, 1 on success.
//
// KEYS: job key, lane key, job id set. ARGV: job_id
var cancelScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('ZREM', KEYS[2], ARGV[1]) == 0 then return 0 end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[3], ARGV[1])
return 1
`)

// EnqueueJob stores the job as a Hash and adds it to its lane.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("visapi/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return visapi.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	pipe.ZAdd(ctx, laneKey(string(j.Lane)), goredis.Z{Score: runScore(j.RunAt), Member: jID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("visapi/redis: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs claims up to limit due jobs, draining higher-priority lanes
// first and earliest run-at first within a lane.
func (s *Store) DequeueJobs(ctx context.Context, lanes []job.Lane, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	if len(lanes) == 0 {
		lanes = job.Lanes()
	}
	ordered := slices.Clone(lanes)
	slices.SortStableFunc(ordered, func(a, b job.Lane) int { return b.Priority() - a.Priority() })

	keys := make([]string, len(ordered))
	for i, l := range ordered {
		keys[i] = laneKey(string(l))
	}
	if limit <= 0 {
		limit = 1
	}

	now := time.Now().UTC()
	ids, err := claimScript.Run(ctx, s.client, keys,
		now.UnixMilli(), limit, workerID.String(), now.Format(time.RFC3339Nano), keyPrefix,
	).StringSlice()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("visapi/redis: dequeue claim: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			s.logger.Warn("claimed job vanished", "job_id", jID, "error", getErr)
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing job and keeps the lane and
// active indexes in step with its state.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("visapi/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return visapi.ErrJobNotFound
	}

	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	switch j.State {
	case job.StateWaiting, job.StateDelayed:
		pipe.ZRem(ctx, activeKey, jID)
		pipe.ZAdd(ctx, laneKey(string(j.Lane)), goredis.Z{Score: runScore(j.RunAt), Member: jID})
	case job.StateActive:
		pipe.ZRem(ctx, laneKey(string(j.Lane)), jID)
	default:
		pipe.ZRem(ctx, activeKey, jID)
		pipe.ZRem(ctx, laneKey(string(j.Lane)), jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("visapi/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	lane, err := s.client.HGet(ctx, key, "lane").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return visapi.ErrJobNotFound
		}
		return fmt.Errorf("visapi/redis: delete job get lane: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, laneKey(lane), jID)
	pipe.ZRem(ctx, activeKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("visapi/redis: delete job: %w", err)
	}
	return nil
}

// CancelJob removes a waiting or delayed job.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	lane, err := s.client.HGet(ctx, key, "lane").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return visapi.ErrJobNotFound
		}
		return fmt.Errorf("visapi/redis: cancel job get lane: %w", err)
	}

	res, err := cancelScript.Run(ctx, s.client, []string{key, laneKey(lane), jobIDsKey}, jID).Int()
	if err != nil {
		return fmt.Errorf("visapi/redis: cancel job: %w", err)
	}
	switch res {
	case -1:
		return visapi.ErrJobNotFound
	case 0:
		return fmt.Errorf("%w: job %s was already claimed", visapi.ErrInvalidState, jID)
	}
	return nil
}

// ListJobsByState returns jobs matching the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	all, err := s.scanJobs(ctx)
	if err != nil {
		return nil, err
	}

	jobs := make([]*job.Job, 0, len(all))
	for _, j := range all {
		if j.State != state {
			continue
		}
		if opts.Lane != "" && j.Lane != opts.Lane {
			continue
		}
		jobs = append(jobs, j)
	}
	slices.SortFunc(jobs, func(a, b *job.Job) int { return a.CreatedAt.Compare(b.CreatedAt) })

	return paginate(jobs, opts.Offset, opts.Limit), nil
}

// HeartbeatJob refreshes the heartbeat of an active job owned by workerID.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	jID := jobID.String()
	now := time.Now().UTC()
	res, err := heartbeatScript.Run(ctx, s.client, []string{jobKey(jID), activeKey},
		workerID.String(), now.Format(time.RFC3339Nano), now.UnixMilli(), jID,
	).Int()
	if err != nil {
		return fmt.Errorf("visapi/redis: heartbeat job: %w", err)
	}
	switch res {
	case -1:
		return visapi.ErrJobNotFound
	case 0:
		return visapi.ErrInvalidState
	}
	return nil
}

// ReapStaleJobs returns active jobs in lanes whose last heartbeat is older
// than the threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, lanes []job.Lane, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	ids, err := s.client.ZRangeByScore(ctx, activeKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("visapi/redis: reap active range: %w", err)
	}

	var stale []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.State != job.StateActive {
			continue
		}
		if len(lanes) > 0 && !slices.Contains(lanes, j.Lane) {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	all, err := s.scanJobs(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, j := range all {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Lane != "" && j.Lane != opts.Lane {
			continue
		}
		count++
	}
	return count, nil
}

// ── helpers ──

func (s *Store) scanJobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("visapi/redis: list job ids: %w", err)
	}
	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// runScore is the lane score: run-at in unix milliseconds.
func runScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":           j.ID.String(),
		"type":         string(j.Type),
		"lane":         string(j.Lane),
		"key":          j.Key,
		"payload":      string(j.Payload),
		"result":       string(j.Result),
		"state":        string(j.State),
		"priority":     strconv.Itoa(j.Priority),
		"attempt":      strconv.Itoa(j.Attempt),
		"max_attempts": strconv.Itoa(j.MaxAttempts),
		"last_error":   j.LastError,
		"worker_id":    j.WorkerID.String(),
		"run_at":       formatTime(j.RunAt),
		"timeout":      strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":   formatTime(j.CreatedAt),
		"updated_at":   formatTime(j.UpdatedAt),
		"processed_at": formatTimePtr(j.ProcessedAt),
		"finished_at":  formatTimePtr(j.FinishedAt),
		"heartbeat_at": formatTimePtr(j.HeartbeatAt),
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("visapi/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, visapi.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("visapi/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])           //nolint:errcheck // trusted Redis data
	attempt, _ := strconv.Atoi(m["attempt"])             //nolint:errcheck // trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])    //nolint:errcheck // trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // trusted Redis data

	j := &job.Job{
		Entity: visapi.Entity{
			CreatedAt: parseTime(m["created_at"]),
			UpdatedAt: parseTime(m["updated_at"]),
		},
		ID:          jID,
		Type:        job.Type(m["type"]),
		Lane:        job.Lane(m["lane"]),
		Key:         m["key"],
		Payload:     []byte(m["payload"]),
		State:       job.State(m["state"]),
		Priority:    priority,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		LastError:   m["last_error"],
		RunAt:       parseTime(m["run_at"]),
		ProcessedAt: parseTimePtr(m["processed_at"]),
		FinishedAt:  parseTimePtr(m["finished_at"]),
		HeartbeatAt: parseTimePtr(m["heartbeat_at"]),
		Timeout:     time.Duration(timeout),
	}
	if r := m["result"]; r != "" {
		j.Result = []byte(r)
	}
	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // trusted Redis data
	}
	return j, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s) //nolint:errcheck // trusted Redis data
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	return &t
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
