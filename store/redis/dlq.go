package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/dlq"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
)

// PushDLQ adds a failed job entry. The job-to-entry index is claimed with
// HSETNX so a job is dead-lettered at most once.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	ok, err := s.client.HSetNX(ctx, dlqByJobKey, entry.JobID.String(), eID).Result()
	if err != nil {
		return fmt.Errorf("visapi/redis: push dlq index: %w", err)
	}
	if !ok {
		return visapi.ErrDLQAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, dlqKey(eID), dlqToMap(entry))
	pipe.ZAdd(ctx, dlqIDsKey, goredis.Z{Score: float64(entry.FailedAt.UnixMilli()), Member: eID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("visapi/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries matching the given options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.ZRevRange(ctx, dlqIDsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("visapi/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		e, getErr := s.getDLQ(ctx, eID)
		if getErr != nil {
			continue
		}
		if opts.Lane != "" && e.Lane != opts.Lane {
			continue
		}
		entries = append(entries, e)
	}
	return paginate(entries, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.getDLQ(ctx, entryID.String())
}

// ReplayDLQ stamps ReplayedAt on an entry.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := dlqKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("visapi/redis: replay dlq exists: %w", err)
	}
	if exists == 0 {
		return visapi.ErrDLQNotFound
	}
	if err := s.client.HSet(ctx, key, "replayed_at", formatTime(time.Now())).Err(); err != nil {
		return fmt.Errorf("visapi/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, dlqIDsKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("visapi/redis: purge dlq range: %w", err)
	}

	var count int64
	for _, eID := range ids {
		jobID, getErr := s.client.HGet(ctx, dlqKey(eID), "job_id").Result()
		if getErr != nil && !errors.Is(getErr, goredis.Nil) {
			return count, fmt.Errorf("visapi/redis: purge dlq read: %w", getErr)
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, dlqKey(eID))
		pipe.ZRem(ctx, dlqIDsKey, eID)
		if jobID != "" {
			pipe.HDel(ctx, dlqByJobKey, jobID)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return count, fmt.Errorf("visapi/redis: purge dlq: %w", err)
		}
		count++
	}
	return count, nil
}

// CountDLQ returns the total number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("visapi/redis: count dlq: %w", err)
	}
	return n, nil
}

// ── helpers ──

func (s *Store) getDLQ(ctx context.Context, eID string) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, dlqKey(eID)).Result()
	if err != nil {
		return nil, fmt.Errorf("visapi/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, visapi.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

func dlqToMap(e *dlq.Entry) map[string]any {
	return map[string]any{
		"id":           e.ID.String(),
		"job_id":       e.JobID.String(),
		"job_type":     string(e.JobType),
		"lane":         string(e.Lane),
		"key":          e.Key,
		"payload":      string(e.Payload),
		"error":        e.Error,
		"error_class":  e.ErrorClass,
		"attempt":      strconv.Itoa(e.Attempt),
		"max_attempts": strconv.Itoa(e.MaxAttempts),
		"failed_at":    formatTime(e.FailedAt),
		"replayed_at":  formatTimePtr(e.ReplayedAt),
		"created_at":   formatTime(e.CreatedAt),
	}
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("visapi/redis: parse dlq id: %w", err)
	}
	jID, err := id.ParseJobID(m["job_id"])
	if err != nil {
		return nil, fmt.Errorf("visapi/redis: parse dlq job id: %w", err)
	}

	attempt, _ := strconv.Atoi(m["attempt"])          //nolint:errcheck // trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"]) //nolint:errcheck // trusted Redis data

	return &dlq.Entry{
		ID:          eID,
		JobID:       jID,
		JobType:     job.Type(m["job_type"]),
		Lane:        job.Lane(m["lane"]),
		Key:         m["key"],
		Payload:     []byte(m["payload"]),
		Error:       m["error"],
		ErrorClass:  m["error_class"],
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		FailedAt:    parseTime(m["failed_at"]),
		ReplayedAt:  parseTimePtr(m["replayed_at"]),
		CreatedAt:   parseTime(m["created_at"]),
	}, nil
}
