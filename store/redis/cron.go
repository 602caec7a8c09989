package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	goredis "github.com/redis/go-redis/v9"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/cron"
	"github.com/VadimVDM/VisAPI-sub006/id"
)

// releaseScript deletes a lock key only if it still holds the caller's value.
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RegisterCron persists a new cron entry. Names are unique.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	eID := entry.ID.String()

	ok, err := s.client.HSetNX(ctx, cronNamesKey, entry.Name, eID).Result()
	if err != nil {
		return fmt.Errorf("visapi/redis: register cron name: %w", err)
	}
	if !ok {
		return visapi.ErrDuplicateCron
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("visapi/redis: marshal cron: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, cronKey(eID), raw, 0)
	pipe.SAdd(ctx, cronIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("visapi/redis: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID. Lock fields reflect the current
// lock key.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	e, err := s.getCron(ctx, entryID.String())
	if err != nil {
		return nil, err
	}
	s.fillLock(ctx, e)
	return e, nil
}

// ListCrons returns all cron entries, oldest first.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	ids, err := s.client.SMembers(ctx, cronIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("visapi/redis: list crons: %w", err)
	}

	entries := make([]*cron.Entry, 0, len(ids))
	for _, eID := range ids {
		e, getErr := s.getCron(ctx, eID)
		if getErr != nil {
			continue
		}
		s.fillLock(ctx, e)
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *cron.Entry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return entries, nil
}

// AcquireCronLock takes the lock key with SET NX PX. A worker that already
// holds the lock extends it.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	eID := entryID.String()
	if _, err := s.getCron(ctx, eID); err != nil {
		return false, err
	}

	key := cronLockKey(eID)
	owner := workerID.String()

	ok, err := s.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("visapi/redis: acquire cron lock: %w", err)
	}
	if ok {
		return true, nil
	}

	cur, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			// Expired between the two calls; try once more.
			return s.client.SetNX(ctx, key, owner, ttl).Result()
		}
		return false, fmt.Errorf("visapi/redis: read cron lock: %w", err)
	}
	if cur != owner {
		return false, nil
	}
	if err := s.client.PExpire(ctx, key, ttl).Err(); err != nil {
		return false, fmt.Errorf("visapi/redis: extend cron lock: %w", err)
	}
	return true, nil
}

// ReleaseCronLock drops the lock if workerID holds it.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	eID := entryID.String()
	if _, err := s.getCron(ctx, eID); err != nil {
		return err
	}
	if err := releaseScript.Run(ctx, s.client, []string{cronLockKey(eID)}, workerID.String()).Err(); err != nil {
		return fmt.Errorf("visapi/redis: release cron lock: %w", err)
	}
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	e, err := s.getCron(ctx, entryID.String())
	if err != nil {
		return err
	}
	e.LastRunAt = &at
	return s.putCron(ctx, e)
}

// UpdateCronEntry updates a cron entry. Lock state lives in its own key and
// is not touched.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	if _, err := s.getCron(ctx, entry.ID.String()); err != nil {
		return err
	}
	cp := *entry
	return s.putCron(ctx, &cp)
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	eID := entryID.String()
	e, err := s.getCron(ctx, eID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, cronKey(eID), cronLockKey(eID))
	pipe.SRem(ctx, cronIDsKey, eID)
	pipe.HDel(ctx, cronNamesKey, e.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("visapi/redis: delete cron: %w", err)
	}
	return nil
}

// ── helpers ──

func (s *Store) getCron(ctx context.Context, eID string) (*cron.Entry, error) {
	raw, err := s.client.Get(ctx, cronKey(eID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, visapi.ErrCronNotFound
		}
		return nil, fmt.Errorf("visapi/redis: get cron: %w", err)
	}
	var e cron.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("visapi/redis: unmarshal cron: %w", err)
	}
	return &e, nil
}

func (s *Store) putCron(ctx context.Context, e *cron.Entry) error {
	e.LockedBy = ""
	e.LockedUntil = nil
	e.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("visapi/redis: marshal cron: %w", err)
	}
	if err := s.client.Set(ctx, cronKey(e.ID.String()), raw, goredis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("visapi/redis: update cron: %w", err)
	}
	return nil
}

// fillLock copies the live lock holder and expiry onto e. Lookup errors
// leave the entry unlocked.
func (s *Store) fillLock(ctx context.Context, e *cron.Entry) {
	key := cronLockKey(e.ID.String())
	owner, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return
	}
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return
	}
	until := time.Now().UTC().Add(ttl)
	e.LockedBy = owner
	e.LockedUntil = &until
}
