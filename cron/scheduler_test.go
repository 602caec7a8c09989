package cron_test

import (
	"context"
	"sync"
	"testing"
	"time"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/cron"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
	"github.com/VadimVDM/VisAPI-sub006/store/memory"
)

type prunePayload struct {
	MaxAgeDays int `json:"max_age_days"`
}

func (prunePayload) JobType() job.Type { return job.TypeLogPrune }

// stubEmitter records EmitCronFired calls.
type stubEmitter struct {
	mu    sync.Mutex
	calls []cronFiredCall
}

type cronFiredCall struct {
	EntryName string
	JobID     id.JobID
}

func (e *stubEmitter) EmitCronFired(_ context.Context, entryName string, jobID id.JobID) {
	e.mu.Lock()
	e.calls = append(e.calls, cronFiredCall{EntryName: entryName, JobID: jobID})
	e.mu.Unlock()
}

func (e *stubEmitter) getCalls() []cronFiredCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]cronFiredCall, len(e.calls))
	copy(out, e.calls)
	return out
}

// enqueueSpy tracks enqueue calls with thread safety.
type enqueueSpy struct {
	mu    sync.Mutex
	calls []enqueueCall
}

type enqueueCall struct {
	Type    job.Type
	Lane    job.Lane
	Payload []byte
}

func (e *enqueueSpy) Fn() cron.EnqueueFunc {
	return func(_ context.Context, t job.Type, payload []byte, opts ...job.Option) (id.JobID, error) {
		o := job.DefaultOptions()
		for _, opt := range opts {
			opt(&o)
		}
		e.mu.Lock()
		e.calls = append(e.calls, enqueueCall{Type: t, Lane: o.Lane, Payload: payload})
		e.mu.Unlock()
		return id.NewJobID(), nil
	}
}

func (e *enqueueSpy) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *enqueueSpy) Calls() []enqueueCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]enqueueCall, len(e.calls))
	copy(out, e.calls)
	return out
}

func registerDueEntry(t *testing.T, s *memory.Store, name string) *cron.Entry {
	t.Helper()

	past := time.Now().UTC().Add(-1 * time.Second)
	entry := &cron.Entry{
		Entity:    visapi.NewEntity(),
		ID:        id.NewCronID(),
		Name:      name,
		Schedule:  "@every 1s",
		JobType:   job.TypeLogPrune,
		Lane:      job.LaneBulk,
		Payload:   []byte(`{"max_age_days":30}`),
		NextRunAt: &past,
		Enabled:   true,
	}

	if err := s.RegisterCron(context.Background(), entry); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	return entry
}

func newTestScheduler(t *testing.T) (*cron.Scheduler, *memory.Store, *stubEmitter, *enqueueSpy) {
	t.Helper()

	s := memory.New()
	emitter := &stubEmitter{}
	spy := &enqueueSpy{}

	sched := cron.NewScheduler(
		s, spy.Fn(), emitter, id.NewWorkerID(), nil,
		cron.WithTickInterval(50*time.Millisecond),
	)
	return sched, s, emitter, spy
}

func waitForFires(t *testing.T, spy *enqueueSpy, n int) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for spy.Count() < n {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d cron fires, got %d", n, spy.Count())
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	sched, s, emitter, spy := newTestScheduler(t)

	registerDueEntry(t, s, "log-prune")

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForFires(t, spy, 1)
	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	calls := spy.Calls()
	if calls[0].Type != job.TypeLogPrune {
		t.Errorf("enqueued job type = %q, want %q", calls[0].Type, job.TypeLogPrune)
	}
	if calls[0].Lane != job.LaneBulk {
		t.Errorf("enqueued lane = %q, want %q", calls[0].Lane, job.LaneBulk)
	}
	if string(calls[0].Payload) != `{"max_age_days":30}` {
		t.Errorf("payload = %s", calls[0].Payload)
	}

	fired := emitter.getCalls()
	if len(fired) == 0 {
		t.Fatal("expected at least one EmitCronFired call")
	}
	if fired[0].EntryName != "log-prune" {
		t.Errorf("emitter entry name = %q, want %q", fired[0].EntryName, "log-prune")
	}
}

func TestScheduler_SkipsDisabled(t *testing.T) {
	sched, s, _, spy := newTestScheduler(t)

	entry := registerDueEntry(t, s, "disabled-cron")
	entry.Enabled = false
	if err := s.UpdateCronEntry(context.Background(), entry); err != nil {
		t.Fatalf("UpdateCronEntry: %v", err)
	}

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if spy.Count() != 0 {
		t.Errorf("expected 0 enqueue calls for disabled entry, got %d", spy.Count())
	}
}

func TestScheduler_ComputesNextRunAt(t *testing.T) {
	sched, s, _, spy := newTestScheduler(t)

	entry := registerDueEntry(t, s, "update-next")

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForFires(t, spy, 1)
	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	updated, err := s.GetCron(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if updated.NextRunAt == nil {
		t.Fatal("expected NextRunAt to be set")
	}
	if updated.NextRunAt.Before(time.Now().UTC().Add(-2 * time.Second)) {
		t.Errorf("NextRunAt = %v, expected recent/future time", updated.NextRunAt)
	}
	if updated.LastRunAt == nil {
		t.Error("expected LastRunAt to be set after firing")
	}
	if updated.LockedBy != "" {
		t.Errorf("expected lock released, held by %q", updated.LockedBy)
	}
}

func TestScheduler_LockPreventsDoubleFire(t *testing.T) {
	sched, s, _, spy := newTestScheduler(t)
	ctx := context.Background()

	entry := registerDueEntry(t, s, "locked-entry")

	locked, err := s.AcquireCronLock(ctx, entry.ID, id.NewWorkerID(), 30*time.Second)
	if err != nil {
		t.Fatalf("AcquireCronLock: %v", err)
	}
	if !locked {
		t.Fatal("expected to acquire cron lock")
	}

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if err := sched.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if spy.Count() != 0 {
		t.Errorf("expected 0 fires with pre-locked entry, got %d", spy.Count())
	}
}

func TestScheduler_TwoSchedulersFireOncePerSlot(t *testing.T) {
	s := memory.New()
	spy := &enqueueSpy{}
	ctx := context.Background()

	due := time.Now().UTC().Add(-10 * time.Millisecond)
	entry, err := cron.NewEntry(cron.Definition[prunePayload]{
		Name:     "daily-prune",
		Schedule: "@daily",
		Payload:  prunePayload{MaxAgeDays: 30},
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	entry.NextRunAt = &due
	if err := s.RegisterCron(ctx, entry); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	a := cron.NewScheduler(s, spy.Fn(), nil, id.NewWorkerID(), nil, cron.WithTickInterval(20*time.Millisecond))
	b := cron.NewScheduler(s, spy.Fn(), nil, id.NewWorkerID(), nil, cron.WithTickInterval(20*time.Millisecond))
	_ = a.Start(ctx)
	_ = b.Start(ctx)
	time.Sleep(300 * time.Millisecond)
	_ = a.Stop(ctx)
	_ = b.Stop(ctx)

	if got := spy.Count(); got != 1 {
		t.Errorf("expected exactly one fire for the slot, got %d", got)
	}
}

func TestNewEntry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	entry, err := cron.NewEntry(cron.Definition[prunePayload]{
		Name:     "log-prune",
		Schedule: "@daily",
		Payload:  prunePayload{MaxAgeDays: 30},
	}, now)
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	if entry.JobType != job.TypeLogPrune {
		t.Errorf("job type = %q", entry.JobType)
	}
	if entry.Lane != job.LaneBulk {
		t.Errorf("lane = %q, want bulk", entry.Lane)
	}
	want := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	if entry.NextRunAt == nil || !entry.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", entry.NextRunAt, want)
	}

	if _, err := cron.NewEntry(cron.Definition[prunePayload]{Name: "bad", Schedule: "nope"}, now); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestParseSchedule(t *testing.T) {
	sched, err := cron.ParseSchedule("@every 30s")
	if err != nil {
		t.Fatalf("ParseSchedule(@every 30s): %v", err)
	}
	now := time.Now().UTC()
	if next := sched.Next(now); !next.After(now) {
		t.Errorf("Next(%v) = %v, expected future time", now, next)
	}

	sched2, err := cron.ParseSchedule("*/5 * * * *")
	if err != nil {
		t.Fatalf("ParseSchedule(*/5 * * * *): %v", err)
	}
	if next2 := sched2.Next(now); !next2.After(now) {
		t.Errorf("Next(%v) = %v, expected future time", now, next2)
	}

	if _, err := cron.ParseSchedule("not-a-cron"); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}
