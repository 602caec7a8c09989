package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/backoff"
	"github.com/VadimVDM/VisAPI-sub006/callback"
	"github.com/VadimVDM/VisAPI-sub006/correlation"
	"github.com/VadimVDM/VisAPI-sub006/cron"
	"github.com/VadimVDM/VisAPI-sub006/dlq"
	"github.com/VadimVDM/VisAPI-sub006/engine"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
	"github.com/VadimVDM/VisAPI-sub006/order"
	"github.com/VadimVDM/VisAPI-sub006/processor"
	"github.com/VadimVDM/VisAPI-sub006/provider"
	"github.com/VadimVDM/VisAPI-sub006/provider/crm"
	"github.com/VadimVDM/VisAPI-sub006/retry"
	"github.com/VadimVDM/VisAPI-sub006/store/memory"
)

// ──────────────────────────────────────────────────
// Test payloads
// ──────────────────────────────────────────────────

type pingPayload struct {
	N int `json:"n"`
}

func (pingPayload) JobType() job.Type { return "ping" }

type keyedPayload struct {
	OrderID string `json:"order_id"`
}

func (keyedPayload) JobType() job.Type { return "keyed" }
func (p keyedPayload) JobKey() string { return "order:" + p.OrderID }

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func newEngine(t *testing.T, s *memory.Store, opts ...engine.Option) *engine.Engine {
	t.Helper()
	d, err := visapi.New(
		visapi.WithStore(s),
		visapi.WithConfig(visapi.Config{
			Lanes:        map[string]int{"critical": 2, "default": 2, "bulk": 1},
			PollInterval: 10 * time.Millisecond,
			JobTimeout:   time.Second,
			MaxAttempts:  3,
		}),
	)
	if err != nil {
		t.Fatalf("visapi.New: %v", err)
	}
	base := []engine.Option{engine.WithBackoff(backoff.NewConstant(10 * time.Millisecond))}
	eng, err := engine.Build(d, append(base, opts...)...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return eng
}

func start(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func jobState(s *memory.Store, jobID id.JobID) job.State {
	j, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		return ""
	}
	return j.State
}

// ──────────────────────────────────────────────────
// Register → Enqueue → Process
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd_RegisterEnqueueProcess(t *testing.T) {
	s := memory.New()
	eng := newEngine(t, s)

	var got atomic.Int64
	engine.Register(eng, job.NewDefinition(func(_ context.Context, p pingPayload) (int, error) {
		got.Store(int64(p.N))
		return p.N * 2, nil
	}))
	start(t, eng)

	j, err := engine.Enqueue(context.Background(), eng, pingPayload{N: 21})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, "completion", func() bool { return jobState(s, j.ID) == job.StateCompleted })

	stored, _ := s.GetJob(context.Background(), j.ID)
	if string(stored.Result) != "42" || got.Load() != 21 {
		t.Errorf("result = %s, payload seen = %d", stored.Result, got.Load())
	}
}

func TestEngine_BuildCreatesPoolPerLane(t *testing.T) {
	eng := newEngine(t, memory.New())
	pools := eng.Pools()
	if len(pools) != 3 {
		t.Fatalf("pools = %d, want 3", len(pools))
	}
	want := []job.Lane{job.LaneCritical, job.LaneDefault, job.LaneBulk}
	for i, p := range pools {
		if lanes := p.Lanes(); len(lanes) != 1 || lanes[0] != want[i] {
			t.Errorf("pool %d lanes = %v, want [%s]", i, lanes, want[i])
		}
	}
	if eng.Saga() == nil {
		t.Error("memory store holds orders; saga must be wired")
	}
}

func TestEngine_BuildNoStore(t *testing.T) {
	d, _ := visapi.New()
	if _, err := engine.Build(d); !errors.Is(err, visapi.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

type lifecycleOnly struct{}

func (lifecycleOnly) Migrate(context.Context) error { return nil }
func (lifecycleOnly) Ping(context.Context) error    { return nil }
func (lifecycleOnly) Close() error                  { return nil }

func TestEngine_BuildBadStore(t *testing.T) {
	d, _ := visapi.New(visapi.WithStore(lifecycleOnly{}))
	if _, err := engine.Build(d); err == nil || !strings.Contains(err.Error(), "job.Store") {
		t.Fatalf("err = %v", err)
	}
}

func TestEngine_BuildUnknownLane(t *testing.T) {
	d, _ := visapi.New(visapi.WithStore(memory.New()), visapi.WithLaneConcurrency("express", 1))
	if _, err := engine.Build(d); !errors.Is(err, visapi.ErrUnknownLane) {
		t.Fatalf("err = %v, want ErrUnknownLane", err)
	}
}

func TestEngine_EnqueueValidation(t *testing.T) {
	eng := newEngine(t, memory.New())
	ctx := context.Background()

	if _, err := engine.Enqueue(ctx, eng, pingPayload{}); !errors.Is(err, visapi.ErrUnknownJobType) {
		t.Errorf("unregistered type: err = %v", err)
	}
	engine.Register(eng, job.NewDefinition(func(context.Context, pingPayload) (struct{}, error) {
		return struct{}{}, nil
	}))
	if _, err := engine.Enqueue(ctx, eng, pingPayload{}, job.WithLane("express")); !errors.Is(err, visapi.ErrUnknownLane) {
		t.Errorf("unknown lane: err = %v", err)
	}
}

func TestEngine_EnqueueWithOptions(t *testing.T) {
	s := memory.New()
	eng := newEngine(t, s)
	engine.Register(eng, job.NewDefinition(
		func(context.Context, keyedPayload) (struct{}, error) { return struct{}{}, nil },
		job.WithLane(job.LaneCritical),
		job.WithMaxAttempts(7),
	))

	j, err := engine.Enqueue(context.Background(), eng, keyedPayload{OrderID: "IL1"},
		job.WithLane(job.LaneBulk),
		job.WithDelay(time.Hour),
	)
	if err != nil {
		t.Fatal(err)
	}
	if j.Lane != job.LaneBulk || j.Priority != job.LaneBulk.Priority() {
		t.Errorf("lane = %q priority = %d", j.Lane, j.Priority)
	}
	if j.State != job.StateDelayed || time.Until(j.RunAt) < 59*time.Minute {
		t.Errorf("state = %q run_at = %v", j.State, j.RunAt)
	}
	if j.MaxAttempts != 7 || j.Timeout != time.Second {
		t.Errorf("max attempts = %d timeout = %v", j.MaxAttempts, j.Timeout)
	}
	if j.Key != "order:IL1" {
		t.Errorf("key = %q", j.Key)
	}
}

// ──────────────────────────────────────────────────
// Retry and dead-letter
// ──────────────────────────────────────────────────

func TestEngine_RetryThenSucceed(t *testing.T) {
	s := memory.New()
	eng := newEngine(t, s)

	var calls atomic.Int32
	engine.Register(eng, job.NewDefinition(func(context.Context, pingPayload) (struct{}, error) {
		if calls.Add(1) < 3 {
			return struct{}{}, errors.New("flaky")
		}
		return struct{}{}, nil
	}, job.WithMaxAttempts(5)))
	start(t, eng)

	j, _ := engine.Enqueue(context.Background(), eng, pingPayload{})
	waitFor(t, "completion", func() bool { return jobState(s, j.ID) == job.StateCompleted })

	stored, _ := s.GetJob(context.Background(), j.ID)
	if stored.Attempt != 3 {
		t.Errorf("attempt = %d, want 3", stored.Attempt)
	}
}

func TestEngine_ExhaustRetriesToDLQ(t *testing.T) {
	s := memory.New()
	eng := newEngine(t, s)

	var calls atomic.Int32
	engine.Register(eng, job.NewDefinition(func(context.Context, pingPayload) (struct{}, error) {
		calls.Add(1)
		return struct{}{}, retry.Transient(errors.New("provider down"))
	}, job.WithMaxAttempts(4)))
	start(t, eng)

	j, _ := engine.Enqueue(context.Background(), eng, pingPayload{})
	waitFor(t, "dead-letter", func() bool { return jobState(s, j.ID) == job.StateFailed })

	// Give a stray extra attempt a chance to show up.
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 4 {
		t.Errorf("executions = %d, want 4", calls.Load())
	}
	if n, _ := s.CountDLQ(context.Background()); n != 1 {
		t.Errorf("dlq entries = %d, want 1", n)
	}
}

func TestEngine_DLQReplay(t *testing.T) {
	s := memory.New()
	eng := newEngine(t, s)

	var fail atomic.Bool
	fail.Store(true)
	engine.Register(eng, job.NewDefinition(func(context.Context, pingPayload) (struct{}, error) {
		if fail.Load() {
			return struct{}{}, retry.Permanent(errors.New("bad input"))
		}
		return struct{}{}, nil
	}))
	start(t, eng)

	j, _ := engine.Enqueue(context.Background(), eng, pingPayload{})
	waitFor(t, "dead-letter", func() bool { return jobState(s, j.ID) == job.StateFailed })

	entries, _ := s.ListDLQ(context.Background(), dlq.ListOpts{})
	if len(entries) != 1 || entries[0].Attempt != 1 {
		t.Fatalf("entries = %+v", entries)
	}

	fail.Store(false)
	replayed, err := eng.DLQService().Replay(context.Background(), entries[0].ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.ID == j.ID {
		t.Error("replay must use a fresh job id")
	}
	waitFor(t, "replayed completion", func() bool { return jobState(s, replayed.ID) == job.StateCompleted })
}

// ──────────────────────────────────────────────────
// Cron
// ──────────────────────────────────────────────────

func TestEngine_CronFiresLogPrune(t *testing.T) {
	s := memory.New()
	eng := newEngine(t, s, engine.WithCronOptions(cron.WithTickInterval(20*time.Millisecond)))
	engine.RegisterProcessors(eng, processor.New(s, s))

	def := cron.Definition[processor.LogPrune]{Name: "log-prune", Schedule: "@every 1s"}
	if err := engine.RegisterCron(context.Background(), eng, def); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	start(t, eng)

	waitFor(t, "log-prune completion", func() bool {
		n, _ := s.CountJobs(context.Background(), job.CountOpts{Lane: job.LaneBulk, State: job.StateCompleted})
		return n >= 1
	})
}

func TestEngine_RegisterCronIdempotent(t *testing.T) {
	s := memory.New()
	eng := newEngine(t, s)
	engine.RegisterProcessors(eng, processor.New(s, s))
	ctx := context.Background()

	def := cron.Definition[processor.LogPrune]{Name: "log-prune", Schedule: "@daily"}
	for range 2 {
		if err := engine.RegisterCron(ctx, eng, def); err != nil {
			t.Fatalf("RegisterCron: %v", err)
		}
	}
	entries, _ := s.ListCrons(ctx)
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}

func TestEngine_RegisterCronRejects(t *testing.T) {
	s := memory.New()
	eng := newEngine(t, s)
	ctx := context.Background()

	def := cron.Definition[processor.LogPrune]{Name: "log-prune", Schedule: "@daily"}
	if err := engine.RegisterCron(ctx, eng, def); !errors.Is(err, visapi.ErrUnknownJobType) {
		t.Errorf("unregistered type: err = %v", err)
	}
	engine.RegisterProcessors(eng, processor.New(s, s))
	def.Schedule = "not a schedule"
	if err := engine.RegisterCron(ctx, eng, def); err == nil {
		t.Error("expected schedule error")
	}
}

// ──────────────────────────────────────────────────
// Order flow
// ──────────────────────────────────────────────────

type stubCRM struct{ calls atomic.Int32 }

func (c *stubCRM) FindContact(context.Context, string) (string, bool, error) { return "", false, nil }

func (c *stubCRM) UpsertContact(_ context.Context, ct crm.Contact) (string, error) {
	c.calls.Add(1)
	return ct.Phone, nil
}

type capturingSender struct {
	mu     sync.Mutex
	prefix string
	sent   []provider.Outbound
}

func (c *capturingSender) Send(_ context.Context, msg provider.Outbound) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return c.prefix + msg.MessageType, nil
}

func (c *capturingSender) outbound() []provider.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]provider.Outbound(nil), c.sent...)
}

func TestEngine_OrderFlowCorrelatesCallback(t *testing.T) {
	s := memory.New()
	eng := newEngine(t, s)

	contacts := &stubCRM{}
	wa := &capturingSender{prefix: "wamid."}
	mail := &capturingSender{prefix: "em."}
	engine.RegisterProcessors(eng, processor.New(s, s,
		processor.WithContactPlatform(contacts),
		processor.WithSender(order.ChannelWhatsApp, wa),
		processor.WithSender(order.ChannelEmail, mail),
	))
	start(t, eng)

	ctx := context.Background()
	o := order.New("IL250824IN15", "IL", "Dana Levi", "0535777550", "dana@example.com")
	if _, err := eng.Saga().Ingest(ctx, o); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	waitFor(t, "order notified", func() bool {
		got, _ := s.GetOrder(ctx, o.ID)
		return got != nil && got.Stage == order.StageNotified
	})
	if contacts.calls.Load() != 1 {
		t.Errorf("contact platform calls = %d, want 1", contacts.calls.Load())
	}

	sent := append(wa.outbound(), mail.outbound()...)
	if len(sent) != 2 {
		t.Fatalf("sent %d notifications, want 2", len(sent))
	}
	if sent[0].Correlation == sent[1].Correlation {
		t.Fatal("tokens must be distinct")
	}
	for _, msg := range sent {
		tok := correlation.Decode(msg.Correlation)
		if tok == nil || tok.OrderID != "IL250824IN15" {
			t.Fatalf("token %q does not carry the order id", msg.Correlation)
		}
	}

	svc := callback.NewService(s, s, nil)
	res, err := svc.Apply(ctx, callback.Event{
		Status:      "delivered",
		Correlation: wa.outbound()[0].Correlation,
		At:          time.Now(),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.OrderID != "IL250824IN15" || res.MessageType != order.MessageOrderConfirmation || !res.Applied {
		t.Errorf("callback resolved to %+v", res)
	}
}

func TestEngine_ContactSyncDeadLetterMarksOrder(t *testing.T) {
	s := memory.New()
	eng := newEngine(t, s)
	engine.RegisterProcessors(eng, processor.New(s, s, processor.WithContactPlatform(rejectingCRM{})))
	start(t, eng)

	ctx := context.Background()
	o := order.New("IL1", "IL", "n", "0535777550", "")
	if _, err := eng.Saga().Ingest(ctx, o); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "sync failure", func() bool {
		got, _ := s.GetOrder(ctx, o.ID)
		return got != nil && got.Stage == order.StageContactSyncFailed
	})
	got, _ := s.GetOrder(ctx, o.ID)
	if got.SyncStatus != order.SyncFailed {
		t.Errorf("sync status = %q", got.SyncStatus)
	}
}

type rejectingCRM struct{}

func (rejectingCRM) FindContact(context.Context, string) (string, bool, error) { return "", false, nil }

func (rejectingCRM) UpsertContact(context.Context, crm.Contact) (string, error) {
	return "", retry.FromStatus(422, errors.New("invalid contact"))
}
