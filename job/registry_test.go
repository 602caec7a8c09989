package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/VadimVDM/VisAPI-sub006/job"
	"github.com/VadimVDM/VisAPI-sub006/retry"
)

type sendPayload struct {
	To       string `json:"to"`
	Template string `json:"template"`
}

func (sendPayload) JobType() job.Type { return job.TypeMessageSend }

type sendResult struct {
	ProviderID string `json:"provider_id"`
}

type prunePayload struct{}

func (prunePayload) JobType() job.Type { return job.TypeLogPrune }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := job.NewRegistry()

	var got sendPayload
	def := job.NewDefinition(func(_ context.Context, p sendPayload) (sendResult, error) {
		got = p
		return sendResult{ProviderID: "wamid.1"}, nil
	})
	if def.Type != job.TypeMessageSend {
		t.Fatalf("Type = %q, want %q", def.Type, job.TypeMessageSend)
	}

	job.RegisterDefinition(r, def)

	h, ok := r.Get(job.TypeMessageSend)
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	payload, _ := json.Marshal(sendPayload{To: "972535777550", Template: "order_confirmation"})
	out, err := h(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.To != "972535777550" {
		t.Errorf("To = %q, want %q", got.To, "972535777550")
	}

	var res sendResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if res.ProviderID != "wamid.1" {
		t.Errorf("ProviderID = %q, want %q", res.ProviderID, "wamid.1")
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := job.NewRegistry()
	if _, ok := r.Get(job.TypeDocumentScrape); ok {
		t.Fatal("expected no handler for unregistered job")
	}
}

func TestRegistry_DefaultOptions(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition(
		func(_ context.Context, _ prunePayload) (int64, error) { return 0, nil },
		job.WithLane(job.LaneBulk),
		job.WithMaxAttempts(1),
	))

	opts, ok := r.Options(job.TypeLogPrune)
	if !ok {
		t.Fatal("expected options to be registered")
	}
	if opts.Lane != job.LaneBulk {
		t.Errorf("Lane = %q, want %q", opts.Lane, job.LaneBulk)
	}
	if opts.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", opts.MaxAttempts)
	}
}

func TestRegistry_InvalidJSONIsPermanent(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition(func(_ context.Context, _ sendPayload) (sendResult, error) {
		t.Fatal("handler should not be called with invalid JSON")
		return sendResult{}, nil
	}))

	h, _ := r.Get(job.TypeMessageSend)
	_, err := h(context.Background(), []byte(`{invalid json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if retry.ClassOf(err) != retry.ClassPermanent {
		t.Fatalf("class = %v, want permanent", retry.ClassOf(err))
	}
}

func TestRegistry_HandlerError(t *testing.T) {
	r := job.NewRegistry()
	want := errors.New("handler failed")
	job.RegisterDefinition(r, job.NewDefinition(func(_ context.Context, _ prunePayload) (int64, error) {
		return 0, want
	}))

	h, _ := r.Get(job.TypeLogPrune)
	if _, err := h(context.Background(), nil); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestLane_Priority(t *testing.T) {
	if !(job.LaneCritical.Priority() > job.LaneDefault.Priority() &&
		job.LaneDefault.Priority() > job.LaneBulk.Priority()) {
		t.Fatal("expected critical > default > bulk")
	}
	if _, err := job.ParseLane("express"); err == nil {
		t.Fatal("expected error for unknown lane")
	}
}
