package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/api"
	"github.com/VadimVDM/VisAPI-sub006/callback"
	"github.com/VadimVDM/VisAPI-sub006/correlation"
	"github.com/VadimVDM/VisAPI-sub006/dlq"
	"github.com/VadimVDM/VisAPI-sub006/engine"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
	"github.com/VadimVDM/VisAPI-sub006/message"
	"github.com/VadimVDM/VisAPI-sub006/order"
	"github.com/VadimVDM/VisAPI-sub006/processor"
	"github.com/VadimVDM/VisAPI-sub006/store/memory"
)

const secret = "s3cret"

type fixture struct {
	store  *memory.Store
	server *httptest.Server
	signer *callback.Verifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithMessages(t, nil)
}

// newFixtureWithMessages builds the fixture with callbacks applied to
// messages instead of the memory store.
func newFixtureWithMessages(t *testing.T, messages message.Store) *fixture {
	t.Helper()
	s := memory.New()
	if messages == nil {
		messages = s
	}
	d, err := visapi.New(
		visapi.WithStore(s),
		visapi.WithConfig(visapi.Config{
			Lanes:        map[string]int{"critical": 1, "default": 1, "bulk": 1},
			PollInterval: 10 * time.Millisecond,
			JobTimeout:   time.Second,
			MaxAttempts:  3,
		}),
	)
	if err != nil {
		t.Fatalf("visapi.New: %v", err)
	}
	eng, err := engine.Build(d)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	engine.RegisterProcessors(eng, processor.New(s, s))

	signer := callback.NewVerifier(secret)
	a := api.New(eng,
		api.WithCallbacks(callback.NewService(messages, s, nil), signer, signer),
		api.WithResyncInterval(time.Second),
	)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return &fixture{store: s, server: srv, signer: signer}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, f.server.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func validOrder(orderID string) api.CreateOrderRequest {
	return api.CreateOrderRequest{
		OrderID:       orderID,
		BranchCode:    "IL",
		CustomerName:  "Dana Levi",
		CustomerPhone: "972535777550",
		CustomerEmail: "dana@example.com",
	}
}

// ──────────────────────────────────────────────────
// Orders
// ──────────────────────────────────────────────────

func TestCreateOrder_EnqueuesContactSync(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/orders", mustJSON(t, validOrder("IL250824IN15")), nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	o := decodeBody[order.Order](t, resp)
	if o.ID != "IL250824IN15" || o.Stage != order.StageContactSyncPending {
		t.Errorf("order = %+v", o)
	}

	jobs, err := f.store.ListJobsByState(context.Background(), job.StateWaiting, job.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Type != job.TypeContactSync {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestCreateOrder_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	body := mustJSON(t, validOrder("IL1"))

	for range 2 {
		if resp := f.do(t, http.MethodPost, "/v1/orders", body, nil); resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	}

	n, err := f.store.CountJobs(context.Background(), job.CountOpts{Lane: job.LaneCritical})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("critical jobs = %d, want 1", n)
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t)
	req := validOrder("IL1")
	req.CustomerPhone = "+972-53"
	req.CustomerEmail = "not-an-email"

	resp := f.do(t, http.MethodPost, "/v1/orders", mustJSON(t, req), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	e := decodeBody[api.Error](t, resp)
	if _, ok := e.Fields["CustomerPhone"]; !ok {
		t.Errorf("fields = %v, want CustomerPhone", e.Fields)
	}
	if _, ok := e.Fields["CustomerEmail"]; !ok {
		t.Errorf("fields = %v, want CustomerEmail", e.Fields)
	}
}

func TestCreateOrder_RejectsUnknownFields(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/v1/orders", []byte(`{"order_id":"IL1","surprise":true}`), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(t, http.MethodGet, "/v1/orders/missing", nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestScrapeDocument_EnqueuesForKnownOrder(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(t, http.MethodPost, "/v1/orders", mustJSON(t, validOrder("IL7")), nil); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	body := mustJSON(t, api.ScrapeDocumentRequest{Country: "IN", ApplicationRef: "EV2508-1177", PassportNumber: "33990211"})
	resp := f.do(t, http.MethodPost, "/v1/orders/IL7/documents", body, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	j := decodeBody[job.Job](t, resp)
	if j.Type != job.TypeDocumentScrape || j.Key != "scrape:IL7" {
		t.Errorf("job = %+v", j)
	}
}

func TestScrapeDocument_Rejects(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(t, http.MethodPost, "/v1/orders", mustJSON(t, validOrder("IL7")), nil); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	tests := []struct {
		name string
		path string
		body api.ScrapeDocumentRequest
		want int
	}{
		{"unknown order", "/v1/orders/missing/documents", api.ScrapeDocumentRequest{Country: "IN", ApplicationRef: "EV1"}, http.StatusNotFound},
		{"bad country", "/v1/orders/IL7/documents", api.ScrapeDocumentRequest{Country: "India", ApplicationRef: "EV1"}, http.StatusBadRequest},
		{"missing ref", "/v1/orders/IL7/documents", api.ScrapeDocumentRequest{Country: "IN"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := f.do(t, http.MethodPost, tt.path, mustJSON(t, tt.body), nil); resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestResyncOrder_RefusedWhenNotified(t *testing.T) {
	f := newFixture(t)
	o := order.New("IL9", "IL", "Dana", "972535777550", "")
	o.Stage = order.StageNotified
	if err := f.store.CreateOrder(context.Background(), o); err != nil {
		t.Fatal(err)
	}

	if resp := f.do(t, http.MethodPost, "/v1/orders/IL9/resync", nil, nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestResyncOrders_StaggersOnBulkLane(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := range 3 {
		o := order.New(fmt.Sprintf("IL%d", i), "IL", "Dana", "972535777550", "")
		o.Stage = order.StageContactSyncFailed
		if err := f.store.CreateOrder(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	body := mustJSON(t, api.ResyncOrdersRequest{OrderIDs: []string{"IL0", "IL1", "IL2"}})
	resp := f.do(t, http.MethodPost, "/v1/orders/resync", body, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := decodeBody[api.ResyncResponse](t, resp); got.Resynced != 3 {
		t.Errorf("resynced = %d, want 3", got.Resynced)
	}

	n, err := f.store.CountJobs(ctx, job.CountOpts{Lane: job.LaneBulk})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("bulk jobs = %d, want 3", n)
	}
}

func TestResyncOrders_EmptyList(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/v1/orders/resync", []byte(`{"order_ids":[]}`), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

// ──────────────────────────────────────────────────
// Callbacks
// ──────────────────────────────────────────────────

func seedMessage(t *testing.T, s *memory.Store, tempID, providerID string) *message.Record {
	t.Helper()
	ctx := context.Background()
	r := &message.Record{
		Entity:           visapi.NewEntity(),
		ID:               id.NewMessageID(),
		TempID:           tempID,
		OrderID:          "IL250824IN15",
		ContactID:        "972535777550",
		MessageType:      order.MessageOrderConfirmation,
		Channel:          order.ChannelWhatsApp,
		Status:           message.StatusQueued,
		CorrelationToken: correlation.Encode("IL250824IN15", "972535777550", order.MessageOrderConfirmation, tempID),
	}
	if err := s.SaveMessage(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := s.AttachProviderID(ctx, tempID, providerID, time.Now()); err != nil {
		t.Fatal(err)
	}
	return r
}

func whatsAppStatus(providerID, status, token string) []byte {
	return []byte(fmt.Sprintf(`{"entry":[{"changes":[{"value":{"statuses":[
		{"id":%q,"status":%q,"timestamp":"1724500000","biz_opaque_callback_data":%q}
	]}}]}]}`, providerID, status, token))
}

func TestWhatsAppCallback_AppliesSignedStatus(t *testing.T) {
	f := newFixture(t)
	r := seedMessage(t, f.store, "tmp-a", "wamid.A")
	body := whatsAppStatus("wamid.A", "delivered", r.CorrelationToken)

	resp := f.do(t, http.MethodPost, "/v1/callbacks/whatsapp", body,
		map[string]string{api.HeaderWhatsAppSignature: f.signer.Sign(body)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decodeBody[api.CallbackResponse](t, resp)
	if got.Received != 1 || len(got.Applied) != 1 || !got.Applied[0].Applied {
		t.Errorf("response = %+v", got)
	}

	stored, err := f.store.GetMessageByTempID(context.Background(), "tmp-a")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != message.StatusDelivered {
		t.Errorf("status = %s, want delivered", stored.Status)
	}
}

// unavailableMessages fails every status update.
type unavailableMessages struct {
	*memory.Store
}

func (unavailableMessages) UpdateMessageStatus(context.Context, id.MessageID, message.Status, string, time.Time) (bool, error) {
	return false, errors.New("connection refused")
}

func TestWhatsAppCallback_StoreFailureAsksForRedelivery(t *testing.T) {
	s := memory.New()
	f := newFixtureWithMessages(t, unavailableMessages{s})
	r := seedMessage(t, s, "tmp-a", "wamid.A")
	body := whatsAppStatus("wamid.A", "delivered", r.CorrelationToken)

	resp := f.do(t, http.MethodPost, "/v1/callbacks/whatsapp", body,
		map[string]string{api.HeaderWhatsAppSignature: f.signer.Sign(body)})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestWhatsAppCallback_BadSignature(t *testing.T) {
	f := newFixture(t)
	seedMessage(t, f.store, "tmp-a", "wamid.A")
	body := whatsAppStatus("wamid.A", "read", "")

	resp := f.do(t, http.MethodPost, "/v1/callbacks/whatsapp", body,
		map[string]string{api.HeaderWhatsAppSignature: "sha256=00"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	stored, err := f.store.GetMessageByTempID(context.Background(), "tmp-a")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != message.StatusSent {
		t.Errorf("status = %s, want sent", stored.Status)
	}
}

func TestMailerCallback_UnknownMessageIsDropped(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"type":"email.delivered","data":{"email_id":"nope"}}`)

	resp := f.do(t, http.MethodPost, "/v1/callbacks/mailer", body,
		map[string]string{api.HeaderMailerSignature: f.signer.Sign(body)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decodeBody[api.CallbackResponse](t, resp)
	if got.Received != 1 || len(got.Applied) != 0 {
		t.Errorf("response = %+v", got)
	}
}

// ──────────────────────────────────────────────────
// Jobs, DLQ, stats
// ──────────────────────────────────────────────────

func TestListJobs_RejectsUnknownState(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(t, http.MethodGet, "/v1/jobs?state=running", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestGetJob_InvalidID(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(t, http.MethodGet, "/v1/jobs/not-an-id", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestCancelJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, orderID := range []string{"IL1", "IL2"} {
		if resp := f.do(t, http.MethodPost, "/v1/orders", mustJSON(t, validOrder(orderID)), nil); resp.StatusCode != http.StatusAccepted {
			t.Fatalf("create status = %d", resp.StatusCode)
		}
	}
	claimed, err := f.store.DequeueJobs(ctx, []job.Lane{job.LaneCritical}, id.NewWorkerID(), 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim = %v, %v", claimed, err)
	}
	waiting, _ := f.store.ListJobsByState(ctx, job.StateWaiting, job.ListOpts{})
	if len(waiting) != 1 {
		t.Fatalf("waiting = %d, want 1", len(waiting))
	}

	path := "/v1/jobs/" + waiting[0].ID.String() + "/cancel"
	if resp := f.do(t, http.MethodPost, path, nil, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, path, nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second cancel status = %d, want 404", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, "/v1/jobs/"+claimed[0].ID.String()+"/cancel", nil, nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("cancel active status = %d, want 409", resp.StatusCode)
	}
}

func TestDLQ_ReplayAndCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	entry := &dlq.Entry{
		ID:          id.NewDLQID(),
		JobID:       id.NewJobID(),
		JobType:     job.TypeMessageSend,
		Lane:        job.LaneDefault,
		Payload:     []byte(`{"order_id":"IL1"}`),
		Error:       "provider rejected recipient",
		ErrorClass:  "permanent",
		Attempt:     1,
		MaxAttempts: 5,
		FailedAt:    now,
		CreatedAt:   now,
	}
	if err := f.store.PushDLQ(ctx, entry); err != nil {
		t.Fatal(err)
	}

	resp := f.do(t, http.MethodGet, "/v1/dlq/count", nil, nil)
	if got := decodeBody[api.DLQCountResponse](t, resp); got.Count != 1 {
		t.Fatalf("count = %d, want 1", got.Count)
	}

	resp = f.do(t, http.MethodPost, "/v1/dlq/"+entry.ID.String()+"/replay", nil, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("replay status = %d", resp.StatusCode)
	}
	j := decodeBody[job.Job](t, resp)
	if j.ID == entry.JobID || j.Type != job.TypeMessageSend || j.Attempt != 0 {
		t.Errorf("replayed job = %+v", j)
	}

	resp = f.do(t, http.MethodGet, "/v1/dlq/"+id.NewDLQID().String(), nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing entry status = %d", resp.StatusCode)
	}
}

func TestDLQ_PurgeRejectsBadDuration(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(t, http.MethodPost, "/v1/dlq/purge?older_than=soon", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/orders", mustJSON(t, validOrder("IL1")), nil)

	resp := f.do(t, http.MethodGet, "/v1/stats", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decodeBody[api.StatsResponse](t, resp)
	if got.Jobs.Waiting != 1 || got.Lanes[job.LaneCritical].Jobs.Waiting != 1 {
		t.Errorf("stats = %+v", got)
	}
}

func TestCrons_EmptyList(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/v1/crons", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := decodeBody[[]json.RawMessage](t, resp); len(got) != 0 {
		t.Errorf("crons = %d, want 0", len(got))
	}
}
