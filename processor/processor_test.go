package processor_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/correlation"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/message"
	"github.com/VadimVDM/VisAPI-sub006/middleware"
	"github.com/VadimVDM/VisAPI-sub006/order"
	"github.com/VadimVDM/VisAPI-sub006/processor"
	"github.com/VadimVDM/VisAPI-sub006/provider"
	"github.com/VadimVDM/VisAPI-sub006/provider/crm"
	"github.com/VadimVDM/VisAPI-sub006/provider/scraper"
	"github.com/VadimVDM/VisAPI-sub006/retry"
	"github.com/VadimVDM/VisAPI-sub006/store/memory"
)

type fakeCRM struct {
	mu       sync.Mutex
	known    map[string]string // phone -> contact id
	finds    []string
	upserts  atomic.Int32
	upsertFn func(crm.Contact) (string, error)
	delay    time.Duration
}

func (f *fakeCRM) FindContact(_ context.Context, phone string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds = append(f.finds, phone)
	cid, ok := f.known[phone]
	return cid, ok, nil
}

func (f *fakeCRM) UpsertContact(_ context.Context, c crm.Contact) (string, error) {
	f.upserts.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.upsertFn != nil {
		return f.upsertFn(c)
	}
	if c.ID != "" {
		return c.ID, nil
	}
	return "c-new", nil
}

type fakeSender struct {
	calls atomic.Int32
	last  atomic.Value // provider.Outbound
	err   error
}

func (f *fakeSender) Send(_ context.Context, msg provider.Outbound) (string, error) {
	n := f.calls.Add(1)
	f.last.Store(msg)
	if f.err != nil {
		return "", f.err
	}
	return "wamid." + string(rune('0'+n)), nil
}

func newOrder(t *testing.T, s *memory.Store) *order.Order {
	t.Helper()
	o := order.New("IL250824IN15", "IL", "Dana Levi", "0535777550", "dana@example.com")
	if err := s.CreateOrder(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	return o
}

func jobCtx() context.Context {
	return middleware.WithInfo(context.Background(), middleware.Info{JobID: id.NewJobID(), Attempt: 1})
}

// ──────────────────────────────────────────────────
// Contact sync
// ──────────────────────────────────────────────────

func TestSyncContact_IdempotentWhenSynced(t *testing.T) {
	s := memory.New()
	o := newOrder(t, s)
	platform := &fakeCRM{}
	p := processor.New(s, s, processor.WithContactPlatform(platform))

	first, err := p.SyncContact(jobCtx(), processor.ContactSync{OrderID: o.ID})
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	second, err := p.SyncContact(jobCtx(), processor.ContactSync{OrderID: o.ID})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}

	if got := platform.upserts.Load(); got != 1 {
		t.Errorf("platform called %d times, want 1", got)
	}
	if !second.Skipped || second.ContactID != first.ContactID {
		t.Errorf("second result = %+v, want skipped with %q", second, first.ContactID)
	}
	got, _ := s.GetOrder(context.Background(), o.ID)
	if got.SyncStatus != order.SyncSynced || *got.ContactID != "c-new" {
		t.Errorf("order not synced: %+v", got)
	}
}

func TestSyncContact_ConcurrentAttemptsCallOnce(t *testing.T) {
	s := memory.New()
	o := newOrder(t, s)
	platform := &fakeCRM{delay: 50 * time.Millisecond}
	p := processor.New(s, s, processor.WithContactPlatform(platform))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = p.SyncContact(jobCtx(), processor.ContactSync{OrderID: o.ID})
		}()
	}
	wg.Wait()

	if got := platform.upserts.Load(); got != 1 {
		t.Errorf("platform called %d times, want 1", got)
	}
	var contended int
	for _, err := range errs {
		if errors.Is(err, visapi.ErrSyncInProgress) {
			contended++
			if retry.IsPermanent(err) {
				t.Error("lock contention must be transient")
			}
		}
	}
	if contended > 1 {
		t.Errorf("both attempts were refused")
	}
}

func TestSyncContact_FindsExistingByPhoneVariant(t *testing.T) {
	s := memory.New()
	o := newOrder(t, s)
	platform := &fakeCRM{known: map[string]string{"9720535777550": "c-legacy"}}
	p := processor.New(s, s, processor.WithContactPlatform(platform))

	res, err := p.SyncContact(jobCtx(), processor.ContactSync{OrderID: o.ID})
	if err != nil {
		t.Fatal(err)
	}
	if res.ContactID != "c-legacy" {
		t.Errorf("contact = %q, want c-legacy", res.ContactID)
	}
	want := []string{"972535777550", "9720535777550"}
	if len(platform.finds) != 2 || platform.finds[0] != want[0] || platform.finds[1] != want[1] {
		t.Errorf("lookups = %v, want %v", platform.finds, want)
	}
}

func TestSyncContact_PermanentFailureMarksOrder(t *testing.T) {
	s := memory.New()
	o := newOrder(t, s)
	platform := &fakeCRM{upsertFn: func(crm.Contact) (string, error) {
		return "", retry.FromStatus(422, errors.New("invalid phone"))
	}}
	p := processor.New(s, s, processor.WithContactPlatform(platform))

	_, err := p.SyncContact(jobCtx(), processor.ContactSync{OrderID: o.ID})
	if !retry.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	got, _ := s.GetOrder(context.Background(), o.ID)
	if got.SyncStatus != order.SyncFailed || got.SyncError == "" {
		t.Errorf("order sync status = %q (%q), want failed", got.SyncStatus, got.SyncError)
	}
	if got.SyncLockedBy != "" {
		t.Error("expected lease released")
	}
}

func TestSyncContact_TransientFailureLeavesPending(t *testing.T) {
	s := memory.New()
	o := newOrder(t, s)
	platform := &fakeCRM{upsertFn: func(crm.Contact) (string, error) {
		return "", retry.FromStatus(503, errors.New("unavailable"))
	}}
	p := processor.New(s, s, processor.WithContactPlatform(platform))

	_, err := p.SyncContact(jobCtx(), processor.ContactSync{OrderID: o.ID})
	if err == nil || retry.IsPermanent(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	got, _ := s.GetOrder(context.Background(), o.ID)
	if got.SyncStatus != order.SyncPending {
		t.Errorf("sync status = %q, want pending", got.SyncStatus)
	}
}

func TestSyncContact_MissingOrderIsPermanent(t *testing.T) {
	s := memory.New()
	p := processor.New(s, s, processor.WithContactPlatform(&fakeCRM{}))

	_, err := p.SyncContact(jobCtx(), processor.ContactSync{OrderID: "nope"})
	if !retry.IsPermanent(err) || !errors.Is(err, visapi.ErrOrderNotFound) {
		t.Fatalf("expected permanent not-found, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Message send
// ──────────────────────────────────────────────────

func syncedOrder(t *testing.T, s *memory.Store) *order.Order {
	t.Helper()
	o := newOrder(t, s)
	ctx := context.Background()
	_, _ = s.AcquireSyncLock(ctx, o.ID, "setup", time.Minute)
	if err := s.MarkSynced(ctx, o.ID, "setup", "c-1", time.Now()); err != nil {
		t.Fatal(err)
	}
	_ = s.ReleaseSyncLock(ctx, o.ID, "setup")
	return o
}

func TestSendMessage_RecordsCorrelationBeforeSend(t *testing.T) {
	s := memory.New()
	o := syncedOrder(t, s)

	var seenDuringSend *message.Record
	sender := senderFunc(func(ctx context.Context, msg provider.Outbound) (string, error) {
		rec := correlation.Decode(msg.Correlation)
		if rec == nil {
			return "", errors.New("no token")
		}
		seenDuringSend, _ = s.GetMessageByTempID(ctx, rec.TempID)
		return "wamid.A", nil
	})
	p := processor.New(s, s, processor.WithSender(order.ChannelWhatsApp, sender))

	res, err := p.SendMessage(jobCtx(), processor.MessageSend{
		OrderID:     o.ID,
		Channel:     order.ChannelWhatsApp,
		MessageType: order.MessageOrderConfirmation,
		TempID:      "tmp-1",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if seenDuringSend == nil {
		t.Fatal("message record must exist before the provider call returns")
	}
	if seenDuringSend.CorrelationToken != "IL250824IN15:c-1:order_confirmation:tmp-1" {
		t.Errorf("token = %q", seenDuringSend.CorrelationToken)
	}
	if seenDuringSend.Recipient != "972535777550" {
		t.Errorf("recipient = %q", seenDuringSend.Recipient)
	}
	if res.ProviderMessageID != "wamid.A" {
		t.Errorf("provider id = %q", res.ProviderMessageID)
	}

	rec, _ := s.GetMessageByProviderID(context.Background(), "wamid.A")
	if rec == nil || rec.TempID != "tmp-1" || rec.Status != message.StatusSent {
		t.Fatalf("provider id not attached: %+v", rec)
	}
	got, _ := s.GetOrder(context.Background(), o.ID)
	if !got.Sent(order.Notification{Channel: order.ChannelWhatsApp, MessageType: order.MessageOrderConfirmation}) {
		t.Error("expected notification flag set")
	}
}

func TestSendMessage_RedeliveryDoesNotResend(t *testing.T) {
	s := memory.New()
	o := syncedOrder(t, s)
	sender := &fakeSender{}
	p := processor.New(s, s, processor.WithSender(order.ChannelWhatsApp, sender))

	in := processor.MessageSend{
		OrderID:     o.ID,
		Channel:     order.ChannelWhatsApp,
		MessageType: order.MessageVisaApproval,
		TempID:      "tmp-2",
	}
	if _, err := p.SendMessage(jobCtx(), in); err != nil {
		t.Fatal(err)
	}
	res, err := p.SendMessage(jobCtx(), in)
	if err != nil {
		t.Fatal(err)
	}
	if sender.calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1", sender.calls.Load())
	}
	if !res.Skipped {
		t.Error("expected redelivery to be skipped")
	}
}

func TestSendMessage_PermanentFailureMarksRecord(t *testing.T) {
	s := memory.New()
	o := syncedOrder(t, s)
	sender := &fakeSender{err: retry.FromStatus(400, errors.New("template not approved"))}
	p := processor.New(s, s, processor.WithSender(order.ChannelEmail, sender))

	_, err := p.SendMessage(jobCtx(), processor.MessageSend{
		OrderID:     o.ID,
		Channel:     order.ChannelEmail,
		MessageType: order.MessageOrderConfirmation,
		TempID:      "tmp-3",
	})
	if !retry.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	rec, _ := s.GetMessageByTempID(context.Background(), "tmp-3")
	if rec.Status != message.StatusFailed || rec.Recipient != "dana@example.com" {
		t.Errorf("record = %+v", rec)
	}
	got, _ := s.GetOrder(context.Background(), o.ID)
	if len(got.NotificationsSent) != 0 {
		t.Error("failed send must not set a flag")
	}
}

func TestSendMessage_UnconfirmedAcceptIsNotRetried(t *testing.T) {
	s := memory.New()
	o := syncedOrder(t, s)
	sender := &fakeSender{err: retry.Permanent(fmt.Errorf("whatsapp: %w: no message id", provider.ErrUnconfirmed))}
	p := processor.New(s, s, processor.WithSender(order.ChannelWhatsApp, sender))
	in := processor.MessageSend{
		OrderID:     o.ID,
		Channel:     order.ChannelWhatsApp,
		MessageType: order.MessageOrderConfirmation,
		TempID:      "tmp-4",
	}

	if _, err := p.SendMessage(jobCtx(), in); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	rec, _ := s.GetMessageByTempID(context.Background(), "tmp-4")
	if rec.Status != message.StatusSent {
		t.Errorf("status = %q, want sent", rec.Status)
	}
	got, _ := s.GetOrder(context.Background(), o.ID)
	if !got.Sent(in.Notification()) {
		t.Error("expected notification flag set")
	}

	res, err := p.SendMessage(jobCtx(), in)
	if err != nil || !res.Skipped {
		t.Fatalf("redelivery = %+v, %v", res, err)
	}
	if sender.calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1", sender.calls.Load())
	}
}

func TestSendMessage_UnknownChannelIsPermanent(t *testing.T) {
	s := memory.New()
	p := processor.New(s, s)
	_, err := p.SendMessage(jobCtx(), processor.MessageSend{
		OrderID: "IL1", Channel: "sms", MessageType: "x", TempID: "t",
	})
	if !retry.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

type senderFunc func(ctx context.Context, msg provider.Outbound) (string, error)

func (f senderFunc) Send(ctx context.Context, msg provider.Outbound) (string, error) { return f(ctx, msg) }

// ──────────────────────────────────────────────────
// Document scrape
// ──────────────────────────────────────────────────

type scraperFunc func(context.Context, scraper.Request) (scraper.Result, error)

func (f scraperFunc) Scrape(ctx context.Context, r scraper.Request) (scraper.Result, error) {
	return f(ctx, r)
}

func TestScrapeDocument_StatusClassification(t *testing.T) {
	tests := []struct {
		status    scraper.Status
		wantErr   bool
		permanent bool
	}{
		{scraper.StatusCompleted, false, false},
		{scraper.StatusNotFound, false, false},
		{scraper.StatusFailed, true, true},
		{scraper.StatusRetry, true, false},
		{"weird", true, true},
	}
	s := memory.New()
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			p := processor.New(s, s, processor.WithScraper(scraperFunc(func(context.Context, scraper.Request) (scraper.Result, error) {
				return scraper.Result{Status: tt.status, DocumentURL: "https://files/v.pdf"}, nil
			})))
			res, err := p.ScrapeDocument(context.Background(), processor.DocumentScrape{OrderID: "IL1", ApplicationRef: "A-1"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && retry.IsPermanent(err) != tt.permanent {
				t.Errorf("permanent = %v, want %v", retry.IsPermanent(err), tt.permanent)
			}
			if tt.status == scraper.StatusCompleted && res.DocumentURL == "" {
				t.Error("expected document url")
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Log prune
// ──────────────────────────────────────────────────

func TestPruneLogs_Idempotent(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	for i, age := range []time.Duration{40 * 24 * time.Hour, 31 * 24 * time.Hour, time.Hour} {
		r := &message.Record{
			Entity: visapi.NewEntity(),
			ID:     id.NewMessageID(),
			TempID: "tmp-" + string(rune('a'+i)),
			Status: message.StatusSent,
		}
		r.CreatedAt = time.Now().UTC().Add(-age)
		_ = s.SaveMessage(ctx, r)
	}

	p := processor.New(s, s)
	first, err := p.PruneLogs(ctx, processor.LogPrune{})
	if err != nil {
		t.Fatal(err)
	}
	if first.Deleted != 2 {
		t.Errorf("first run deleted %d, want 2", first.Deleted)
	}
	second, _ := p.PruneLogs(ctx, processor.LogPrune{})
	if second.Deleted != 0 {
		t.Errorf("second run deleted %d, want 0", second.Deleted)
	}
	third, _ := p.PruneLogs(ctx, processor.LogPrune{MaxAgeDays: 0})
	if third.Deleted != 0 {
		t.Errorf("third run deleted %d, want 0", third.Deleted)
	}
}
