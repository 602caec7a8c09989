package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/message"
	"github.com/VadimVDM/VisAPI-sub006/order"
)

func seedOrder(t *testing.T, s *Store) *order.Order {
	t.Helper()
	o := order.New("IL250824IN15", "IL", "Dana Levi", "0535777550", "dana@example.com")
	if err := s.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return o
}

func TestOrderCreateAndTransition(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	o := seedOrder(t, s)

	if err := s.CreateOrder(ctx, o); !errors.Is(err, visapi.ErrOrderAlreadyExists) {
		t.Fatalf("expected ErrOrderAlreadyExists, got %v", err)
	}

	if err := s.TransitionStage(ctx, o.ID, order.StageIngested, order.StageContactSyncPending); err != nil {
		t.Fatal(err)
	}
	err := s.TransitionStage(ctx, o.ID, order.StageIngested, order.StageContactSyncPending)
	if !errors.Is(err, visapi.ErrStageConflict) {
		t.Fatalf("expected ErrStageConflict, got %v", err)
	}

	pending, _ := s.ListOrdersByStage(ctx, order.StageContactSyncPending, 0)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending order, got %d", len(pending))
	}
}

func TestOrderSyncLockIsSingleWriter(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	o := seedOrder(t, s)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			owner := id.NewJobID().String()
			ok, err := s.AcquireSyncLock(ctx, o.ID, owner, time.Minute)
			if err == nil && ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := winners.Load(); got != 1 {
		t.Fatalf("expected exactly one lock holder, got %d", got)
	}
}

func TestOrderMarkSyncedRequiresLease(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	o := seedOrder(t, s)

	if err := s.MarkSynced(ctx, o.ID, "nobody", "c-1", time.Now()); !errors.Is(err, visapi.ErrSyncLockLost) {
		t.Fatalf("expected ErrSyncLockLost, got %v", err)
	}

	ok, _ := s.AcquireSyncLock(ctx, o.ID, "job-a", time.Minute)
	if !ok {
		t.Fatal("expected lock")
	}
	if err := s.MarkSynced(ctx, o.ID, "job-a", "c-1", time.Now()); err != nil {
		t.Fatal(err)
	}
	_ = s.ReleaseSyncLock(ctx, o.ID, "job-a")

	got, _ := s.GetOrder(ctx, o.ID)
	if !got.Synced() || *got.ContactID != "c-1" {
		t.Fatalf("expected synced with contact c-1, got %+v", got)
	}
	if got.SyncLockedBy != "" {
		t.Error("expected lock released")
	}

	// A late permanent failure must not overwrite a successful sync.
	_, _ = s.AcquireSyncLock(ctx, o.ID, "job-b", time.Minute)
	_ = s.MarkSyncFailed(ctx, o.ID, "job-b", "late")
	got, _ = s.GetOrder(ctx, o.ID)
	if got.SyncStatus != order.SyncSynced {
		t.Errorf("sync status = %q, want synced", got.SyncStatus)
	}
}

func TestOrderNotificationFlags(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	o := seedOrder(t, s)

	first := time.Now().UTC()
	_ = s.MarkNotificationSent(ctx, o.ID, "whatsapp:order_confirmation", first)
	_ = s.MarkNotificationSent(ctx, o.ID, "whatsapp:order_confirmation", first.Add(time.Hour))

	got, _ := s.GetOrder(ctx, o.ID)
	if at := got.NotificationsSent["whatsapp:order_confirmation"]; !at.Equal(first) {
		t.Errorf("flag time = %v, want first send %v", at, first)
	}
}

func newMessage(orderID, tempID string) *message.Record {
	return &message.Record{
		Entity:      visapi.NewEntity(),
		ID:          id.NewMessageID(),
		TempID:      tempID,
		OrderID:     orderID,
		MessageType: order.MessageOrderConfirmation,
		Channel:     order.ChannelWhatsApp,
		Status:      message.StatusQueued,
	}
}

func TestMessageCorrelationLookups(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	r := newMessage("IL1", "tmp-1")
	if err := s.SaveMessage(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveMessage(ctx, newMessage("IL1", "tmp-1")); !errors.Is(err, visapi.ErrMessageAlreadyExists) {
		t.Fatalf("expected ErrMessageAlreadyExists, got %v", err)
	}

	if err := s.AttachProviderID(ctx, "tmp-1", "wamid.1", time.Now()); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetMessageByProviderID(ctx, "wamid.1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TempID != "tmp-1" || got.Status != message.StatusSent || got.SentAt == nil {
		t.Fatalf("unexpected record %+v", got)
	}

	if _, err := s.GetMessageByTempID(ctx, "nope"); !errors.Is(err, visapi.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestMessageStatusIsMonotonic(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	r := newMessage("IL1", "tmp-1")
	_ = s.SaveMessage(ctx, r)

	now := time.Now()
	if ok, _ := s.UpdateMessageStatus(ctx, r.ID, message.StatusRead, "", now); !ok {
		t.Fatal("read should apply")
	}
	if ok, _ := s.UpdateMessageStatus(ctx, r.ID, message.StatusDelivered, "", now); ok {
		t.Fatal("delivered after read must be ignored")
	}
	got, _ := s.GetMessageByTempID(ctx, "tmp-1")
	if got.Status != message.StatusRead {
		t.Errorf("status = %q, want read", got.Status)
	}
}

func TestMessagePrune(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	old := newMessage("IL1", "tmp-old")
	old.CreatedAt = time.Now().UTC().Add(-40 * 24 * time.Hour)
	_ = s.SaveMessage(ctx, old)
	_ = s.SaveMessage(ctx, newMessage("IL1", "tmp-new"))

	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)
	n, _ := s.PruneMessages(ctx, cutoff)
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	n, _ = s.PruneMessages(ctx, cutoff)
	if n != 0 {
		t.Fatalf("second prune removed %d, want 0", n)
	}
	if _, err := s.GetMessageByTempID(ctx, "tmp-old"); !errors.Is(err, visapi.ErrMessageNotFound) {
		t.Fatal("pruned record still resolvable by temp id")
	}
}

func TestStatusSubscription(t *testing.T) {
	t.Parallel()
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.SubscribeStatus(ctx)
	_ = s.PublishStatus(ctx, message.StatusUpdate{OrderID: "IL1", Status: message.StatusDelivered})

	select {
	case u := <-ch:
		if u.OrderID != "IL1" {
			t.Errorf("order = %q", u.OrderID)
		}
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
}
