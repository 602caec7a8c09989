//go:build integration

package mysql_test

import (
	"context"
	"errors"
	"testing"
	"time"

	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/message"
	"github.com/VadimVDM/VisAPI-sub006/order"
	"github.com/VadimVDM/VisAPI-sub006/store/mysql"
)

func setupTestStore(t *testing.T) *mysql.Store {
	t.Helper()

	ctx := context.Background()
	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("visapi_test"),
		tcmysql.WithUsername("test"),
		tcmysql.WithPassword("test"),
	)
	if err != nil {
		t.Fatalf("start mysql container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	dsn, err := container.ConnectionString(ctx, "parseTime=true")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	s, err := mysql.New(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestOrderStore_LeaseAndFlags(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	o := order.New("IL250824IN15", "IL", "Dana Levi", "0535777550", "")
	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateOrder(ctx, o); !errors.Is(err, visapi.ErrOrderAlreadyExists) {
		t.Fatalf("expected ErrOrderAlreadyExists, got %v", err)
	}

	if ok, err := s.AcquireSyncLock(ctx, o.ID, "job-a", time.Minute); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if ok, err := s.AcquireSyncLock(ctx, o.ID, "job-b", time.Minute); err != nil || ok {
		t.Fatalf("expected second owner refused: ok=%v err=%v", ok, err)
	}
	if err := s.MarkSyncFailed(ctx, o.ID, "job-a", "crm 422"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := s.ReleaseSyncLock(ctx, o.ID, "job-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := s.MarkSynced(ctx, o.ID, "job-a", "c-1", time.Now()); !errors.Is(err, visapi.ErrSyncLockLost) {
		t.Fatalf("expected ErrSyncLockLost after release, got %v", err)
	}

	key := order.Notification{Channel: order.ChannelEmail, MessageType: order.MessageOrderConfirmation}.Key()
	if err := s.MarkNotificationSent(ctx, o.ID, key, time.Now()); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	got, err := s.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SyncStatus != order.SyncFailed || got.SyncError != "crm 422" {
		t.Fatalf("expected failed sync, got %s %q", got.SyncStatus, got.SyncError)
	}
	if _, ok := got.NotificationsSent[key]; !ok {
		t.Fatalf("expected %s flagged", key)
	}
	if _, err := s.GetOrder(ctx, "missing"); !errors.Is(err, visapi.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestMessageStore_Correlation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := &message.Record{
		Entity:      visapi.NewEntity(),
		ID:          id.NewMessageID(),
		TempID:      "tmp-1",
		OrderID:     "IL250824IN15",
		MessageType: order.MessageOrderConfirmation,
		Channel:     order.ChannelEmail,
		Status:      message.StatusQueued,
	}
	if err := s.SaveMessage(ctx, r); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveMessage(ctx, r); !errors.Is(err, visapi.ErrMessageAlreadyExists) {
		t.Fatalf("expected ErrMessageAlreadyExists, got %v", err)
	}
	if err := s.AttachProviderID(ctx, "tmp-1", "em_1", time.Now()); err != nil {
		t.Fatalf("attach: %v", err)
	}

	applied, err := s.UpdateMessageStatus(ctx, r.ID, message.StatusDelivered, "", time.Now())
	if err != nil || !applied {
		t.Fatalf("delivered: applied=%v err=%v", applied, err)
	}
	applied, err = s.UpdateMessageStatus(ctx, r.ID, message.StatusFailed, "bounced", time.Now())
	if err != nil || applied {
		t.Fatalf("expected failed after delivered ignored: applied=%v err=%v", applied, err)
	}

	got, err := s.GetMessageByProviderID(ctx, "em_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != message.StatusDelivered || got.DeliveredAt == nil {
		t.Fatalf("expected delivered with timestamp, got %+v", got)
	}
}
