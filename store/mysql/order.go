package mysql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/order"
)

// CreateOrder persists a new order.
func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	m, err := toOrderModel(o)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if isDuplicateKey(err) {
			return visapi.ErrOrderAlreadyExists
		}
		return fmt.Errorf("visapi/mysql: create order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by id.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*order.Order, error) {
	var m orderModel
	if err := s.db.WithContext(ctx).Where("id = ?", orderID).First(&m).Error; err != nil {
		if isNotFound(err) {
			return nil, visapi.ErrOrderNotFound
		}
		return nil, fmt.Errorf("visapi/mysql: get order: %w", err)
	}
	return m.toOrder()
}

// ListOrdersByStage returns orders in stage, oldest first.
func (s *Store) ListOrdersByStage(ctx context.Context, stage order.Stage, limit int) ([]*order.Order, error) {
	q := s.db.WithContext(ctx).Where("stage = ?", string(stage)).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []orderModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("visapi/mysql: list orders: %w", err)
	}

	orders := make([]*order.Order, 0, len(rows))
	for i := range rows {
		o, err := rows[i].toOrder()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// TransitionStage is a compare-and-set on the stage column.
func (s *Store) TransitionStage(ctx context.Context, orderID string, from, to order.Stage) error {
	res := s.db.WithContext(ctx).Model(&orderModel{}).
		Where("id = ? AND stage = ?", orderID, string(from)).
		Updates(map[string]any{"stage": string(to), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("visapi/mysql: transition stage: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if err := s.orderExists(ctx, orderID); err != nil {
		return err
	}
	return visapi.ErrStageConflict
}

// AcquireSyncLock leases the contact-sync gate of an order.
func (s *Store) AcquireSyncLock(ctx context.Context, orderID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&orderModel{}).
		Where("id = ? AND (sync_locked_by IS NULL OR sync_locked_by = ? OR sync_locked_until < ?)", orderID, owner, now).
		Updates(map[string]any{"sync_locked_by": owner, "sync_locked_until": now.Add(ttl)})
	if res.Error != nil {
		return false, fmt.Errorf("visapi/mysql: acquire sync lock: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if err := s.orderExists(ctx, orderID); err != nil {
		return false, err
	}
	return false, nil
}

// ReleaseSyncLock drops the lease if owner holds it.
func (s *Store) ReleaseSyncLock(ctx context.Context, orderID, owner string) error {
	res := s.db.WithContext(ctx).Model(&orderModel{}).
		Where("id = ? AND sync_locked_by = ?", orderID, owner).
		Updates(map[string]any{"sync_locked_by": nil, "sync_locked_until": nil})
	if res.Error != nil {
		return fmt.Errorf("visapi/mysql: release sync lock: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return s.orderExists(ctx, orderID)
}

// MarkSynced records a successful contact sync under the lease.
func (s *Store) MarkSynced(ctx context.Context, orderID, owner, contactID string, at time.Time) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&orderModel{}).
		Where("id = ? AND sync_locked_by = ? AND sync_locked_until > ?", orderID, owner, now).
		Updates(map[string]any{
			"sync_status":  string(order.SyncSynced),
			"sync_error":   "",
			"contact_id":   contactID,
			"processed_at": at,
			"updated_at":   now,
		})
	if res.Error != nil {
		return fmt.Errorf("visapi/mysql: mark synced: %w", res.Error)
	}
	return s.leaseResult(ctx, orderID, res.RowsAffected)
}

// MarkSyncFailed records a permanent sync failure under the lease. An order
// that already synced keeps its status.
func (s *Store) MarkSyncFailed(ctx context.Context, orderID, owner, reason string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&orderModel{}).
		Where("id = ? AND sync_locked_by = ? AND sync_locked_until > ?", orderID, owner, now).
		Updates(map[string]any{
			"sync_error":  gorm.Expr("IF(sync_status = ?, sync_error, ?)", string(order.SyncSynced), reason),
			"sync_status": gorm.Expr("IF(sync_status = ?, sync_status, ?)", string(order.SyncSynced), string(order.SyncFailed)),
			"updated_at":  now,
		})
	if res.Error != nil {
		return fmt.Errorf("visapi/mysql: mark sync failed: %w", res.Error)
	}
	return s.leaseResult(ctx, orderID, res.RowsAffected)
}

// MarkNotificationSent sets the delivery flag for key unless already set.
func (s *Store) MarkNotificationSent(ctx context.Context, orderID, key string, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m orderModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", orderID).First(&m).Error
		if err != nil {
			if isNotFound(err) {
				return visapi.ErrOrderNotFound
			}
			return fmt.Errorf("visapi/mysql: load order: %w", err)
		}

		sent := map[string]time.Time{}
		if len(m.NotificationsSent) > 0 {
			if err := json.Unmarshal(m.NotificationsSent, &sent); err != nil {
				return fmt.Errorf("visapi/mysql: unmarshal notifications: %w", err)
			}
		}
		if _, ok := sent[key]; ok {
			return nil
		}
		sent[key] = at

		raw, err := json.Marshal(sent)
		if err != nil {
			return fmt.Errorf("visapi/mysql: marshal notifications: %w", err)
		}
		return tx.Model(&orderModel{}).Where("id = ?", orderID).
			Updates(map[string]any{"notifications_sent": raw, "updated_at": time.Now().UTC()}).Error
	})
}

func (s *Store) orderExists(ctx context.Context, orderID string) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&orderModel{}).Where("id = ?", orderID).Count(&n).Error; err != nil {
		return fmt.Errorf("visapi/mysql: check order exists: %w", err)
	}
	if n == 0 {
		return visapi.ErrOrderNotFound
	}
	return nil
}

func (s *Store) leaseResult(ctx context.Context, orderID string, affected int64) error {
	if affected > 0 {
		return nil
	}
	if err := s.orderExists(ctx, orderID); err != nil {
		return err
	}
	return visapi.ErrSyncLockLost
}
