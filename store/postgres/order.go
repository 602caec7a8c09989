package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/order"
)

const orderColumns = `
	id, branch_code, customer_name, customer_phone, customer_email,
	sync_status, sync_error, contact_id, stage, notifications_sent,
	processed_at, sync_locked_by, sync_locked_until, created_at, updated_at`

// CreateOrder persists a new order.
func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	sent := o.NotificationsSent
	if sent == nil {
		sent = map[string]time.Time{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO visapi_orders (`+orderColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		o.ID, o.BranchCode, o.CustomerName, o.CustomerPhone, o.CustomerEmail,
		string(o.SyncStatus), o.SyncError, o.ContactID, string(o.Stage), sent,
		o.ProcessedAt, nilIfEmpty(o.SyncLockedBy), o.SyncLockedUntil, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return visapi.ErrOrderAlreadyExists
		}
		return fmt.Errorf("visapi/postgres: create order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by id.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*order.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM visapi_orders WHERE id = $1`, orderID)

	o, err := scanOrder(row)
	if err != nil {
		if isNoRows(err) {
			return nil, visapi.ErrOrderNotFound
		}
		return nil, fmt.Errorf("visapi/postgres: get order: %w", err)
	}
	return o, nil
}

// ListOrdersByStage returns orders in stage, oldest first.
func (s *Store) ListOrdersByStage(ctx context.Context, stage order.Stage, limit int) ([]*order.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM visapi_orders WHERE stage = $1 ORDER BY created_at ASC`
	args := []any{string(stage)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("visapi/postgres: list orders: %w", err)
	}
	defer rows.Close()

	var orders []*order.Order
	for rows.Next() {
		o, scanErr := scanOrder(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("visapi/postgres: scan order row: %w", scanErr)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("visapi/postgres: iterate order rows: %w", err)
	}
	return orders, nil
}

// TransitionStage is a compare-and-set on the stage column.
func (s *Store) TransitionStage(ctx context.Context, orderID string, from, to order.Stage) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE visapi_orders SET stage = $3, updated_at = NOW()
		WHERE id = $1 AND stage = $2`,
		orderID, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("visapi/postgres: transition stage: %w", err)
	}
	if tag.RowsAffected() > 0 {
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
	tag, err := s.pool.Exec(ctx, `
		UPDATE visapi_orders
		SET sync_locked_by = $2, sync_locked_until = $3
		WHERE id = $1
		  AND (sync_locked_by IS NULL OR sync_locked_by = $2 OR sync_locked_until < $4)`,
		orderID, owner, now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("visapi/postgres: acquire sync lock: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if err := s.orderExists(ctx, orderID); err != nil {
		return false, err
	}
	return false, nil
}

// ReleaseSyncLock drops the lease if owner holds it.
func (s *Store) ReleaseSyncLock(ctx context.Context, orderID, owner string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE visapi_orders SET sync_locked_by = NULL, sync_locked_until = NULL
		WHERE id = $1 AND sync_locked_by = $2`,
		orderID, owner,
	)
	if err != nil {
		return fmt.Errorf("visapi/postgres: release sync lock: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.orderExists(ctx, orderID)
}

// MarkSynced records a successful contact sync under the lease.
func (s *Store) MarkSynced(ctx context.Context, orderID, owner, contactID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE visapi_orders
		SET sync_status = 'synced', sync_error = '', contact_id = $3,
		    processed_at = $4, updated_at = NOW()
		WHERE id = $1 AND sync_locked_by = $2 AND sync_locked_until > NOW()`,
		orderID, owner, contactID, at,
	)
	if err != nil {
		return fmt.Errorf("visapi/postgres: mark synced: %w", err)
	}
	return s.leaseResult(ctx, orderID, tag.RowsAffected())
}

// MarkSyncFailed records a permanent sync failure under the lease. An order
// that already synced keeps its status.
func (s *Store) MarkSyncFailed(ctx context.Context, orderID, owner, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE visapi_orders
		SET sync_status = CASE WHEN sync_status = 'synced' THEN sync_status ELSE 'failed' END,
		    sync_error  = CASE WHEN sync_status = 'synced' THEN sync_error ELSE $3 END,
		    updated_at  = NOW()
		WHERE id = $1 AND sync_locked_by = $2 AND sync_locked_until > NOW()`,
		orderID, owner, reason,
	)
	if err != nil {
		return fmt.Errorf("visapi/postgres: mark sync failed: %w", err)
	}
	return s.leaseResult(ctx, orderID, tag.RowsAffected())
}

// MarkNotificationSent sets the delivery flag for key unless already set.
func (s *Store) MarkNotificationSent(ctx context.Context, orderID, key string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE visapi_orders
		SET notifications_sent = notifications_sent || $3::jsonb, updated_at = NOW()
		WHERE id = $1 AND NOT (notifications_sent ? $2)`,
		orderID, key, map[string]time.Time{key: at},
	)
	if err != nil {
		return fmt.Errorf("visapi/postgres: mark notification sent: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.orderExists(ctx, orderID)
}

func (s *Store) orderExists(ctx context.Context, orderID string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM visapi_orders WHERE id = $1)`, orderID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("visapi/postgres: check order exists: %w", err)
	}
	if !exists {
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

// scanOrder scans a single order row.
func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o        order.Order
		syncStr  string
		stageStr string
		lockedBy *string
	)
	err := row.Scan(
		&o.ID, &o.BranchCode, &o.CustomerName, &o.CustomerPhone, &o.CustomerEmail,
		&syncStr, &o.SyncError, &o.ContactID, &stageStr, &o.NotificationsSent,
		&o.ProcessedAt, &lockedBy, &o.SyncLockedUntil, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.SyncStatus = order.SyncStatus(syncStr)
	o.Stage = order.Stage(stageStr)
	if lockedBy != nil {
		o.SyncLockedBy = *lockedBy
	}
	if o.NotificationsSent == nil {
		o.NotificationsSent = make(map[string]time.Time)
	}
	return &o, nil
}
