package order

import (
	"context"
	"time"
)

// Store defines the persistence contract for orders.
type Store interface {
	// CreateOrder persists a new order. Returns visapi.ErrOrderAlreadyExists
	// when the id is taken.
	CreateOrder(ctx context.Context, o *Order) error

	// GetOrder retrieves an order by id.
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// ListOrdersByStage returns up to limit orders in the given stage,
	// oldest first. Zero limit means no limit.
	ListOrdersByStage(ctx context.Context, stage Stage, limit int) ([]*Order, error)

	// TransitionStage moves the order from one stage to another. It returns
	// visapi.ErrStageConflict when the stored stage is not from.
	TransitionStage(ctx context.Context, orderID string, from, to Stage) error

	// AcquireSyncLock leases the order's contact-sync gate to owner for ttl.
	// It returns false when another owner holds an unexpired lease.
	AcquireSyncLock(ctx context.Context, orderID, owner string, ttl time.Duration) (bool, error)

	// ReleaseSyncLock drops the lease if owner holds it.
	ReleaseSyncLock(ctx context.Context, orderID, owner string) error

	// MarkSynced records a successful sync. It returns
	// visapi.ErrSyncLockLost when owner no longer holds the lease.
	MarkSynced(ctx context.Context, orderID, owner, contactID string, at time.Time) error

	// MarkSyncFailed records a permanent sync failure under the lease.
	MarkSyncFailed(ctx context.Context, orderID, owner, reason string) error

	// MarkNotificationSent sets the delivery flag for key. Setting an
	// existing flag is a no-op.
	MarkNotificationSent(ctx context.Context, orderID, key string, at time.Time) error
}
