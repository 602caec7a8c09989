package memory

import (
	"context"
	"sort"
	"time"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/message"
	"github.com/VadimVDM/VisAPI-sub006/order"
)

// ──────────────────────────────────────────────────
// Order Store
// ──────────────────────────────────────────────────

// CreateOrder persists a new order.
func (m *Store) CreateOrder(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[o.ID]; exists {
		return visapi.ErrOrderAlreadyExists
	}
	m.orders[o.ID] = o.Clone()
	return nil
}

// GetOrder retrieves an order by id.
func (m *Store) GetOrder(_ context.Context, orderID string) (*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, visapi.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// ListOrdersByStage returns orders in stage, oldest first.
func (m *Store) ListOrdersByStage(_ context.Context, stage order.Stage, limit int) ([]*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*order.Order
	for _, o := range m.orders {
		if o.Stage == stage {
			result = append(result, o.Clone())
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return paginate(result, 0, limit), nil
}

// TransitionStage moves an order between stages if it is still in from.
func (m *Store) TransitionStage(_ context.Context, orderID string, from, to order.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return visapi.ErrOrderNotFound
	}
	if o.Stage != from {
		return visapi.ErrStageConflict
	}
	o.Stage = to
	o.Touch()
	return nil
}

// AcquireSyncLock leases the contact-sync gate of an order.
func (m *Store) AcquireSyncLock(_ context.Context, orderID, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return false, visapi.ErrOrderNotFound
	}
	now := time.Now().UTC()
	if o.SyncLockedBy != "" && o.SyncLockedBy != owner &&
		o.SyncLockedUntil != nil && o.SyncLockedUntil.After(now) {
		return false, nil
	}
	until := now.Add(ttl)
	o.SyncLockedBy = owner
	o.SyncLockedUntil = &until
	return true, nil
}

// ReleaseSyncLock drops the lease if owner holds it.
func (m *Store) ReleaseSyncLock(_ context.Context, orderID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return visapi.ErrOrderNotFound
	}
	if o.SyncLockedBy == owner {
		o.SyncLockedBy = ""
		o.SyncLockedUntil = nil
	}
	return nil
}

// MarkSynced records a successful contact sync under the lease.
func (m *Store) MarkSynced(_ context.Context, orderID, owner, contactID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return visapi.ErrOrderNotFound
	}
	if !holdsLease(o, owner) {
		return visapi.ErrSyncLockLost
	}
	o.SyncStatus = order.SyncSynced
	o.SyncError = ""
	o.ContactID = &contactID
	o.ProcessedAt = &at
	o.Touch()
	return nil
}

// MarkSyncFailed records a permanent contact sync failure under the lease.
func (m *Store) MarkSyncFailed(_ context.Context, orderID, owner, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return visapi.ErrOrderNotFound
	}
	if !holdsLease(o, owner) {
		return visapi.ErrSyncLockLost
	}
	if o.SyncStatus == order.SyncSynced {
		return nil
	}
	o.SyncStatus = order.SyncFailed
	o.SyncError = reason
	o.Touch()
	return nil
}

// MarkNotificationSent sets the delivery flag for key.
func (m *Store) MarkNotificationSent(_ context.Context, orderID, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return visapi.ErrOrderNotFound
	}
	if _, sent := o.NotificationsSent[key]; sent {
		return nil
	}
	if o.NotificationsSent == nil {
		o.NotificationsSent = make(map[string]time.Time)
	}
	o.NotificationsSent[key] = at
	o.Touch()
	return nil
}

func holdsLease(o *order.Order, owner string) bool {
	return o.SyncLockedBy == owner &&
		o.SyncLockedUntil != nil && o.SyncLockedUntil.After(time.Now().UTC())
}

// ──────────────────────────────────────────────────
// Message Store
// ──────────────────────────────────────────────────

func cloneMessage(r *message.Record) *message.Record {
	cp := *r
	return &cp
}

// SaveMessage persists a new message record.
func (m *Store) SaveMessage(_ context.Context, r *message.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.byTemp[r.TempID]; dup {
		return visapi.ErrMessageAlreadyExists
	}
	key := r.ID.String()
	m.messages[key] = cloneMessage(r)
	m.byTemp[r.TempID] = key
	if r.ProviderMessageID != "" {
		m.byProv[r.ProviderMessageID] = key
	}
	return nil
}

// AttachProviderID records the provider id for a temp id.
func (m *Store) AttachProviderID(_ context.Context, tempID, providerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.byTemp[tempID]
	if !ok {
		return visapi.ErrMessageNotFound
	}
	r := m.messages[key]
	r.ProviderMessageID = providerID
	m.byProv[providerID] = key
	if r.Status.Advances(message.StatusSent) {
		r.Status = message.StatusSent
		r.Stamp(message.StatusSent, at)
	}
	r.Touch()
	return nil
}

// GetMessageByTempID looks a record up by temp id.
func (m *Store) GetMessageByTempID(_ context.Context, tempID string) (*message.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.byTemp[tempID]
	if !ok {
		return nil, visapi.ErrMessageNotFound
	}
	return cloneMessage(m.messages[key]), nil
}

// GetMessageByProviderID looks a record up by provider id.
func (m *Store) GetMessageByProviderID(_ context.Context, providerID string) (*message.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.byProv[providerID]
	if !ok {
		return nil, visapi.ErrMessageNotFound
	}
	return cloneMessage(m.messages[key]), nil
}

// ListMessagesByOrder returns an order's messages, oldest first.
func (m *Store) ListMessagesByOrder(_ context.Context, orderID string) ([]*message.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*message.Record
	for _, r := range m.messages {
		if r.OrderID == orderID {
			result = append(result, cloneMessage(r))
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// UpdateMessageStatus applies status if it moves the record forward.
func (m *Store) UpdateMessageStatus(_ context.Context, msgID id.MessageID, status message.Status, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.messages[msgID.String()]
	if !ok {
		return false, visapi.ErrMessageNotFound
	}
	if !r.Status.Advances(status) {
		return false, nil
	}
	r.Status = status
	r.Stamp(status, at)
	if status == message.StatusFailed {
		r.Error = reason
	}
	r.Touch()
	return true, nil
}

// PruneMessages deletes records created before the cutoff.
func (m *Store) PruneMessages(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, r := range m.messages {
		if !r.CreatedAt.Before(before) {
			continue
		}
		delete(m.messages, key)
		delete(m.byTemp, r.TempID)
		if r.ProviderMessageID != "" {
			delete(m.byProv, r.ProviderMessageID)
		}
		count++
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Status fan-out
// ──────────────────────────────────────────────────

// PublishStatus delivers u to every subscriber without blocking; a
// subscriber that is not keeping up misses the update.
func (m *Store) PublishStatus(_ context.Context, u message.StatusUpdate) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- u:
		default:
		}
	}
	return nil
}

// SubscribeStatus returns a channel of published status updates. The
// channel is closed when ctx is done or the store is closed.
func (m *Store) SubscribeStatus(ctx context.Context) <-chan message.StatusUpdate {
	ch := make(chan message.StatusUpdate, 16)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()

	go func() {
		<-ctx.Done()
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for i, c := range m.subs {
			if c == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}()
	return ch
}
