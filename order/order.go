package order

import (
	"time"

	visapi "github.com/VadimVDM/VisAPI-sub006"
)

// SyncStatus is the contact-platform synchronization state of an order.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// Stage is the saga stage of an order.
type Stage string

const (
	StageIngested           Stage = "ingested"
	StageContactSyncPending Stage = "contact_sync_pending"
	StageContactSynced      Stage = "contact_synced"
	StageNotified           Stage = "notified"
	StageContactSyncFailed  Stage = "contact_sync_failed"
	StageNotifyFailed       Stage = "notify_failed"
)

// Terminal reports whether the saga has nothing left to do for the order.
// Failure stages are retryable and therefore not terminal.
func (s Stage) Terminal() bool { return s == StageNotified }

// Channel is an outbound notification transport.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// Message types are business labels carried in correlation tokens.
const (
	MessageOrderConfirmation = "order_confirmation"
	MessageVisaApproval      = "visa_approval"
	MessageStatusUpdate      = "status_update"
)

// Notification identifies one required outbound message for an order.
type Notification struct {
	Channel     Channel `json:"channel" mapstructure:"channel"`
	MessageType string  `json:"message_type" mapstructure:"message_type"`
}

// Key is the flag key under which delivery of n is recorded.
func (n Notification) Key() string {
	return string(n.Channel) + ":" + n.MessageType
}

// Order is the subset of the order aggregate owned by the core.
type Order struct {
	visapi.Entity

	ID            string `json:"id"`
	BranchCode    string `json:"branch_code"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	CustomerEmail string `json:"customer_email,omitempty"`

	SyncStatus SyncStatus `json:"sync_status"`
	SyncError  string     `json:"sync_error,omitempty"`
	ContactID  *string    `json:"contact_id,omitempty"`
	Stage      Stage      `json:"stage"`

	// NotificationsSent maps Notification.Key to the time it was sent.
	NotificationsSent map[string]time.Time `json:"notifications_sent,omitempty"`

	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	SyncLockedBy    string     `json:"-"`
	SyncLockedUntil *time.Time `json:"-"`
}

// New returns an order freshly ingested, pending contact sync.
func New(orderID, branchCode, name, phone, email string) *Order {
	return &Order{
		Entity:            visapi.NewEntity(),
		ID:                orderID,
		BranchCode:        branchCode,
		CustomerName:      name,
		CustomerPhone:     phone,
		CustomerEmail:     email,
		SyncStatus:        SyncPending,
		Stage:             StageIngested,
		NotificationsSent: make(map[string]time.Time),
	}
}

// Synced reports whether the contact sync already succeeded.
func (o *Order) Synced() bool {
	return o.SyncStatus == SyncSynced && o.ContactID != nil && *o.ContactID != ""
}

// Sent reports whether n was already delivered to the provider.
func (o *Order) Sent(n Notification) bool {
	_, ok := o.NotificationsSent[n.Key()]
	return ok
}

// AllSent reports whether every notification in required was sent.
func (o *Order) AllSent(required []Notification) bool {
	for _, n := range required {
		if !o.Sent(n) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of o.
func (o *Order) Clone() *Order {
	cp := *o
	if o.ContactID != nil {
		c := *o.ContactID
		cp.ContactID = &c
	}
	cp.NotificationsSent = make(map[string]time.Time, len(o.NotificationsSent))
	for k, v := range o.NotificationsSent {
		cp.NotificationsSent[k] = v
	}
	return &cp
}
