// Package message holds the outbound message log: the persisted mapping
// between the temp id issued before a send, the id the provider assigns,
// the owning order and the correlation token carried in the message.
package message

import (
	"time"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/order"
)

// Status is the delivery status reported by the provider.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusFailed || s.rank() >= 0
}

// Advances reports whether moving from s to next is forward progress.
// Callbacks arrive out of order, so a status never moves backwards, and
// failed is only accepted before the provider confirmed delivery.
func (s Status) Advances(next Status) bool {
	if s == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return s == StatusQueued || s == StatusSent
	}
	return next.rank() > s.rank()
}

// ParseStatus maps provider status strings onto Status.
func ParseStatus(raw string) (Status, bool) {
	switch raw {
	case "queued", "accepted", "pending":
		return StatusQueued, true
	case "sent":
		return StatusSent, true
	case "delivered":
		return StatusDelivered, true
	case "read", "seen":
		return StatusRead, true
	case "failed", "undelivered", "error":
		return StatusFailed, true
	}
	return "", false
}

// Record is one outbound message.
type Record struct {
	visapi.Entity

	ID                id.MessageID  `json:"id"`
	TempID            string        `json:"temp_id"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	OrderID           string        `json:"order_id"`
	ContactID         string        `json:"contact_id,omitempty"`
	MessageType       string        `json:"message_type"`
	Channel           order.Channel `json:"channel"`
	Recipient         string        `json:"recipient"`
	Status            Status        `json:"status"`
	CorrelationToken  string        `json:"correlation_token"`
	Error             string        `json:"error,omitempty"`
	SentAt            *time.Time    `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time    `json:"delivered_at,omitempty"`
	ReadAt            *time.Time    `json:"read_at,omitempty"`
}

// Stamp sets the timestamp field matching status.
func (r *Record) Stamp(status Status, at time.Time) {
	switch status {
	case StatusSent:
		r.SentAt = &at
	case StatusDelivered:
		r.DeliveredAt = &at
	case StatusRead:
		r.ReadAt = &at
	}
}

// StatusUpdate is published after a delivery status was applied.
type StatusUpdate struct {
	MessageID         string    `json:"message_id"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	OrderID           string    `json:"order_id"`
	MessageType       string    `json:"message_type"`
	Status            Status    `json:"status"`
	At                time.Time `json:"at"`
}
