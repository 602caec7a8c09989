package message

import (
	"context"
	"time"

	"github.com/VadimVDM/VisAPI-sub006/id"
)

// Store defines the persistence contract for the message log.
type Store interface {
	// SaveMessage persists a new record. Returns
	// visapi.ErrMessageAlreadyExists when the temp id is taken.
	SaveMessage(ctx context.Context, r *Record) error

	// AttachProviderID records the provider-assigned id for a temp id and
	// marks the message sent.
	AttachProviderID(ctx context.Context, tempID, providerID string, at time.Time) error

	// GetMessageByTempID looks a record up by its locally issued temp id.
	GetMessageByTempID(ctx context.Context, tempID string) (*Record, error)

	// GetMessageByProviderID looks a record up by the provider's id.
	GetMessageByProviderID(ctx context.Context, providerID string) (*Record, error)

	// ListMessagesByOrder returns the order's messages, oldest first.
	ListMessagesByOrder(ctx context.Context, orderID string) ([]*Record, error)

	// UpdateMessageStatus applies status if it advances the stored one and
	// reports whether it did.
	UpdateMessageStatus(ctx context.Context, msgID id.MessageID, status Status, reason string, at time.Time) (bool, error)

	// PruneMessages deletes records created before the cutoff and returns
	// the number deleted.
	PruneMessages(ctx context.Context, before time.Time) (int64, error)
}
