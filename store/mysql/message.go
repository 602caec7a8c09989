package mysql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/message"
)

// SaveMessage persists a new message record.
func (s *Store) SaveMessage(ctx context.Context, r *message.Record) error {
	if err := s.db.WithContext(ctx).Create(toMessageModel(r)).Error; err != nil {
		if isDuplicateKey(err) {
			return visapi.ErrMessageAlreadyExists
		}
		return fmt.Errorf("visapi/mysql: save message: %w", err)
	}
	return nil
}

// AttachProviderID records the provider id for a temp id and moves the
// record to sent unless a later status already landed.
func (s *Store) AttachProviderID(ctx context.Context, tempID, providerID string, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := lockMessage(tx, "temp_id = ?", tempID)
		if err != nil {
			return err
		}

		r.ProviderMessageID = providerID
		if r.Status.Advances(message.StatusSent) {
			r.Status = message.StatusSent
			r.Stamp(message.StatusSent, at)
		}
		return tx.Model(&messageModel{}).Where("id = ?", r.ID.String()).Updates(map[string]any{
			"provider_message_id": providerID,
			"status":              string(r.Status),
			"sent_at":             r.SentAt,
			"updated_at":          time.Now().UTC(),
		}).Error
	})
}

// GetMessageByTempID looks a record up by temp id.
func (s *Store) GetMessageByTempID(ctx context.Context, tempID string) (*message.Record, error) {
	return s.getMessage(ctx, "temp_id = ?", tempID)
}

// GetMessageByProviderID looks a record up by provider id.
func (s *Store) GetMessageByProviderID(ctx context.Context, providerID string) (*message.Record, error) {
	return s.getMessage(ctx, "provider_message_id = ?", providerID)
}

// ListMessagesByOrder returns an order's messages, oldest first.
func (s *Store) ListMessagesByOrder(ctx context.Context, orderID string) ([]*message.Record, error) {
	var rows []messageModel
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("visapi/mysql: list messages: %w", err)
	}
	records := make([]*message.Record, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// UpdateMessageStatus applies status under a row lock if it moves the
// record forward.
func (s *Store) UpdateMessageStatus(ctx context.Context, msgID id.MessageID, status message.Status, reason string, at time.Time) (bool, error) {
	var applied bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := lockMessage(tx, "id = ?", msgID.String())
		if err != nil {
			return err
		}
		if !r.Status.Advances(status) {
			return nil
		}

		r.Status = status
		r.Stamp(status, at)
		if status == message.StatusFailed {
			r.Error = reason
		}
		if err := tx.Model(&messageModel{}).Where("id = ?", r.ID.String()).Updates(map[string]any{
			"status":       string(r.Status),
			"error":        r.Error,
			"sent_at":      r.SentAt,
			"delivered_at": r.DeliveredAt,
			"read_at":      r.ReadAt,
			"updated_at":   time.Now().UTC(),
		}).Error; err != nil {
			return fmt.Errorf("visapi/mysql: update message status: %w", err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// PruneMessages deletes records created before the cutoff.
func (s *Store) PruneMessages(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&messageModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("visapi/mysql: prune messages: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) getMessage(ctx context.Context, where string, arg string) (*message.Record, error) {
	var m messageModel
	if err := s.db.WithContext(ctx).Where(where, arg).First(&m).Error; err != nil {
		if isNotFound(err) {
			return nil, visapi.ErrMessageNotFound
		}
		return nil, fmt.Errorf("visapi/mysql: get message: %w", err)
	}
	return m.toRecord()
}

func lockMessage(tx *gorm.DB, where string, arg string) (*message.Record, error) {
	var m messageModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(where, arg).First(&m).Error; err != nil {
		if isNotFound(err) {
			return nil, visapi.ErrMessageNotFound
		}
		return nil, fmt.Errorf("visapi/mysql: load message: %w", err)
	}
	return m.toRecord()
}
