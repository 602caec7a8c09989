package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/message"
	"github.com/VadimVDM/VisAPI-sub006/order"
)

const messageColumns = `
	id, temp_id, provider_message_id, order_id, contact_id, message_type,
	channel, recipient, status, correlation_token, error,
	sent_at, delivered_at, read_at, created_at, updated_at`

// SaveMessage persists a new message record.
func (s *Store) SaveMessage(ctx context.Context, r *message.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO visapi_messages (`+messageColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.ID.String(), r.TempID, nilIfEmpty(r.ProviderMessageID), r.OrderID, r.ContactID, r.MessageType,
		string(r.Channel), r.Recipient, string(r.Status), r.CorrelationToken, r.Error,
		r.SentAt, r.DeliveredAt, r.ReadAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return visapi.ErrMessageAlreadyExists
		}
		return fmt.Errorf("visapi/postgres: save message: %w", err)
	}
	return nil
}

// AttachProviderID records the provider id for a temp id and moves the
// record to sent unless a later status already landed.
func (s *Store) AttachProviderID(ctx context.Context, tempID, providerID string, at time.Time) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		r, err := scanMessage(tx.QueryRow(ctx,
			`SELECT `+messageColumns+` FROM visapi_messages WHERE temp_id = $1 FOR UPDATE`, tempID))
		if err != nil {
			if isNoRows(err) {
				return visapi.ErrMessageNotFound
			}
			return fmt.Errorf("visapi/postgres: attach provider id: %w", err)
		}

		r.ProviderMessageID = providerID
		if r.Status.Advances(message.StatusSent) {
			r.Status = message.StatusSent
			r.Stamp(message.StatusSent, at)
		}
		_, err = tx.Exec(ctx, `
			UPDATE visapi_messages
			SET provider_message_id = $2, status = $3, sent_at = $4, updated_at = NOW()
			WHERE id = $1`,
			r.ID.String(), providerID, string(r.Status), r.SentAt,
		)
		if err != nil {
			return fmt.Errorf("visapi/postgres: attach provider id: %w", err)
		}
		return nil
	})
}

// GetMessageByTempID looks a record up by temp id.
func (s *Store) GetMessageByTempID(ctx context.Context, tempID string) (*message.Record, error) {
	return s.getMessage(ctx, "temp_id", tempID)
}

// GetMessageByProviderID looks a record up by provider id.
func (s *Store) GetMessageByProviderID(ctx context.Context, providerID string) (*message.Record, error) {
	return s.getMessage(ctx, "provider_message_id", providerID)
}

// ListMessagesByOrder returns an order's messages, oldest first.
func (s *Store) ListMessagesByOrder(ctx context.Context, orderID string) ([]*message.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM visapi_messages WHERE order_id = $1 ORDER BY created_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("visapi/postgres: list messages: %w", err)
	}
	defer rows.Close()

	var records []*message.Record
	for rows.Next() {
		r, scanErr := scanMessage(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("visapi/postgres: scan message row: %w", scanErr)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("visapi/postgres: iterate message rows: %w", err)
	}
	return records, nil
}

// UpdateMessageStatus applies status under a row lock if it moves the
// record forward.
func (s *Store) UpdateMessageStatus(ctx context.Context, msgID id.MessageID, status message.Status, reason string, at time.Time) (bool, error) {
	var applied bool
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		r, err := scanMessage(tx.QueryRow(ctx,
			`SELECT `+messageColumns+` FROM visapi_messages WHERE id = $1 FOR UPDATE`, msgID.String()))
		if err != nil {
			if isNoRows(err) {
				return visapi.ErrMessageNotFound
			}
			return fmt.Errorf("visapi/postgres: load message: %w", err)
		}
		if !r.Status.Advances(status) {
			return nil
		}

		r.Status = status
		r.Stamp(status, at)
		if status == message.StatusFailed {
			r.Error = reason
		}
		_, err = tx.Exec(ctx, `
			UPDATE visapi_messages
			SET status = $2, error = $3, sent_at = $4, delivered_at = $5, read_at = $6, updated_at = NOW()
			WHERE id = $1`,
			r.ID.String(), string(r.Status), r.Error, r.SentAt, r.DeliveredAt, r.ReadAt,
		)
		if err != nil {
			return fmt.Errorf("visapi/postgres: update message status: %w", err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// PruneMessages deletes records created before the cutoff.
func (s *Store) PruneMessages(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM visapi_messages WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("visapi/postgres: prune messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) getMessage(ctx context.Context, column, value string) (*message.Record, error) {
	r, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM visapi_messages WHERE `+column+` = $1`, value))
	if err != nil {
		if isNoRows(err) {
			return nil, visapi.ErrMessageNotFound
		}
		return nil, fmt.Errorf("visapi/postgres: get message: %w", err)
	}
	return r, nil
}

// scanMessage scans a single message row.
func scanMessage(row pgx.Row) (*message.Record, error) {
	var (
		r          message.Record
		idStr      string
		providerID *string
		channel    string
		status     string
	)
	err := row.Scan(
		&idStr, &r.TempID, &providerID, &r.OrderID, &r.ContactID, &r.MessageType,
		&channel, &r.Recipient, &status, &r.CorrelationToken, &r.Error,
		&r.SentAt, &r.DeliveredAt, &r.ReadAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseMessageID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("visapi/postgres: parse message id %q: %w", idStr, parseErr)
	}
	r.ID = parsedID
	r.Channel = order.Channel(channel)
	r.Status = message.Status(status)
	if providerID != nil {
		r.ProviderMessageID = *providerID
	}
	return &r, nil
}
