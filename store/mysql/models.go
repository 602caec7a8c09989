package mysql

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/message"
	"github.com/VadimVDM/VisAPI-sub006/order"
)

// orderModel is the visapi_orders row.
type orderModel struct {
	ID                string         `gorm:"column:id;primaryKey;type:varchar(64)"`
	BranchCode        string         `gorm:"column:branch_code;type:varchar(16);not null;default:''"`
	CustomerName      string         `gorm:"column:customer_name;type:varchar(255);not null;default:''"`
	CustomerPhone     string         `gorm:"column:customer_phone;type:varchar(32);not null;default:''"`
	CustomerEmail     string         `gorm:"column:customer_email;type:varchar(255);not null;default:''"`
	SyncStatus        string         `gorm:"column:sync_status;type:varchar(16);not null;default:'pending'"`
	SyncError         string         `gorm:"column:sync_error;type:text"`
	ContactID         *string        `gorm:"column:contact_id;type:varchar(64)"`
	Stage             string         `gorm:"column:stage;type:varchar(32);not null;default:'ingested';index:idx_visapi_orders_stage"`
	NotificationsSent datatypes.JSON `gorm:"column:notifications_sent;type:json"`
	ProcessedAt       *time.Time     `gorm:"column:processed_at"`
	SyncLockedBy      *string        `gorm:"column:sync_locked_by;type:varchar(64)"`
	SyncLockedUntil   *time.Time     `gorm:"column:sync_locked_until"`
	CreatedAt         time.Time      `gorm:"column:created_at;not null;index:idx_visapi_orders_stage"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;not null"`
}

func (orderModel) TableName() string { return "visapi_orders" }

// messageModel is the visapi_messages row.
type messageModel struct {
	ID                string     `gorm:"column:id;primaryKey;type:varchar(64)"`
	TempID            string     `gorm:"column:temp_id;type:varchar(128);not null;uniqueIndex:uk_visapi_messages_temp"`
	ProviderMessageID *string    `gorm:"column:provider_message_id;type:varchar(255);uniqueIndex:uk_visapi_messages_provider"`
	OrderID           string     `gorm:"column:order_id;type:varchar(64);not null;index:idx_visapi_messages_order"`
	ContactID         string     `gorm:"column:contact_id;type:varchar(64);not null;default:''"`
	MessageType       string     `gorm:"column:message_type;type:varchar(64);not null"`
	Channel           string     `gorm:"column:channel;type:varchar(16);not null"`
	Recipient         string     `gorm:"column:recipient;type:varchar(255);not null;default:''"`
	Status            string     `gorm:"column:status;type:varchar(16);not null;default:'queued'"`
	CorrelationToken  string     `gorm:"column:correlation_token;type:varchar(512);not null;default:''"`
	Error             string     `gorm:"column:error;type:text"`
	SentAt            *time.Time `gorm:"column:sent_at"`
	DeliveredAt       *time.Time `gorm:"column:delivered_at"`
	ReadAt            *time.Time `gorm:"column:read_at"`
	CreatedAt         time.Time  `gorm:"column:created_at;not null;index:idx_visapi_messages_order;index:idx_visapi_messages_created"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;not null"`
}

func (messageModel) TableName() string { return "visapi_messages" }

func toOrderModel(o *order.Order) (*orderModel, error) {
	sent := o.NotificationsSent
	if sent == nil {
		sent = map[string]time.Time{}
	}
	raw, err := json.Marshal(sent)
	if err != nil {
		return nil, fmt.Errorf("visapi/mysql: marshal notifications: %w", err)
	}
	return &orderModel{
		ID:                o.ID,
		BranchCode:        o.BranchCode,
		CustomerName:      o.CustomerName,
		CustomerPhone:     o.CustomerPhone,
		CustomerEmail:     o.CustomerEmail,
		SyncStatus:        string(o.SyncStatus),
		SyncError:         o.SyncError,
		ContactID:         o.ContactID,
		Stage:             string(o.Stage),
		NotificationsSent: datatypes.JSON(raw),
		ProcessedAt:       o.ProcessedAt,
		SyncLockedBy:      nilIfEmpty(o.SyncLockedBy),
		SyncLockedUntil:   o.SyncLockedUntil,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}, nil
}

func (m *orderModel) toOrder() (*order.Order, error) {
	o := &order.Order{
		Entity:            visapi.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                m.ID,
		BranchCode:        m.BranchCode,
		CustomerName:      m.CustomerName,
		CustomerPhone:     m.CustomerPhone,
		CustomerEmail:     m.CustomerEmail,
		SyncStatus:        order.SyncStatus(m.SyncStatus),
		SyncError:         m.SyncError,
		ContactID:         m.ContactID,
		Stage:             order.Stage(m.Stage),
		NotificationsSent: make(map[string]time.Time),
		ProcessedAt:       m.ProcessedAt,
		SyncLockedUntil:   m.SyncLockedUntil,
	}
	if m.SyncLockedBy != nil {
		o.SyncLockedBy = *m.SyncLockedBy
	}
	if len(m.NotificationsSent) > 0 {
		if err := json.Unmarshal(m.NotificationsSent, &o.NotificationsSent); err != nil {
			return nil, fmt.Errorf("visapi/mysql: unmarshal notifications: %w", err)
		}
	}
	return o, nil
}

func toMessageModel(r *message.Record) *messageModel {
	return &messageModel{
		ID:                r.ID.String(),
		TempID:            r.TempID,
		ProviderMessageID: nilIfEmpty(r.ProviderMessageID),
		OrderID:           r.OrderID,
		ContactID:         r.ContactID,
		MessageType:       r.MessageType,
		Channel:           string(r.Channel),
		Recipient:         r.Recipient,
		Status:            string(r.Status),
		CorrelationToken:  r.CorrelationToken,
		Error:             r.Error,
		SentAt:            r.SentAt,
		DeliveredAt:       r.DeliveredAt,
		ReadAt:            r.ReadAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func (m *messageModel) toRecord() (*message.Record, error) {
	msgID, err := id.ParseMessageID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("visapi/mysql: parse message id %q: %w", m.ID, err)
	}
	r := &message.Record{
		Entity:           visapi.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:               msgID,
		TempID:           m.TempID,
		OrderID:          m.OrderID,
		ContactID:        m.ContactID,
		MessageType:      m.MessageType,
		Channel:          order.Channel(m.Channel),
		Recipient:        m.Recipient,
		Status:           message.Status(m.Status),
		CorrelationToken: m.CorrelationToken,
		Error:            m.Error,
		SentAt:           m.SentAt,
		DeliveredAt:      m.DeliveredAt,
		ReadAt:           m.ReadAt,
	}
	if m.ProviderMessageID != nil {
		r.ProviderMessageID = *m.ProviderMessageID
	}
	return r, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
