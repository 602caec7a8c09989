package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/correlation"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
	"github.com/VadimVDM/VisAPI-sub006/message"
	"github.com/VadimVDM/VisAPI-sub006/order"
	"github.com/VadimVDM/VisAPI-sub006/provider"
	"github.com/VadimVDM/VisAPI-sub006/retry"
)

// MessageSend delivers one notification for an order.
type MessageSend struct {
	OrderID     string            `json:"order_id"`
	Channel     order.Channel     `json:"channel"`
	MessageType string            `json:"message_type"`
	TempID      string            `json:"temp_id"`
	Recipient   string            `json:"recipient,omitempty"`
	Template    string            `json:"template,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
}

// JobType implements job.Payload.
func (MessageSend) JobType() job.Type { return job.TypeMessageSend }

// Notification is the order flag this send sets.
func (p MessageSend) Notification() order.Notification {
	return order.Notification{Channel: p.Channel, MessageType: p.MessageType}
}

// MessageSendResult is recorded on the completed job.
type MessageSendResult struct {
	OrderID           string        `json:"order_id"`
	Channel           order.Channel `json:"channel"`
	MessageType       string        `json:"message_type"`
	TempID            string        `json:"temp_id"`
	ProviderMessageID string        `json:"provider_message_id"`
	// Skipped is set when an earlier attempt already reached the provider.
	Skipped bool `json:"skipped,omitempty"`
}

// MessageSendDefinition returns the message-send job definition.
func (p *Processors) MessageSendDefinition() *job.Definition[MessageSend, MessageSendResult] {
	return job.NewDefinition(p.SendMessage,
		job.WithLane(job.LaneDefault),
		job.WithMaxAttempts(5),
		job.WithTimeout(30*time.Second),
	)
}

// SendMessage is the message-send handler. The message record, with its
// correlation token, is saved before the provider call so that a delivery
// callback arriving right after the send can already be resolved.
func (p *Processors) SendMessage(ctx context.Context, in MessageSend) (MessageSendResult, error) {
	res := MessageSendResult{
		OrderID:     in.OrderID,
		Channel:     in.Channel,
		MessageType: in.MessageType,
		TempID:      in.TempID,
	}
	if in.OrderID == "" || in.TempID == "" || in.MessageType == "" {
		return res, retry.Permanent(errors.New("message send: order id, temp id and message type are required"))
	}
	sender, ok := p.senders[in.Channel]
	if !ok {
		return res, retry.Permanent(fmt.Errorf("message send: no sender for channel %q", in.Channel))
	}

	rec, err := p.messages.GetMessageByTempID(ctx, in.TempID)
	switch {
	case err == nil && reachedProvider(rec):
		// An earlier attempt reached the provider; only the flag may be missing.
		res.ProviderMessageID, res.Skipped = rec.ProviderMessageID, true
		return res, p.markSent(ctx, in)
	case err == nil:
	case errors.Is(err, visapi.ErrMessageNotFound):
		rec, err = p.recordMessage(ctx, in)
		if err != nil {
			return res, err
		}
	default:
		return res, classifyStoreErr(err)
	}

	providerID, err := sender.Send(ctx, provider.Outbound{
		Recipient:   rec.Recipient,
		Template:    templateFor(in),
		Subject:     in.Subject,
		Params:      in.Params,
		MessageType: in.MessageType,
		Correlation: rec.CorrelationToken,
	})
	if errors.Is(err, provider.ErrUnconfirmed) {
		return res, p.acceptUnconfirmed(ctx, in, rec, err)
	}
	if err != nil {
		if retry.IsPermanent(err) {
			if _, upErr := p.messages.UpdateMessageStatus(context.WithoutCancel(ctx), rec.ID, message.StatusFailed, err.Error(), p.now()); upErr != nil {
				p.logger.Warn("record send failure",
					slog.String("temp_id", in.TempID),
					slog.String("error", upErr.Error()),
				)
			}
		}
		return res, fmt.Errorf("send %s via %s: %w", in.MessageType, in.Channel, err)
	}

	// The provider accepted the message; record that even if the attempt
	// deadline passed meanwhile, or the next attempt would send again.
	bctx := context.WithoutCancel(ctx)
	if err := p.messages.AttachProviderID(bctx, in.TempID, providerID, p.now()); err != nil {
		return res, classifyStoreErr(err)
	}
	res.ProviderMessageID = providerID

	p.logger.Info("message sent",
		slog.String("order_id", in.OrderID),
		slog.String("channel", string(in.Channel)),
		slog.String("message_type", in.MessageType),
		slog.String("provider_message_id", providerID),
	)
	return res, p.markSent(bctx, in)
}

// acceptUnconfirmed records a send the provider accepted without a
// readable id. Status callbacks still resolve it through the token.
func (p *Processors) acceptUnconfirmed(ctx context.Context, in MessageSend, rec *message.Record, cause error) error {
	p.logger.Warn("provider accepted message without confirmation",
		slog.String("order_id", in.OrderID),
		slog.String("channel", string(in.Channel)),
		slog.String("temp_id", in.TempID),
		slog.String("error", cause.Error()),
	)
	bctx := context.WithoutCancel(ctx)
	if _, err := p.messages.UpdateMessageStatus(bctx, rec.ID, message.StatusSent, "unconfirmed: "+cause.Error(), p.now()); err != nil {
		return classifyStoreErr(err)
	}
	return p.markSent(bctx, in)
}

// reachedProvider reports whether an earlier attempt already handed rec to
// the provider.
func reachedProvider(rec *message.Record) bool {
	if rec.ProviderMessageID != "" {
		return true
	}
	return rec.Status != message.StatusQueued && rec.Status != message.StatusFailed
}

func (p *Processors) recordMessage(ctx context.Context, in MessageSend) (*message.Record, error) {
	o, err := p.orders.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	contactID := ""
	if o.ContactID != nil {
		contactID = *o.ContactID
	}
	recipient := in.Recipient
	if recipient == "" {
		switch in.Channel {
		case order.ChannelEmail:
			recipient = o.CustomerEmail
		default:
			if v := phoneVariants(o.CustomerPhone); len(v) > 0 {
				recipient = v[0]
			}
		}
	}
	if recipient == "" {
		return nil, retry.Permanent(fmt.Errorf("order %s: no %s recipient", in.OrderID, in.Channel))
	}

	rec := &message.Record{
		Entity:           visapi.NewEntity(),
		ID:               id.NewMessageID(),
		TempID:           in.TempID,
		OrderID:          in.OrderID,
		ContactID:        contactID,
		MessageType:      in.MessageType,
		Channel:          in.Channel,
		Recipient:        recipient,
		Status:           message.StatusQueued,
		CorrelationToken: correlation.Encode(in.OrderID, contactID, in.MessageType, in.TempID),
	}
	if err := p.messages.SaveMessage(ctx, rec); err != nil {
		if errors.Is(err, visapi.ErrMessageAlreadyExists) {
			existing, getErr := p.messages.GetMessageByTempID(ctx, in.TempID)
			if getErr != nil {
				return nil, classifyStoreErr(getErr)
			}
			return existing, nil
		}
		return nil, classifyStoreErr(err)
	}
	return rec, nil
}

func (p *Processors) markSent(ctx context.Context, in MessageSend) error {
	if err := p.orders.MarkNotificationSent(ctx, in.OrderID, in.Notification().Key(), p.now()); err != nil {
		return classifyStoreErr(err)
	}
	return nil
}

func templateFor(in MessageSend) string {
	if in.Template != "" {
		return in.Template
	}
	return in.MessageType
}
