package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/correlation"
	"github.com/VadimVDM/VisAPI-sub006/message"
)

// ErrUnknownStatus is returned for a status word no mapping covers.
var ErrUnknownStatus = errors.New("callback: unknown delivery status")

// Notifier fans applied status updates out to interested clients.
type Notifier interface {
	PublishStatus(ctx context.Context, u message.StatusUpdate) error
}

// Result is the outcome of one applied event.
type Result struct {
	MessageID   string         `json:"message_id"`
	OrderID     string         `json:"order_id"`
	MessageType string         `json:"message_type"`
	Status      message.Status `json:"status"`
	// Applied is false when the event was stale and the stored status
	// was already at or past it.
	Applied bool `json:"applied"`
}

// Service applies delivery-status events to the message log.
type Service struct {
	messages message.Store
	notifier Notifier
	logger   *slog.Logger
}

// NewService creates a Service. notifier may be nil.
func NewService(messages message.Store, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{messages: messages, notifier: notifier, logger: logger}
}

// Apply resolves ev to its message and moves the message's status forward.
// It returns visapi.ErrMessageNotFound when neither the token nor the
// provider id identifies a stored message.
func (s *Service) Apply(ctx context.Context, ev Event) (Result, error) {
	status, ok := message.ParseStatus(ev.Status)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownStatus, ev.Status)
	}

	rec, err := s.resolve(ctx, ev)
	if err != nil {
		return Result{}, err
	}

	applied, err := s.messages.UpdateMessageStatus(ctx, rec.ID, status, ev.Reason, ev.At)
	if err != nil {
		return Result{}, fmt.Errorf("update message %s: %w", rec.ID, err)
	}
	res := Result{
		MessageID:   rec.ID.String(),
		OrderID:     rec.OrderID,
		MessageType: rec.MessageType,
		Status:      status,
		Applied:     applied,
	}
	if !applied {
		s.logger.Debug("stale delivery status ignored",
			slog.String("message_id", res.MessageID),
			slog.String("stored", string(rec.Status)),
			slog.String("received", string(status)),
		)
		return res, nil
	}

	s.logger.Info("delivery status applied",
		slog.String("message_id", res.MessageID),
		slog.String("order_id", rec.OrderID),
		slog.String("message_type", rec.MessageType),
		slog.String("status", string(status)),
	)

	if s.notifier != nil {
		u := message.StatusUpdate{
			MessageID:         res.MessageID,
			ProviderMessageID: rec.ProviderMessageID,
			OrderID:           rec.OrderID,
			MessageType:       rec.MessageType,
			Status:            status,
			At:                ev.At,
		}
		if err := s.notifier.PublishStatus(ctx, u); err != nil {
			s.logger.Warn("status fan-out failed",
				slog.String("message_id", res.MessageID),
				slog.String("error", err.Error()),
			)
		}
	}
	return res, nil
}

// ApplyAll applies every event. Events naming an unknown message or
// status are logged and skipped. Any other failure is returned joined
// after the remaining events were tried, so the caller can ask the
// provider to redeliver; reapplying a status is a no-op.
func (s *Service) ApplyAll(ctx context.Context, events []Event) ([]Result, error) {
	var (
		results = make([]Result, 0, len(events))
		errs    []error
	)
	for _, ev := range events {
		res, err := s.Apply(ctx, ev)
		switch {
		case err == nil:
			results = append(results, res)
		case errors.Is(err, visapi.ErrMessageNotFound), errors.Is(err, ErrUnknownStatus):
			s.logger.Warn("delivery status dropped",
				slog.String("provider_message_id", ev.ProviderMessageID),
				slog.String("status", ev.Status),
				slog.String("error", err.Error()),
			)
		default:
			errs = append(errs, fmt.Errorf("apply %s for %s: %w", ev.Status, ev.ProviderMessageID, err))
		}
	}
	return results, errors.Join(errs...)
}

// resolve finds the message an event refers to. A full token names the
// temp id; the provider id covers partial echoes and tokens the provider
// dropped.
func (s *Service) resolve(ctx context.Context, ev Event) (*message.Record, error) {
	if tok := correlation.Decode(ev.Correlation); tok != nil && !tok.Partial {
		rec, err := s.messages.GetMessageByTempID(ctx, tok.TempID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, visapi.ErrMessageNotFound) {
			return nil, err
		}
	}
	if ev.ProviderMessageID == "" {
		return nil, visapi.ErrMessageNotFound
	}
	return s.messages.GetMessageByProviderID(ctx, ev.ProviderMessageID)
}
