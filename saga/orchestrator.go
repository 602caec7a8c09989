package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/ext"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
	"github.com/VadimVDM/VisAPI-sub006/order"
	"github.com/VadimVDM/VisAPI-sub006/processor"
)

// EnqueueFunc places a typed payload in its lane. The engine provides the
// implementation; opts override the payload type's registered defaults.
type EnqueueFunc func(ctx context.Context, p job.Payload, opts ...job.Option) (id.JobID, error)

// Template is the provider template used for one notification.
type Template struct {
	Name    string
	Subject string
}

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Orchestrator)(nil)
	_ ext.JobCompleted = (*Orchestrator)(nil)
	_ ext.JobDLQ       = (*Orchestrator)(nil)
)

// maxConflicts bounds how often a transition is recomputed when the stage
// changed between read and write.
const maxConflicts = 5

// Orchestrator applies saga transitions. Register it as an extension so
// job completions and dead-letters reach it.
type Orchestrator struct {
	orders    order.Store
	enqueue   EnqueueFunc
	required  []order.Notification
	templates map[string]Template
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRequiredNotifications sets the notifications every order must receive.
func WithRequiredNotifications(ns ...order.Notification) Option {
	return func(o *Orchestrator) { o.required = ns }
}

// WithTemplate sets the provider template for a notification.
func WithTemplate(n order.Notification, t Template) Option {
	return func(o *Orchestrator) { o.templates[n.Key()] = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// DefaultNotifications is an order confirmation on both channels.
func DefaultNotifications() []order.Notification {
	return []order.Notification{
		{Channel: order.ChannelWhatsApp, MessageType: order.MessageOrderConfirmation},
		{Channel: order.ChannelEmail, MessageType: order.MessageOrderConfirmation},
	}
}

// New creates an Orchestrator.
func New(orders order.Store, enqueue EnqueueFunc, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		orders:    orders,
		enqueue:   enqueue,
		required:  DefaultNotifications(),
		templates: make(map[string]Template),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name implements ext.Extension.
func (s *Orchestrator) Name() string { return "saga" }

// Required returns the notifications every order must receive.
func (s *Orchestrator) Required() []order.Notification { return s.required }

// Ingest stores a new order and starts its saga. Ingesting an order id
// that already exists returns the stored order without starting again.
func (s *Orchestrator) Ingest(ctx context.Context, o *order.Order) (*order.Order, error) {
	if err := s.orders.CreateOrder(ctx, o); err != nil {
		if errors.Is(err, visapi.ErrOrderAlreadyExists) {
			return s.orders.GetOrder(ctx, o.ID)
		}
		return nil, fmt.Errorf("create order %s: %w", o.ID, err)
	}
	if err := s.apply(ctx, o.ID, Event{Kind: EventOrderCreated}); err != nil {
		return nil, err
	}
	return s.orders.GetOrder(ctx, o.ID)
}

// Resync re-drives an order's contact sync. It reports false when the
// order's stage does not allow a re-drive.
func (s *Orchestrator) Resync(ctx context.Context, orderID string, opts ...job.Option) (bool, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if _, cmds := Transition(o, s.required, Event{Kind: EventResync}); len(cmds) == 0 {
		return false, nil
	}
	if err := s.apply(ctx, orderID, Event{Kind: EventResync}, opts...); err != nil {
		return false, err
	}
	return true, nil
}

// ResyncMany re-drives several orders on the bulk lane. The i-th order's
// contact sync is delayed by i × interval so a backlog does not burst the
// contact platform. It returns the number of orders re-driven.
func (s *Orchestrator) ResyncMany(ctx context.Context, orderIDs []string, interval time.Duration) (int, error) {
	var (
		n    int
		errs []error
	)
	for i, orderID := range orderIDs {
		ok, err := s.Resync(ctx, orderID,
			job.WithLane(job.LaneBulk),
			job.WithDelay(time.Duration(i)*interval),
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("resync %s: %w", orderID, err))
			continue
		}
		if ok {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// OnJobCompleted implements ext.JobCompleted.
func (s *Orchestrator) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	switch j.Type {
	case job.TypeContactSync:
		var p processor.ContactSync
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", j.Type, err)
		}
		return s.apply(ctx, p.OrderID, Event{Kind: EventContactSynced})
	case job.TypeMessageSend:
		var p processor.MessageSend
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", j.Type, err)
		}
		return s.apply(ctx, p.OrderID, Event{Kind: EventNotificationSent, Notification: p.Notification()})
	}
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (s *Orchestrator) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	switch j.Type {
	case job.TypeContactSync:
		var p processor.ContactSync
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", j.Type, err)
		}
		return s.apply(ctx, p.OrderID, Event{Kind: EventContactSyncFailed})
	case job.TypeMessageSend:
		var p processor.MessageSend
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", j.Type, err)
		}
		return s.apply(ctx, p.OrderID, Event{Kind: EventNotificationFailed, Notification: p.Notification()})
	}
	return nil
}

// apply stores the transition for ev and then enqueues its commands. A
// concurrent stage change makes it reload and recompute.
func (s *Orchestrator) apply(ctx context.Context, orderID string, ev Event, opts ...job.Option) error {
	for range maxConflicts {
		o, err := s.orders.GetOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load order %s: %w", orderID, err)
		}

		next, cmds := Transition(o, s.required, ev)
		if next != o.Stage {
			err := s.orders.TransitionStage(ctx, orderID, o.Stage, next)
			if errors.Is(err, visapi.ErrStageConflict) {
				continue
			}
			if err != nil {
				return fmt.Errorf("order %s %s -> %s: %w", orderID, o.Stage, next, err)
			}
			s.logger.Info("order stage changed",
				slog.String("order_id", orderID),
				slog.String("event", string(ev.Kind)),
				slog.String("from", string(o.Stage)),
				slog.String("to", string(next)),
			)
		}
		if err := s.run(ctx, o, cmds, opts); err != nil {
			if next == order.StageContactSynced {
				s.releaseStage(ctx, orderID, err)
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("order %s: %w", orderID, visapi.ErrStageConflict)
}

// releaseStage moves an order whose notification jobs could not be
// enqueued to notify_failed, where a re-drive picks it up again.
func (s *Orchestrator) releaseStage(ctx context.Context, orderID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	o, err := s.orders.GetOrder(ctx, orderID)
	if err == nil {
		next, _ := Transition(o, s.required, Event{Kind: EventDispatchFailed})
		if next == o.Stage {
			return
		}
		err = s.orders.TransitionStage(ctx, orderID, o.Stage, next)
	}
	if err != nil && !errors.Is(err, visapi.ErrStageConflict) {
		s.logger.Error("release order stage",
			slog.String("order_id", orderID),
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Warn("notification dispatch failed",
		slog.String("order_id", orderID),
		slog.String("error", cause.Error()),
	)
}

func (s *Orchestrator) run(ctx context.Context, o *order.Order, cmds []Command, opts []job.Option) error {
	var errs []error
	for _, c := range cmds {
		var (
			jobID id.JobID
			err   error
		)
		switch c.Kind {
		case CommandSyncContact:
			jobID, err = s.enqueue(ctx, processor.ContactSync{OrderID: o.ID}, opts...)
		case CommandSendNotification:
			jobID, err = s.enqueue(ctx, s.messageFor(o, c.Notification), opts...)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s for order %s: %w", c.Kind, o.ID, err))
			continue
		}
		s.logger.Debug("saga command enqueued",
			slog.String("order_id", o.ID),
			slog.String("command", string(c.Kind)),
			slog.String("job_id", jobID.String()),
		)
	}
	return errors.Join(errs...)
}

func (s *Orchestrator) messageFor(o *order.Order, n order.Notification) processor.MessageSend {
	t := s.templates[n.Key()]
	return processor.MessageSend{
		OrderID:     o.ID,
		Channel:     n.Channel,
		MessageType: n.MessageType,
		TempID:      uuid.NewString(),
		Template:    t.Name,
		Subject:     t.Subject,
		Params: map[string]string{
			"order_id":      o.ID,
			"customer_name": o.CustomerName,
			"branch_code":   o.BranchCode,
		},
	}
}
