package saga

import "github.com/VadimVDM/VisAPI-sub006/order"

// EventKind is the step outcome that moves an order.
type EventKind string

const (
	// EventOrderCreated starts the saga for a freshly ingested order.
	EventOrderCreated EventKind = "order_created"
	// EventContactSynced reports a successful contact-sync job.
	EventContactSynced EventKind = "contact_synced"
	// EventContactSyncFailed reports a dead-lettered contact-sync job.
	EventContactSyncFailed EventKind = "contact_sync_failed"
	// EventNotificationSent reports a successful message-send job.
	EventNotificationSent EventKind = "notification_sent"
	// EventNotificationFailed reports a dead-lettered message-send job.
	EventNotificationFailed EventKind = "notification_failed"
	// EventResync is an administrative re-drive of the contact sync.
	EventResync EventKind = "resync"
	// EventDispatchFailed reports that the notification jobs of a stored
	// transition could not be enqueued.
	EventDispatchFailed EventKind = "dispatch_failed"
)

// Event is a step outcome for one order.
type Event struct {
	Kind EventKind
	// Notification is set for notification events.
	Notification order.Notification
}

// CommandKind names a job the saga asks to enqueue.
type CommandKind string

const (
	CommandSyncContact      CommandKind = "sync_contact"
	CommandSendNotification CommandKind = "send_notification"
)

// Command is a job to enqueue after a transition is stored.
type Command struct {
	Kind         CommandKind
	Notification order.Notification
}

// Transition computes the next stage of o and the jobs to enqueue for ev.
// required lists the notifications the order must receive. Events that do
// not apply to the current stage leave it unchanged and produce no
// commands, so redelivered or stale events are harmless.
func Transition(o *order.Order, required []order.Notification, ev Event) (order.Stage, []Command) {
	cur := o.Stage
	switch ev.Kind {
	case EventOrderCreated:
		if cur == order.StageIngested {
			return order.StageContactSyncPending, []Command{{Kind: CommandSyncContact}}
		}

	case EventResync:
		switch cur {
		case order.StageIngested, order.StageContactSyncPending,
			order.StageContactSyncFailed, order.StageNotifyFailed:
			return order.StageContactSyncPending, []Command{{Kind: CommandSyncContact}}
		}

	case EventContactSynced:
		switch cur {
		case order.StageIngested, order.StageContactSyncPending, order.StageContactSyncFailed:
			if o.AllSent(required) {
				return order.StageNotified, nil
			}
			var cmds []Command
			for _, n := range required {
				if !o.Sent(n) {
					cmds = append(cmds, Command{Kind: CommandSendNotification, Notification: n})
				}
			}
			return order.StageContactSynced, cmds
		}

	case EventContactSyncFailed:
		if cur == order.StageContactSyncPending {
			return order.StageContactSyncFailed, nil
		}

	case EventNotificationSent:
		switch cur {
		case order.StageContactSynced, order.StageNotifyFailed:
			if o.AllSent(required) {
				return order.StageNotified, nil
			}
		}

	case EventDispatchFailed:
		if cur == order.StageContactSynced {
			return order.StageNotifyFailed, nil
		}

	case EventNotificationFailed:
		if cur == order.StageContactSynced && !o.Sent(ev.Notification) {
			return order.StageNotifyFailed, nil
		}
	}
	return cur, nil
}
