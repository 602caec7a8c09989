package store

import (
	"context"

	"github.com/VadimVDM/VisAPI-sub006/cron"
	"github.com/VadimVDM/VisAPI-sub006/dlq"
	"github.com/VadimVDM/VisAPI-sub006/job"
	"github.com/VadimVDM/VisAPI-sub006/message"
	"github.com/VadimVDM/VisAPI-sub006/order"
)

// Lifecycle covers connection management shared by every backend.
type Lifecycle interface {
	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the backend connection.
	Close() error
}

// Queue is the job backing store: lanes, cron entries and dead letters.
type Queue interface {
	job.Store
	cron.Store
	dlq.Store
	Lifecycle
}

// Records is the order and message-log store.
type Records interface {
	order.Store
	message.Store
	Lifecycle
}

// Store is implemented by backends that hold everything.
type Store interface {
	Queue
	Records
}

// Combined joins a Queue and a Records backend into one lifecycle unit.
type Combined struct {
	Queue
	Records
}

// Migrate runs both backends' migrations.
func (c Combined) Migrate(ctx context.Context) error {
	if err := c.Queue.Migrate(ctx); err != nil {
		return err
	}
	return c.Records.Migrate(ctx)
}

// Ping checks both backends.
func (c Combined) Ping(ctx context.Context) error {
	if err := c.Queue.Ping(ctx); err != nil {
		return err
	}
	return c.Records.Ping(ctx)
}

// Close closes both backends, returning the first error.
func (c Combined) Close() error {
	qerr := c.Queue.Close()
	rerr := c.Records.Close()
	if qerr != nil {
		return qerr
	}
	return rerr
}
