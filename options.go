package visapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// Storer is the minimal store interface held by the Dispatcher.
// It covers lifecycle operations only. Subsystem layers use the full
// composite interface (store.Store).
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Dispatcher is the central coordinator for lane-based job processing.
//
// Create one with New() and functional options, then hand it to
// engine.Build, which wires the pools, the saga, and the dead-letter
// handler and registers them back on the Dispatcher.
type Dispatcher struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Dispatcher with the given options.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Store returns the dispatcher's store.
func (d *Dispatcher) Store() Storer { return d.store }

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() Config {
	cfg := d.config
	cfg.Lanes = make(map[string]int, len(d.config.Lanes))
	for k, v := range d.config.Lanes {
		cfg.Lanes[k] = v
	}
	return cfg
}

// SetPool sets the worker pool (called by the engine package).
func (d *Dispatcher) SetPool(p poolRunner) { d.pool = p }

// SetExtensions sets the extension emitter (called by the engine package).
func (d *Dispatcher) SetExtensions(e extensionEmitter) { d.extensions = e }

// Start begins job processing.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.pool == nil {
		return ErrNoStore
	}
	if err := d.pool.Start(ctx); err != nil {
		return err
	}
	d.started = true
	return nil
}

// Stop drains in-flight jobs and shuts the dispatcher down. When ctx has
// no deadline the configured ShutdownTimeout bounds the drain.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && d.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ShutdownTimeout)
		defer cancel()
	}
	if d.pool != nil && d.started {
		if err := d.pool.Stop(ctx); err != nil {
			d.logger.Error("pool stop error", slog.String("error", err.Error()))
		}
		d.started = false
	}
	if d.extensions != nil {
		d.extensions.EmitShutdown(ctx)
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// WithLaneConcurrency sets the concurrency limit of a single lane.
func WithLaneConcurrency(lane string, n int) Option {
	return func(d *Dispatcher) error {
		if n <= 0 {
			return fmt.Errorf("visapi: lane %q concurrency must be positive, got %d", lane, n)
		}
		if d.config.Lanes == nil {
			d.config.Lanes = make(map[string]int)
		}
		d.config.Lanes[lane] = n
		return nil
	}
}

// WithConfig replaces the whole dispatcher configuration.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) error {
		d.config = cfg
		return nil
	}
}

// WithPollInterval sets how often idle workers poll their lane.
func WithPollInterval(p time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.PollInterval = p
		return nil
	}
}

// WithShutdownTimeout bounds the graceful drain performed by Stop.
func WithShutdownTimeout(t time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.ShutdownTimeout = t
		return nil
	}
}

// WithJobTimeout sets the default per-attempt execution deadline.
func WithJobTimeout(t time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.JobTimeout = t
		return nil
	}
}

// WithMaxAttempts sets the default attempt budget.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) error {
		if n < 1 {
			return fmt.Errorf("visapi: max attempts must be at least 1, got %d", n)
		}
		d.config.MaxAttempts = n
		return nil
	}
}

// WithLogger sets the structured logger for the dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the dispatcher.
func WithStore(s Storer) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}
