package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/backoff"
	"github.com/VadimVDM/VisAPI-sub006/cron"
	"github.com/VadimVDM/VisAPI-sub006/dlq"
	"github.com/VadimVDM/VisAPI-sub006/ext"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
	mw "github.com/VadimVDM/VisAPI-sub006/middleware"
	"github.com/VadimVDM/VisAPI-sub006/observability"
	"github.com/VadimVDM/VisAPI-sub006/order"
	"github.com/VadimVDM/VisAPI-sub006/processor"
	"github.com/VadimVDM/VisAPI-sub006/queue"
	"github.com/VadimVDM/VisAPI-sub006/retry"
	"github.com/VadimVDM/VisAPI-sub006/saga"
	"github.com/VadimVDM/VisAPI-sub006/worker"
)

const instrumentationName = "github.com/VadimVDM/VisAPI-sub006"

// Engine wraps a Dispatcher with typed subsystem access.
// Use Build() to create one from a Dispatcher.
type Engine struct {
	d          *visapi.Dispatcher
	config     visapi.Config
	extensions *ext.Registry
	registry   *job.Registry
	jobStore   job.Store
	dlqService *dlq.Service
	bo         backoff.Strategy
	pools      []*worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	// Cron subsystem.
	cronStore cron.Store
	scheduler *cron.Scheduler
	cronOpts  []cron.SchedulerOption

	// Lane limits and per-key exclusion shared by every pool.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// Saga; nil when the store holds no orders.
	saga     *saga.Orchestrator
	sagaOpts []saga.Option

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithQueueConfig registers lane-level rate limits and concurrency caps.
// Lanes not listed have no limits beyond their pool size.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithCronOptions passes options to the cron scheduler.
func WithCronOptions(opts ...cron.SchedulerOption) Option {
	return func(eng *Engine) {
		eng.cronOpts = append(eng.cronOpts, opts...)
	}
}

// WithSaga passes options to the order saga orchestrator.
func WithSaga(opts ...saga.Option) Option {
	return func(eng *Engine) {
		eng.sagaOpts = append(eng.sagaOpts, opts...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Dispatcher.
// The Dispatcher's store must implement job.Store, dlq.Store and
// cron.Store. When it also implements order.Store the saga is wired.
func Build(d *visapi.Dispatcher, opts ...Option) (*Engine, error) {
	logger := d.Logger()
	store := d.Store()

	if store == nil {
		return nil, visapi.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, errors.New("visapi: store does not implement job.Store")
	}
	ds, ok := store.(dlq.Store)
	if !ok {
		return nil, errors.New("visapi: store does not implement dlq.Store")
	}
	cs, ok := store.(cron.Store)
	if !ok {
		return nil, errors.New("visapi: store does not implement cron.Store")
	}

	eng := &Engine{
		d:          d,
		config:     d.Config(),
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		jobStore:   js,
		cronStore:  cs,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	eng.dlqService = dlq.NewService(ds, js, logger)

	// Build tracing middleware (custom provider or global).
	tracingMw := mw.Tracing()
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	}

	// Build metrics middleware and the lifecycle metrics extension.
	metricsMw := mw.Metrics()
	obsExt := observability.NewMetricsExtension()
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	}
	eng.extensions.Register(obsExt)

	// Saga hooks observe completions and dead-letters of its own jobs.
	if orders, ok := store.(order.Store); ok {
		eng.saga = saga.New(orders, eng.EnqueuePayload, append([]saga.Option{saga.WithLogger(logger)}, eng.sagaOpts...)...)
		eng.extensions.Register(eng.saga)
	}

	// Default middleware stack: recover → tracing → metrics → logging → attempt → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Attempt(),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.registry, eng.extensions, eng.jobStore, eng.dlqService,
		retry.NewPolicy(eng.bo), logger, allMws...)

	// One pool per lane; every pool shares the lane gate.
	eng.queueManager = queue.NewManager(eng.queueConfigs...)
	lanes := make([]job.Lane, 0, len(eng.config.Lanes))
	for name := range eng.config.Lanes {
		lane, err := job.ParseLane(name)
		if err != nil {
			return nil, fmt.Errorf("lane %q: %w", name, err)
		}
		lanes = append(lanes, lane)
	}
	if len(lanes) == 0 {
		return nil, fmt.Errorf("visapi: no lanes configured: %w", visapi.ErrUnknownLane)
	}
	slices.SortFunc(lanes, func(a, b job.Lane) int { return b.Priority() - a.Priority() })

	for _, lane := range lanes {
		eng.pools = append(eng.pools, worker.NewPool(
			eng.jobStore,
			executor,
			eng.extensions,
			logger,
			worker.WithPoolLanes(lane),
			worker.WithPoolConcurrency(eng.config.Lanes[string(lane)]),
			worker.WithPollInterval(eng.config.PollInterval),
			worker.WithHeartbeatInterval(eng.config.HeartbeatInterval),
			worker.WithStaleJobThreshold(eng.config.StaleJobThreshold),
			worker.WithLaneGate(eng.queueManager),
		))
	}

	// Wire back into the Dispatcher.
	d.SetPool(&poolGroup{pools: eng.pools, logger: logger})
	d.SetExtensions(eng.extensions)

	enqueueFunc := func(ctx context.Context, t job.Type, payload []byte, opts ...job.Option) (id.JobID, error) {
		j, err := eng.EnqueueRaw(ctx, t, payload, opts...)
		if err != nil {
			return id.Nil, err
		}
		return j.ID, nil
	}
	eng.scheduler = cron.NewScheduler(cs, enqueueFunc, eng.extensions, eng.pools[0].WorkerID(), logger, eng.cronOpts...)

	return eng, nil
}

// poolGroup runs the per-lane pools as one unit for the Dispatcher.
type poolGroup struct {
	pools  []*worker.Pool
	logger *slog.Logger
}

func (g *poolGroup) Start(ctx context.Context) error {
	for _, p := range g.pools {
		if err := p.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop drains every lane concurrently under the same deadline.
func (g *poolGroup) Stop(ctx context.Context) error {
	var eg errgroup.Group
	for _, p := range g.pools {
		eg.Go(func() error { return p.Stop(ctx) })
	}
	return eg.Wait()
}

// Register registers a typed job definition with the engine.
func Register[T job.Payload, R any](eng *Engine, def *job.Definition[T, R]) {
	job.RegisterDefinition(eng.registry, def)
}

// RegisterProcessors registers every processor handler.
func RegisterProcessors(eng *Engine, p *processor.Processors) {
	Register(eng, p.ContactSyncDefinition())
	Register(eng, p.MessageSendDefinition())
	Register(eng, p.DocumentScrapeDefinition())
	Register(eng, p.LogPruneDefinition())
}

// Enqueue creates and enqueues a job for a typed payload.
func Enqueue[T job.Payload](ctx context.Context, eng *Engine, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", payload.JobType(), err)
	}
	if k, ok := any(payload).(job.Keyed); ok {
		opts = append([]job.Option{job.WithKey(k.JobKey())}, opts...)
	}
	return eng.EnqueueRaw(ctx, payload.JobType(), data, opts...)
}

// EnqueuePayload is Enqueue for callers holding a job.Payload interface
// value. It satisfies saga.EnqueueFunc.
func (eng *Engine) EnqueuePayload(ctx context.Context, p job.Payload, opts ...job.Option) (id.JobID, error) {
	j, err := Enqueue(ctx, eng, p, opts...)
	if err != nil {
		return id.Nil, err
	}
	return j.ID, nil
}

// EnqueueRaw enqueues a job with a pre-serialized payload. The type's
// registered defaults apply first, then opts. Unknown types and lanes are
// rejected before anything is stored.
func (eng *Engine) EnqueueRaw(ctx context.Context, t job.Type, payload []byte, opts ...job.Option) (*job.Job, error) {
	jobOpts, ok := eng.registry.Options(t)
	if !ok {
		return nil, fmt.Errorf("%w: %q", visapi.ErrUnknownJobType, t)
	}
	for _, opt := range opts {
		opt(&jobOpts)
	}
	if !jobOpts.Lane.Valid() {
		return nil, fmt.Errorf("%w: %q", visapi.ErrUnknownLane, jobOpts.Lane)
	}
	if jobOpts.MaxAttempts <= 0 {
		jobOpts.MaxAttempts = eng.config.MaxAttempts
	}
	if jobOpts.Timeout <= 0 {
		jobOpts.Timeout = eng.config.JobTimeout
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      visapi.NewEntity(),
		ID:          id.NewJobID(),
		Type:        t,
		Lane:        jobOpts.Lane,
		Key:         jobOpts.Key,
		Payload:     payload,
		State:       job.StateWaiting,
		Priority:    jobOpts.Lane.Priority(),
		MaxAttempts: jobOpts.MaxAttempts,
		Timeout:     jobOpts.Timeout,
		RunAt:       now,
	}
	if jobOpts.Delay > 0 {
		j.State = job.StateDelayed
		j.RunAt = now.Add(jobOpts.Delay)
	}

	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// Start begins job processing by starting the lane pools and the cron
// scheduler.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	return eng.d.Start(ctx)
}

// Stop stops the scheduler, then drains the pools within ctx (or the
// configured shutdown timeout) and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
	}
	return eng.d.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Dispatcher returns the underlying Dispatcher.
func (eng *Engine) Dispatcher() *visapi.Dispatcher { return eng.d }

// DLQService returns the engine's DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// JobStore returns the queue backing store.
func (eng *Engine) JobStore() job.Store { return eng.jobStore }

// CronStore returns the cron store.
func (eng *Engine) CronStore() cron.Store { return eng.cronStore }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// QueueManager returns the lane gate shared by the pools.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// Pools returns the per-lane worker pools, highest priority first.
func (eng *Engine) Pools() []*worker.Pool { return eng.pools }

// Saga returns the order saga, or nil when the store holds no orders.
func (eng *Engine) Saga() *saga.Orchestrator { return eng.saga }

// RegisterCron registers a typed cron definition with the engine. The
// job type must already be registered. Re-registration of the same name
// is idempotent.
func RegisterCron[T job.Payload](ctx context.Context, eng *Engine, def cron.Definition[T]) error {
	if _, ok := eng.registry.Options(def.Payload.JobType()); !ok {
		return fmt.Errorf("cron %q: %w: %q", def.Name, visapi.ErrUnknownJobType, def.Payload.JobType())
	}
	entry, err := cron.NewEntry(def, time.Now().UTC())
	if err != nil {
		return err
	}

	if err := eng.cronStore.RegisterCron(ctx, entry); err != nil {
		if errors.Is(err, visapi.ErrDuplicateCron) {
			return nil
		}
		return fmt.Errorf("register cron %q: %w", def.Name, err)
	}

	eng.logger.Info("cron registered",
		slog.String("name", def.Name),
		slog.String("schedule", def.Schedule),
		slog.String("job_type", string(entry.JobType)),
		slog.Time("next_run_at", *entry.NextRunAt),
	)
	return nil
}
