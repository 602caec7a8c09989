package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/VadimVDM/VisAPI-sub006/ext"
	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
)

// errWorkerLost is the attempt error recorded for jobs whose worker
// stopped sending heartbeats.
var errWorkerLost = errors.New("worker lost: heartbeat expired")

// forceWait bounds how long Stop waits for handlers after cancelling them.
const forceWait = 5 * time.Second

// LaneGate admits claimed jobs by lane limits and per-key exclusion. The
// pool calls Acquire before executing a claimed job and Release after.
type LaneGate interface {
	Acquire(lane job.Lane, key string) bool
	Release(lane job.Lane, key string)
}

// Pool runs a fixed number of dequeue loops over a set of lanes and
// executes claimed jobs through the Executor.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	lanes        []job.Lane
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	heartbeatInterval time.Duration
	staleJobThreshold time.Duration

	gate LaneGate

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent dequeue loops.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolLanes sets the lanes the pool claims from. A pool serving more
// than one lane prefers higher-priority lanes.
func WithPoolLanes(lanes ...job.Lane) PoolOption {
	return func(p *Pool) { p.lanes = lanes }
}

// WithPollInterval sets how often idle loops poll for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often active jobs are heartbeated.
// Zero disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets the heartbeat age after which an active job
// is considered orphaned. Zero disables reaping.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// WithLaneGate sets the admission gate.
func WithLaneGate(g LaneGate) PoolOption {
	return func(p *Pool) { p.gate = g }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		concurrency:  1,
		lanes:        []job.Lane{job.LaneDefault},
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Lanes returns the lanes this pool serves.
func (p *Pool) Lanes() []job.Lane { return p.lanes }

// Start launches the dequeue loops and returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("lanes", p.lanes),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}
	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}
	if p.staleJobThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}
	return nil
}

// Stop stops claiming new jobs and waits for in-flight attempts to drain.
// When ctx expires first, in-flight attempts are cancelled and given a
// short final grace period; attempts still running after that are left
// behind and will be reaped as stale by the next process.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully", slog.String("worker_id", p.workerID.String()))
		return nil
	case <-ctx.Done():
	}

	p.logger.Warn("worker pool drain timed out, cancelling active jobs",
		slog.String("worker_id", p.workerID.String()),
	)
	p.cancelActiveJobs()

	select {
	case <-done:
		return nil
	case <-time.After(forceWait):
		return fmt.Errorf("worker pool %s: %d jobs still running after cancel: %w",
			p.workerID, p.activeCount(), ctx.Err())
	}
}

func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		jobs, err := p.store.DequeueJobs(context.Background(), p.lanes, p.workerID, 1)
		if err != nil {
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if len(jobs) == 0 {
			p.sleep()
			continue
		}

		j := jobs[0]
		if p.gate != nil && !p.gate.Acquire(j.Lane, j.Key) {
			p.giveBack(j)
			p.sleep()
			continue
		}

		p.run(j)

		if p.gate != nil {
			p.gate.Release(j.Lane, j.Key)
		}
	}
}

func (p *Pool) run(j *job.Job) {
	p.extensions.EmitJobStarted(context.Background(), j)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.trackJob(j.ID.String(), cancel)
	defer p.untrackJob(j.ID.String())

	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Debug("job attempt failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// giveBack returns a claimed job that the gate refused, undoing the
// attempt the claim counted.
func (p *Pool) giveBack(j *job.Job) {
	j.Attempt--
	j.State = job.StateDelayed
	j.RunAt = time.Now().UTC().Add(p.pollInterval)
	j.WorkerID = id.Nil
	j.HeartbeatAt = nil
	if err := p.store.UpdateJob(context.Background(), j); err != nil {
		p.logger.Error("failed to return gated job to its lane",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, raw := range jobIDs {
		jobID, err := id.ParseJobID(raw)
		if err != nil {
			continue
		}
		if err := p.store.HeartbeatJob(context.Background(), jobID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", raw),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleJobThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapStaleJobs()
		}
	}
}

// reapStaleJobs treats each orphaned attempt as a transient failure, so
// the job is re-scheduled or, with its budget spent, dead-lettered.
func (p *Pool) reapStaleJobs() {
	stale, err := p.store.ReapStaleJobs(context.Background(), p.lanes, p.staleJobThreshold)
	if err != nil {
		p.logger.Error("reap stale jobs error", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		p.logger.Info("reaping stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("worker_id", j.WorkerID.String()),
		)
		_ = p.executor.HandleFailure(context.Background(), j, errWorkerLost)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) activeCount() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
