package queue

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/VadimVDM/VisAPI-sub006/job"
)

// Config defines per-lane rate limiting and concurrency.
type Config struct {
	// Lane is the lane this config applies to.
	Lane job.Lane

	// MaxConcurrency limits how many jobs from this lane may run at once
	// in this process. Zero means no lane-specific limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second released from
	// this lane. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst size. Defaults to 1.
	RateBurst int
}

type laneState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-lane limits and per-key exclusion.
// It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	lanes map[job.Lane]*laneState
	keys  map[string]struct{}
}

// NewManager creates a Manager with the given lane configurations.
// Lanes not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		lanes: make(map[job.Lane]*laneState, len(configs)),
		keys:  make(map[string]struct{}),
	}
	for _, cfg := range configs {
		m.lanes[cfg.Lane] = newLaneState(cfg)
	}
	return m
}

func newLaneState(cfg Config) *laneState {
	ls := &laneState{config: cfg}
	if cfg.RateLimit > 0 {
		ls.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}
	return ls
}

// Acquire reports whether a job from lane with the given key may start
// now. On true the caller MUST call Release with the same arguments.
// A rate token is only spent when the job is admitted.
func (m *Manager) Acquire(lane job.Lane, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key != "" {
		if _, busy := m.keys[key]; busy {
			return false
		}
	}

	ls := m.lanes[lane]
	if ls != nil {
		if ls.config.MaxConcurrency > 0 && ls.active >= ls.config.MaxConcurrency {
			return false
		}
		if ls.limiter != nil && !ls.limiter.Allow() {
			return false
		}
		ls.active++
	}
	if key != "" {
		m.keys[key] = struct{}{}
	}
	return true
}

// Release frees the slot taken by Acquire.
func (m *Manager) Release(lane job.Lane, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ls := m.lanes[lane]; ls != nil && ls.active > 0 {
		ls.active--
	}
	if key != "" {
		delete(m.keys, key)
	}
}

// SetLaneConfig updates (or creates) a lane configuration, keeping the
// current active count.
func (m *Manager) SetLaneConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ls := newLaneState(cfg)
	if existing := m.lanes[cfg.Lane]; existing != nil {
		ls.active = existing.active
	}
	m.lanes[cfg.Lane] = ls
}

// ActiveCount returns the number of running jobs admitted from lane.
func (m *Manager) ActiveCount(lane job.Lane) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ls := m.lanes[lane]; ls != nil {
		return ls.active
	}
	return 0
}

// KeyBusy reports whether a job holding key is running.
func (m *Manager) KeyBusy(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, busy := m.keys[key]
	return busy
}
