package visapi

import "time"

// Config holds configuration for the Dispatcher.
type Config struct {
	// Lanes maps each lane name to the number of jobs it may process
	// simultaneously. Every lane gets its own worker pool.
	Lanes map[string]int

	// PollInterval is how often an idle worker polls its lane.
	PollInterval time.Duration

	// ShutdownTimeout bounds how long Stop waits for in-flight jobs.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long before an active job without a
	// heartbeat is returned to its lane.
	StaleJobThreshold time.Duration

	// JobTimeout is the execution deadline for jobs that do not set one.
	JobTimeout time.Duration

	// MaxAttempts is the attempt budget for jobs that do not set one.
	MaxAttempts int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Lanes: map[string]int{
			"critical": 10,
			"default":  5,
			"bulk":     2,
		},
		PollInterval:      500 * time.Millisecond,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: 2 * time.Minute,
		JobTimeout:        2 * time.Minute,
		MaxAttempts:       3,
	}
}
