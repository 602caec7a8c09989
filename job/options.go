package job

import "time"

// Options configures per-job behavior such as lane, delay, and attempts.
type Options struct {
	// Lane is the lane the job is placed in.
	Lane Lane

	// Delay defers the first attempt by the given duration.
	Delay time.Duration

	// MaxAttempts is the total number of executions allowed before the
	// job is dead-lettered. Zero means the dispatcher default.
	MaxAttempts int

	// Timeout bounds a single attempt. Zero means the dispatcher default.
	Timeout time.Duration

	// Key serializes jobs that mutate the same record. Two jobs with the
	// same non-empty key never run at the same time in one process.
	Key string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{Lane: LaneDefault}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithLane places the job in the given lane.
func WithLane(l Lane) Option {
	return func(o *Options) { o.Lane = l }
}

// WithDelay defers the first attempt.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithMaxAttempts sets the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithTimeout sets the per-attempt execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithKey sets the serialization key.
func WithKey(k string) Option {
	return func(o *Options) { o.Key = k }
}
