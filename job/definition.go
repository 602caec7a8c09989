package job

import "context"

// Payload is implemented by every job payload struct. JobType ties the
// struct to the single job type it drives, so the set of payloads forms a
// tagged union keyed by Type. Implement it on a value receiver.
type Payload interface {
	JobType() Type
}

// Keyed is implemented by payloads that mutate a single record and must
// not run concurrently with other jobs touching the same record.
type Keyed interface {
	JobKey() string
}

// Definition is a typed job definition. T is the payload, R the result
// recorded on the job when the handler succeeds.
type Definition[T Payload, R any] struct {
	// Type is taken from T.
	Type Type

	// Handler performs the work.
	Handler func(ctx context.Context, payload T) (R, error)

	// Opts are the defaults applied to every enqueue of this type.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T Payload, R any](handler func(ctx context.Context, payload T) (R, error), opts ...Option) *Definition[T, R] {
	var zero T
	def := &Definition[T, R]{
		Type:    zero.JobType(),
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
