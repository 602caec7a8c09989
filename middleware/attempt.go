package middleware

import (
	"context"

	"github.com/VadimVDM/VisAPI-sub006/id"
	"github.com/VadimVDM/VisAPI-sub006/job"
)

// Info identifies the attempt a handler is running in.
type Info struct {
	JobID   id.JobID
	Type    job.Type
	Lane    job.Lane
	Attempt int
	Final   bool
}

type infoKey struct{}

// Attempt returns middleware that stores the attempt Info in the context.
func Attempt() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return next(WithInfo(ctx, Info{
			JobID:   j.ID,
			Type:    j.Type,
			Lane:    j.Lane,
			Attempt: j.Attempt,
			Final:   j.Exhausted(),
		}))
	}
}

// WithInfo returns a copy of ctx carrying info.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// InfoFrom returns the attempt Info stored by Attempt.
func InfoFrom(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoKey{}).(Info)
	return info, ok
}
