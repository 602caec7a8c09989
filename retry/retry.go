// Package retry decides what happens to a job after a failed attempt.
//
// Failures are classified as transient (network, timeout, 5xx, rate
// limiting) or permanent (validation, 4xx). A permanent failure is
// dead-lettered immediately. A transient failure is retried after a
// backoff delay until the attempt budget is spent.
//
//	err := retry.FromStatus(resp.StatusCode, fmt.Errorf("crm upsert: %s", body))
//	d := policy.Decide(j.Attempt, j.MaxAttempts, err, time.Now())
//	if d.Action == retry.ActionDeadLetter { ... }
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/VadimVDM/VisAPI-sub006/backoff"
)

// Class is the retry classification of a failure.
type Class int

const (
	// ClassTransient failures are retried under backoff.
	ClassTransient Class = iota
	// ClassPermanent failures skip retry.
	ClassPermanent
)

func (c Class) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "transient"
}

// Error attaches a Class to an underlying error.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: ClassPermanent, Err: err}
}

// Transient marks err as retryable. Nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: ClassTransient, Err: err}
}

// FromStatus classifies err by the HTTP status code that produced it.
// 408, 425, and 429 are transient like every 5xx; other 4xx are
// permanent. Any other code leaves err transient.
func FromStatus(code int, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests:
		return Transient(err)
	case code >= 400 && code < 500:
		return Permanent(err)
	default:
		return Transient(err)
	}
}

// ClassOf returns the classification of err. Unclassified errors, and
// deadline expiry in particular, are transient.
func ClassOf(err error) Class {
	var re *Error
	if errors.As(err, &re) {
		return re.Class
	}
	return ClassTransient
}

// IsPermanent reports whether err is classified permanent.
func IsPermanent(err error) bool {
	return err != nil && ClassOf(err) == ClassPermanent
}

// IsTimeout reports whether err came from an expired attempt deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// Action is what the executor should do with a failed job.
type Action int

const (
	// ActionRetry re-schedules the job at Decision.RunAt.
	ActionRetry Action = iota
	// ActionDeadLetter marks the job failed and forwards it to the DLQ.
	ActionDeadLetter
)

func (a Action) String() string {
	if a == ActionDeadLetter {
		return "dead_letter"
	}
	return "retry"
}

// Decision is the outcome of Policy.Decide.
type Decision struct {
	Action Action
	Class  Class
	Delay  time.Duration
	RunAt  time.Time
	Reason string
}

// Policy turns a failed attempt into a Decision. It holds no state, so
// one Policy serves every lane.
type Policy struct {
	backoff backoff.Strategy
}

// NewPolicy creates a Policy. A nil strategy uses backoff.DefaultStrategy.
func NewPolicy(bo backoff.Strategy) *Policy {
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	return &Policy{backoff: bo}
}

// Decide evaluates a failure of attempt (1-indexed, already counted) out of
// maxAttempts. A job therefore executes at most maxAttempts times.
func (p *Policy) Decide(attempt, maxAttempts int, err error, now time.Time) Decision {
	class := ClassOf(err)
	switch {
	case class == ClassPermanent:
		return Decision{Action: ActionDeadLetter, Class: class, Reason: "permanent failure"}
	case attempt >= maxAttempts:
		return Decision{Action: ActionDeadLetter, Class: class, Reason: "attempts exhausted"}
	}
	delay := p.backoff.Delay(attempt)
	return Decision{
		Action: ActionRetry,
		Class:  class,
		Delay:  delay,
		RunAt:  now.Add(delay),
		Reason: "transient failure",
	}
}
