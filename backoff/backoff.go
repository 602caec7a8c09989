// Package backoff provides retry delay strategies. Every strategy is a
// non-decreasing function of the attempt number and is safe for
// concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before the next attempt.
type Strategy interface {
	// Delay returns how long to wait after attempt n (1-indexed) failed.
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Linear grows the delay with the attempt number.
// Delay = min(Base * attempt, Max).
type Linear struct {
	Base time.Duration
	Max  time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(base, maxDelay time.Duration) *Linear {
	return &Linear{Base: base, Max: maxDelay}
}

// Delay returns Base * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	attempt = max(attempt, 1)
	d := l.Base * time.Duration(attempt)
	if l.Max > 0 && (d > l.Max || d < 0) {
		return l.Max
	}
	return d
}

// Exponential doubles the delay each attempt.
// Delay = min(Base * 2^(attempt-1), Max).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Max: maxDelay}
}

// Delay returns Base * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	attempt = max(attempt, 1)
	f := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && f > float64(e.Max) {
		return e.Max
	}
	if f > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

// Jittered adds up to Fraction of the inner delay on top of it, so many
// jobs failing together spread their retries. The result never drops
// below the inner delay.
type Jittered struct {
	Inner    Strategy
	Fraction float64
}

// NewJittered wraps inner with additive jitter.
func NewJittered(inner Strategy, fraction float64) *Jittered {
	return &Jittered{Inner: inner, Fraction: fraction}
}

// Delay returns inner + rand[0, inner*Fraction).
func (j *Jittered) Delay(attempt int) time.Duration {
	d := j.Inner.Delay(attempt)
	if j.Fraction <= 0 || d <= 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*j.Fraction*float64(d)) //nolint:gosec // jitter does not need crypto rand
}

// DefaultStrategy returns the backoff used by the engine: linear with a
// 2s base capped at 1m.
func DefaultStrategy() Strategy {
	return NewLinear(2*time.Second, time.Minute)
}
