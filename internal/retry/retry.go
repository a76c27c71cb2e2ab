// Package retry runs an operation with bounded exponential backoff.
//
// Delays double from BaseDelay (1s, 2s, 4s, ...). A run is exhausted when
// MaxAttempts failures have been seen or when the summed delays would reach
// MaxTimeout, whichever comes first. There is no jitter.
package retry

import (
	"context"
	"math"
	"time"
)

// Defaults used when a Policy field is zero.
const (
	DefaultMaxAttempts = 5
	DefaultMaxTimeout  = 60 * time.Second
	DefaultBaseDelay   = time.Second
)

// Policy bounds a retry run.
type Policy struct {
	MaxAttempts int
	MaxTimeout  time.Duration
	BaseDelay   time.Duration

	// Sleep waits for d or until ctx is done. Defaults to a timer select;
	// tests substitute a recorder.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called after each failed attempt that will be retried.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.MaxTimeout <= 0 {
		p.MaxTimeout = DefaultMaxTimeout
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Sleep == nil {
		p.Sleep = Sleep
	}
	return p
}

// Do calls op until it succeeds or the policy is exhausted. The bool result
// is true on success; on exhaustion the zero T is returned with false.
// Cancelling ctx during a backoff wait also exhausts the run.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, bool) {
	p = p.withDefaults()
	var zero T
	var total time.Duration

	for attempt := 0; ; {
		v, err := op(ctx)
		if err == nil {
			return v, true
		}
		attempt++
		if attempt >= p.MaxAttempts {
			return zero, false
		}
		delay := backoff(p.BaseDelay, attempt)
		if delay >= p.MaxTimeout-total {
			return zero, false
		}
		total += delay
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := p.Sleep(ctx, delay); err != nil {
			return zero, false
		}
	}
}

// Schedule returns the delays Do would sleep between attempts if every
// attempt failed.
func Schedule(p Policy) []time.Duration {
	p = p.withDefaults()
	var out []time.Duration
	var total time.Duration
	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		delay := backoff(p.BaseDelay, attempt)
		if delay >= p.MaxTimeout-total {
			break
		}
		total += delay
		out = append(out, delay)
	}
	return out
}

// Sleep waits for d using a timer, returning ctx.Err() if ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const maxDelay = time.Duration(math.MaxInt64)

// backoff returns base·2^(attempt-1), saturating at maxDelay instead of
// overflowing.
func backoff(base time.Duration, attempt int) time.Duration {
	shift := attempt - 1
	if shift >= 63 || base > maxDelay>>shift {
		return maxDelay
	}
	return base << shift
}
