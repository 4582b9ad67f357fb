// Package retry provides exponential backoff and circuit breaker
// patterns for resilient network operations.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"gonntp/config"
	ncerr "gonntp/internal/errors"
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError wraps an error to signal that retrying will not help.
// Return [Permanent](err) from the operation function to stop retrying
// immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.  The backoff loop will return
// the inner error immediately without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ── Jitter source ────────────────────────────────────────────────────

// Rand supplies uniform values in [0, 1).  *rand.Rand satisfies it;
// tests inject a fixed sequence.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Fixed returns v on every call.
type Fixed float64

func (f Fixed) Float64() float64 { return float64(f) }

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff implements capped exponential backoff with multiplicative
// jitter.  The zero value uses the package defaults.
type Backoff struct {
	// InitialDelay is the delay before the first retry (default 100ms).
	InitialDelay time.Duration
	// MaxDelay caps the un-jittered delay (default 10s).
	MaxDelay time.Duration
	// MaxAttempts is the total number of tries including the first
	// (default 4).
	MaxAttempts int
	// JitterFraction scales each delay by a uniform factor in
	// [1-j, 1+j].  Zero disables jitter.
	JitterFraction float64
	// Rand is the jitter source (default: math/rand/v2).
	Rand Rand
	// Retryable decides which failures are retried (default
	// errors.IsRetryable).  Permanent errors are never retried.
	Retryable func(error) bool
	// OnRetry, when set, runs before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultBackoff returns the default policy: 100ms doubling to 10s,
// four attempts, ±25% jitter.
func DefaultBackoff() *Backoff {
	return &Backoff{
		InitialDelay:   config.DefaultInitialDelay,
		MaxDelay:       config.DefaultMaxDelay,
		MaxAttempts:    config.DefaultMaxAttempts,
		JitterFraction: config.DefaultJitterFraction,
	}
}

// FromConfig builds a Backoff from the retry section of the config.
func FromConfig(c config.RetryConfig) *Backoff {
	return &Backoff{
		InitialDelay:   c.InitialDelay,
		MaxDelay:       c.MaxDelay,
		MaxAttempts:    c.MaxAttempts,
		JitterFraction: c.JitterFraction,
	}
}

func (b *Backoff) attempts() int {
	if b.MaxAttempts <= 0 {
		return config.DefaultMaxAttempts
	}
	return b.MaxAttempts
}

// Delay returns the wait before retry n (1-based):
// min(MaxDelay, InitialDelay·2^(n-1)) scaled by the jitter factor.
func (b *Backoff) Delay(n int) time.Duration {
	base := b.InitialDelay
	if base <= 0 {
		base = config.DefaultInitialDelay
	}
	maxDelay := b.MaxDelay
	if maxDelay <= 0 {
		maxDelay = config.DefaultMaxDelay
	}
	if n < 1 {
		n = 1
	}

	d := base
	for i := 1; i < n && d < maxDelay; i++ {
		d *= 2
	}
	if d > maxDelay {
		d = maxDelay
	}

	j := b.JitterFraction
	if j <= 0 {
		return d
	}
	if j > 1 {
		j = 1
	}
	r := b.Rand
	if r == nil {
		r = globalRand{}
	}
	factor := 1 - j + 2*j*r.Float64()
	return time.Duration(float64(d) * factor)
}

// Do executes fn until it succeeds, fails with an error that is not
// retryable, or the attempt budget is spent.  The attempt passed to fn
// is 1-based.  On exhaustion the last error is returned as is; when
// ctx ends during a wait the last error is joined with ctx.Err().
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	retryable := b.Retryable
	if retryable == nil {
		retryable = ncerr.IsRetryable
	}
	limit := b.attempts()

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		if !retryable(err) || attempt >= limit {
			return err
		}

		wait := b.Delay(attempt)
		if b.OnRetry != nil {
			b.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}
