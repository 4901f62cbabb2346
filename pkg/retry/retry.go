// Package retry repeats idempotent steps with exponential backoff.
// Request paths never retry; it is used while the store comes up and
// inside background jobs.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt under the default policy.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// Permanent stops retries regardless of the policy. Do returns the inner error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

// Policy controls attempts and the backoff curve.
type Policy struct {
	Attempts int // including the first call
	Base     time.Duration
	Cap      time.Duration
	// Jitter spreads each delay by ±Jitter of its value.
	Jitter float64
	// ShouldRetry defaults to IsRetryable.
	ShouldRetry func(error) bool
	OnRetry     func(attempt int, err error, delay time.Duration)
}

type Option func(*Policy)

func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.Attempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.Base = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.Cap = d
		}
	}
}

func WithJitter(j float64) Option {
	return func(p *Policy) {
		if j >= 0 && j <= 1 {
			p.Jitter = j
		}
	}
}

func WithRetryIf(fn func(error) bool) Option {
	return func(p *Policy) { p.ShouldRetry = fn }
}

func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(p *Policy) { p.OnRetry = fn }
}

// Retrier is immutable and may be shared.
type Retrier struct {
	policy Policy
}

// New starts from 3 attempts, 100ms doubling up to 30s with 10% jitter.
func New(opts ...Option) *Retrier {
	p := Policy{Attempts: 3, Base: 100 * time.Millisecond, Cap: 30 * time.Second, Jitter: 0.1}
	for _, opt := range opts {
		opt(&p)
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = IsRetryable
	}
	return &Retrier{policy: p}
}

// StartupRetrier retries any error for roughly half a minute while the
// store or cache is still starting.
func StartupRetrier(onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(
		WithMaxAttempts(6),
		WithInitialDelay(500*time.Millisecond),
		WithMaxDelay(8*time.Second),
		WithJitter(0.2),
		WithRetryIf(func(error) bool { return true }),
		WithOnRetry(onRetry),
	)
}

// DatabaseRetrier is for short idempotent writes in background jobs.
// A nil retryIf keeps the Retryable-only default.
func DatabaseRetrier(retryIf func(error) bool) *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(50*time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0.05),
		WithRetryIf(retryIf),
	)
}

// Do calls op until it succeeds, the policy gives up or ctx ends.
// The returned error has Retryable and Permanent wrappers removed.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	delay := r.policy.Base
	var last error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		last = unwrapRetryable(err)

		if attempt >= r.policy.Attempts || !r.policy.ShouldRetry(err) {
			return last
		}

		wait := r.spread(delay)
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}

		delay *= 2
		if delay > r.policy.Cap {
			delay = r.policy.Cap
		}
	}
}

func (r *Retrier) spread(d time.Duration) time.Duration {
	if r.policy.Jitter == 0 {
		return d
	}
	f := float64(d) * (1 + r.policy.Jitter*(rand.Float64()*2-1))
	if f < 0 {
		return 0
	}
	return time.Duration(f)
}

func unwrapRetryable(err error) error {
	var r *retryableError
	if errors.As(err, &r) && err == error(r) {
		return r.err
	}
	return err
}

// Do builds a Retrier from opts and runs op once through it.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, op)
}

// DoWithData is Do for operations that produce a value.
func DoWithData[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var out T
	err := New(opts...).Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}
