// Package circuitbreaker guards optional dependencies. The leaderboard cache
// sits behind one so a dead Redis degrades to store reads instead of adding
// a timeout to every request.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	// ErrCircuitOpen означает, что вызов отклонён без обращения к зависимости.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests возвращается, когда пробный слот half-open уже занят.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Settings tune when the breaker trips and how it tests for recovery.
type Settings struct {
	Name string

	// TripAfter consecutive failures open the breaker.
	TripAfter int
	// CloseAfter consecutive trial successes close it again.
	CloseAfter int
	// Cooldown is spent in the open state before trying again.
	Cooldown time.Duration
	// Trials is how many calls may run concurrently while half-open.
	Trials int

	OnStateChange func(name string, from, to State)
	// IsFailure filters errors that should not count, e.g. cache misses.
	IsFailure func(error) bool
}

// Option adjusts Settings.
type Option func(*Settings)

func WithFailureThreshold(n int) Option {
	return func(s *Settings) {
		if n > 0 {
			s.TripAfter = n
		}
	}
}

func WithSuccessThreshold(n int) Option {
	return func(s *Settings) {
		if n > 0 {
			s.CloseAfter = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *Settings) {
		if d > 0 {
			s.Cooldown = d
		}
	}
}

func WithIsFailure(fn func(error) bool) Option {
	return func(s *Settings) { s.IsFailure = fn }
}

func withStateChange(fn func(name string, from, to State)) Option {
	return func(s *Settings) { s.OnStateChange = fn }
}

// Counts are running totals since the breaker was created.
type Counts struct {
	Requests       int
	TotalSuccesses int
	TotalFailures  int
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	settings Settings
	now      func() time.Time

	mu       sync.Mutex
	state    State
	counts   Counts
	streak   int // consecutive outcomes of the kind that moves the current state
	openedAt time.Time
	inFlight int
}

// New returns a closed breaker. Without options it trips after 5 failures,
// cools down for 30s and closes after 2 successful trial calls.
func New(name string, opts ...Option) *CircuitBreaker {
	s := Settings{Name: name, TripAfter: 5, CloseAfter: 2, Cooldown: 30 * time.Second, Trials: 1}
	for _, opt := range opts {
		opt(&s)
	}
	return &CircuitBreaker{settings: s, now: time.Now}
}

// CacheBreaker trips after three failures and retries after 15s.
// onStateChange may be nil.
func CacheBreaker(name string, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(name,
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithTimeout(15*time.Second),
		withStateChange(onStateChange),
	)
}

// Execute runs fn unless the breaker rejects the call.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// ExecuteWithFallback calls fallback instead of returning a rejection error.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func(context.Context) error, fallback func(error) error) error {
	err := cb.Execute(ctx, fn)
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests) {
		return fallback(err)
	}
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.settings.Cooldown {
			return ErrCircuitOpen
		}
		cb.moveTo(StateHalfOpen)
		cb.inFlight = 1
	case StateHalfOpen:
		if cb.inFlight >= cb.settings.Trials {
			return ErrTooManyRequests
		}
		cb.inFlight++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.Requests++
	failed := err != nil && (cb.settings.IsFailure == nil || cb.settings.IsFailure(err))

	if !failed {
		cb.counts.TotalSuccesses++
		if cb.state == StateHalfOpen {
			cb.streak++
			if cb.streak >= cb.settings.CloseAfter {
				cb.moveTo(StateClosed)
			}
		} else {
			cb.streak = 0
		}
		return
	}

	cb.counts.TotalFailures++
	switch cb.state {
	case StateClosed:
		cb.streak++
		if cb.streak >= cb.settings.TripAfter {
			cb.trip()
		}
	case StateHalfOpen:
		// Любая ошибка пробного запроса снова размыкает цепь.
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.moveTo(StateOpen)
}

func (cb *CircuitBreaker) moveTo(next State) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.streak = 0
	cb.inFlight = 0
	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, prev, next)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) Name() string { return cb.settings.Name }

func (cb *CircuitBreaker) IsOpen() bool { return cb.State() == StateOpen }

func (cb *CircuitBreaker) IsClosed() bool { return cb.State() == StateClosed }
