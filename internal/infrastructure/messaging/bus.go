// Package messaging delivers domain events from the gamification commands to
// their handlers, in process or across instances through Redis Pub/Sub.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

var (
	ErrEventBusClosed = errors.New("event bus is closed")
	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")
	// ErrEventNotSupported is returned for wire messages without an event type.
	ErrEventNotSupported = errors.New("event type not supported")

	errNilHandler = errors.New("handler cannot be nil")
	errNilEvent   = errors.New("event cannot be nil")
)

// InMemoryEventBusConfig tunes delivery.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers off the publisher's goroutine.
	AsyncMode bool
	// WorkerPoolSize bounds handlers running at once in async mode.
	WorkerPoolSize int
	Logger         *slog.Logger
	EnableMetrics  bool
}

func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 10, EnableMetrics: true}
}

// InMemoryEventBus dispatches events to handlers registered in this process.
// Handler errors and panics are logged and counted, never returned to the
// publisher: an award must not fail because a listener did.
type InMemoryEventBus struct {
	async   bool
	slots   chan struct{}
	logger  *slog.Logger
	metrics *EventBusMetrics

	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	closed   bool

	inflight sync.WaitGroup
	done     chan struct{}
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)

func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 10
	}
	b := &InMemoryEventBus{
		async:  cfg.AsyncMode,
		slots:  make(chan struct{}, cfg.WorkerPoolSize),
		logger: cfg.Logger.With("component", "event_bus"),
		byType: make(map[shared.EventType][]shared.EventHandler),
		done:   make(chan struct{}),
	}
	if cfg.EnableMetrics {
		b.metrics = NewEventBusMetrics()
	}
	return b
}

func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.register(func() { b.byType[eventType] = append(b.byType[eventType], handler) }, handler)
}

func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.register(func() { b.wildcard = append(b.wildcard, handler) }, handler)
}

func (b *InMemoryEventBus) register(add func(), handler shared.EventHandler) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	add()
	return nil
}

// Publish fans the event out to typed handlers first, then wildcard ones.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	typed := b.byType[event.EventType()]
	targets := make([]shared.EventHandler, 0, len(typed)+len(b.wildcard))
	targets = append(append(targets, typed...), b.wildcard...)
	if b.async {
		// Add under the read lock so Close cannot slip between the check and the Add.
		b.inflight.Add(len(targets))
	}
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.RecordPublish(event.EventType())
	}

	for _, h := range targets {
		if b.async {
			go b.runPooled(event, h)
			continue
		}
		if err := b.run(event, h); err != nil {
			b.logger.Error("handler error", "event_type", event.EventType(), "error", err)
		}
	}
	return nil
}

func (b *InMemoryEventBus) runPooled(event shared.Event, h shared.EventHandler) {
	defer b.inflight.Done()

	select {
	case b.slots <- struct{}{}:
	case <-b.done:
		return
	}
	defer func() { <-b.slots }()

	if err := b.run(event, h); err != nil {
		b.logger.Error("async handler error", "event_type", event.EventType(), "error", err)
	}
}

func (b *InMemoryEventBus) run(event shared.Event, h shared.EventHandler) (err error) {
	began := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
		if b.metrics != nil {
			b.metrics.RecordHandlerExecution(event.EventType(), time.Since(began), err == nil)
		}
	}()
	return h(event)
}

// Wait blocks until every async delivery started so far has finished.
func (b *InMemoryEventBus) Wait() { b.inflight.Wait() }

// Close rejects new events and drains the deliveries already queued.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.inflight.Wait()
	close(b.done)
	b.logger.Info("event bus closed")
	return nil
}

// Metrics is nil unless EnableMetrics was set.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics { return b.metrics }
