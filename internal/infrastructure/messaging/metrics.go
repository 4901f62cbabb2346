package messaging

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// EventBusMetrics counts published events and handler runs.
type EventBusMetrics struct {
	executions atomic.Int64
	failures   atomic.Int64
	busyNanos  atomic.Int64

	mu        sync.Mutex
	published map[shared.EventType]int64
}

func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{published: make(map[shared.EventType]int64)}
}

func (m *EventBusMetrics) RecordPublish(eventType shared.EventType) {
	m.mu.Lock()
	m.published[eventType]++
	m.mu.Unlock()
}

func (m *EventBusMetrics) RecordHandlerExecution(_ shared.EventType, d time.Duration, ok bool) {
	m.executions.Add(1)
	m.busyNanos.Add(int64(d))
	if !ok {
		m.failures.Add(1)
	}
}

// EventBusMetricsSnapshot is a point-in-time copy.
type EventBusMetricsSnapshot struct {
	PublishedByType        map[shared.EventType]int64
	TotalPublished         int64
	TotalHandlerExecs      int64
	HandlerFailures        int64
	HandlerSuccessRate     float64
	AverageHandlerDuration time.Duration
}

func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	snap := EventBusMetricsSnapshot{
		PublishedByType:    make(map[shared.EventType]int64),
		TotalHandlerExecs:  m.executions.Load(),
		HandlerFailures:    m.failures.Load(),
		HandlerSuccessRate: 1,
	}

	m.mu.Lock()
	for t, n := range m.published {
		snap.PublishedByType[t] = n
		snap.TotalPublished += n
	}
	m.mu.Unlock()

	if n := snap.TotalHandlerExecs; n > 0 {
		snap.AverageHandlerDuration = time.Duration(m.busyNanos.Load() / n)
		snap.HandlerSuccessRate = float64(n-snap.HandlerFailures) / float64(n)
	}
	return snap
}
