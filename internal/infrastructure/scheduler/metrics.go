package scheduler

import (
	"sync"
	"time"
)

// SchedulerMetrics aggregates job runs, scheduled and manual alike.
type SchedulerMetrics struct {
	mu     sync.Mutex
	perJob map[string]*jobTotals
}

type jobTotals struct {
	runs     int64
	failures int64
	busy     time.Duration
}

func NewSchedulerMetrics() *SchedulerMetrics {
	return &SchedulerMetrics{perJob: make(map[string]*jobTotals)}
}

func (m *SchedulerMetrics) RecordExecution(job string, d time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.perJob[job]
	if t == nil {
		t = &jobTotals{}
		m.perJob[job] = t
	}
	t.runs++
	t.busy += d
	if !success {
		t.failures++
	}
}

// MetricsSnapshot sums every job.
type MetricsSnapshot struct {
	TotalExecutions int64
	TotalSuccesses  int64
	TotalFailures   int64
	SuccessRate     float64
	AverageDuration time.Duration
	FailuresByJob   map[string]int64
}

func (m *SchedulerMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{FailuresByJob: make(map[string]int64, len(m.perJob))}
	var busy time.Duration
	for name, t := range m.perJob {
		snap.TotalExecutions += t.runs
		snap.TotalFailures += t.failures
		snap.FailuresByJob[name] = t.failures
		busy += t.busy
	}
	snap.TotalSuccesses = snap.TotalExecutions - snap.TotalFailures
	if snap.TotalExecutions > 0 {
		snap.AverageDuration = busy / time.Duration(snap.TotalExecutions)
		snap.SuccessRate = float64(snap.TotalSuccesses) / float64(snap.TotalExecutions)
	}
	return snap
}
