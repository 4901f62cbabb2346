// Package scheduler runs the worker's periodic jobs: leaderboard cache
// rebuilds and stats reconciliation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// Job is one unit of periodic work. Run receives a context that is
// cancelled when the scheduler stops.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// Schedule yields the run after t.
type Schedule interface {
	Next(t time.Time) time.Time
	String() string
}

// JobResult describes one finished run.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
	Manual      bool
}

type SchedulerConfig struct {
	Logger *slog.Logger
	// Timezone of schedule calculations. UTC when nil.
	Timezone *time.Location
	// TickInterval is how often due jobs are looked for.
	TickInterval time.Duration
	// RunOnStart makes every job due as soon as Start is called.
	RunOnStart    bool
	EnableMetrics bool
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Timezone: time.UTC, TickInterval: time.Second, EnableMetrics: true}
}

// entry is the scheduler's bookkeeping for one job. Guarded by Scheduler.mu.
type entry struct {
	job      Job
	schedule Schedule
	busy     bool
	lastRun  time.Time
	nextRun  time.Time
	runs     int64
	failures int64
	last     *JobResult
}

// Scheduler checks for due jobs every tick. A job never overlaps with
// itself: while it runs, its due ticks are skipped, not queued.
type Scheduler struct {
	cfg     SchedulerConfig
	logger  *slog.Logger
	metrics *SchedulerMetrics

	mu      sync.Mutex
	entries map[string]*entry
	cancel  context.CancelFunc // nil while stopped
	started time.Time
	workers sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	s := &Scheduler{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "scheduler"),
		entries: make(map[string]*entry),
	}
	if cfg.EnableMetrics {
		s.metrics = NewSchedulerMetrics()
	}
	return s
}

func (s *Scheduler) now() time.Time { return time.Now().In(s.cfg.Timezone) }

// Register adds job under its name. Names are unique.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	switch {
	case job == nil:
		return ErrNilJob
	case schedule == nil:
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	e := &entry{job: job, schedule: schedule, nextRun: schedule.Next(s.now())}
	s.entries[name] = e
	s.logger.Debug("job registered", "job", name, "schedule", schedule.String(), "next_run", e.nextRun.Format(time.RFC3339))
	return nil
}

// Start launches the tick loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrSchedulerAlreadyRunning
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()
	if s.cfg.RunOnStart {
		for _, e := range s.entries {
			e.nextRun = s.started.In(s.cfg.Timezone)
		}
	}

	s.workers.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started", "jobs_count", len(s.entries))
	return nil
}

// Stop cancels in-flight jobs and waits until they return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return ErrSchedulerNotRunning
	}
	cancel()
	s.workers.Wait()
	s.logger.Info("scheduler stopped", "uptime", time.Since(s.started).String())
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.workers.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		s.dispatchDue(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatchDue marks due entries busy under the lock and runs each in its
// own goroutine.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if e.busy || now.Before(e.nextRun) {
			continue
		}
		e.busy = true
		e.lastRun = now
		e.nextRun = e.schedule.Next(now)
		e.runs++
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		s.workers.Add(1)
		go func(e *entry) {
			defer s.workers.Done()
			res := s.execute(ctx, e, false)

			s.mu.Lock()
			e.busy = false
			if !res.Success {
				e.failures++
			}
			s.mu.Unlock()
		}(e)
	}
}

func (s *Scheduler) execute(ctx context.Context, e *entry, manual bool) *JobResult {
	name := e.job.Name()
	log := s.logger.With("job", name, "manual", manual)
	log.Info("job started")

	res := &JobResult{JobName: name, StartedAt: time.Now(), Manual: manual}
	res.Error = e.job.Run(ctx)
	res.CompletedAt = time.Now()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)
	res.Success = res.Error == nil

	if s.metrics != nil {
		s.metrics.RecordExecution(name, res.Duration, res.Success)
	}
	s.mu.Lock()
	e.last = res
	s.mu.Unlock()

	if res.Error != nil {
		log.Error("job failed", "duration", res.Duration.String(), "error", res.Error)
	} else {
		log.Info("job completed", "duration", res.Duration.String())
	}
	return res
}

// RunNow runs the named job outside its schedule and returns the job's error.
// It does not wait for, or block, a scheduled run of the same job.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	res := s.execute(ctx, e, true)
	return res, res.Error
}

// JobInfo is a read-only view of a registered job.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	LastResult  *JobResult
}

// ListJobs is sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, JobInfo{
			Name:        name,
			Description: e.job.Description(),
			Schedule:    e.schedule.String(),
			LastRun:     e.lastRun,
			NextRun:     e.nextRun,
			RunCount:    e.runs,
			FailCount:   e.failures,
			LastResult:  e.last,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetMetrics is nil unless EnableMetrics was set.
func (s *Scheduler) GetMetrics() *SchedulerMetrics { return s.metrics }
