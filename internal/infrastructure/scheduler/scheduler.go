// Package scheduler runs the periodic background jobs of Ranking Hub:
// pruning old ranking snapshots and keeping the cache warm for the
// active leaderboard.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gamifyhub/ranking-hub/internal/metrics"
	"github.com/gamifyhub/ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job.
	// The context is cancelled when the scheduler is stopping.
	Run(ctx context.Context) error
}

// Schedule defines when a job should run.
type Schedule interface {
	// Next returns the next time the job should run after the given time.
	Next(t time.Time) time.Time

	// String returns a human-readable representation of the schedule.
	String() string
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
}

var (
	ErrNilJob           = errors.New("job is nil")
	ErrNilSchedule      = errors.New("schedule is nil")
	ErrJobAlreadyExists = errors.New("job already registered")
	ErrJobNotFound      = errors.New("job not found")
	ErrAlreadyRunning   = errors.New("scheduler already running")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler manages and executes scheduled jobs. Jobs run sequentially
// in a single goroutine: every job here touches the same upstream and
// the same database, so concurrency buys nothing but contention.
type Scheduler struct {
	mu sync.RWMutex

	logger  *logger.Logger
	metrics *metrics.Service

	jobs     map[string]*scheduledJob
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastRuns map[string]JobResult

	// tick granularity, overridable in tests
	tick time.Duration
}

// scheduledJob wraps a Job with scheduling information.
type scheduledJob struct {
	job       Job
	schedule  Schedule
	nextRun   time.Time
	runCount  int64
	failCount int64
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithMetrics sets the metrics service for job run counters.
func WithMetrics(m *metrics.Service) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTick overrides the scheduling tick. Used by tests.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// NewScheduler creates a new Scheduler.
func NewScheduler(log *logger.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = logger.Default()
	}

	s := &Scheduler{
		logger:   log.With(logger.Component("scheduler")),
		jobs:     make(map[string]*scheduledJob),
		lastRuns: make(map[string]JobResult),
		tick:     time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job to the scheduler with the given schedule.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	s.jobs[name] = &scheduledJob{
		job:      job,
		schedule: schedule,
		nextRun:  schedule.Next(time.Now()),
	}

	s.logger.Info("job registered",
		logger.String("job", name),
		logger.String("schedule", schedule.String()))

	return nil
}

// Start begins executing jobs. It returns immediately; jobs run in a
// background goroutine until Stop is called or the context cancels.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("scheduler started", logger.Int("jobs", len(s.jobs)))
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// LastResult returns the result of the most recent run of a job.
func (s *Scheduler) LastResult(jobName string) (JobResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.lastRuns[jobName]
	return r, ok
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) error {
	s.mu.RLock()
	sj, ok := s.jobs[jobName]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}

	result := s.execute(ctx, sj)
	return result.Error
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, sj := range s.due(now) {
				s.execute(ctx, sj)
			}
		}
	}
}

func (s *Scheduler) due(now time.Time) []*scheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*scheduledJob
	for _, sj := range s.jobs {
		if !sj.nextRun.After(now) {
			sj.nextRun = sj.schedule.Next(now)
			due = append(due, sj)
		}
	}
	return due
}

// execute runs a single job with panic recovery and records the result.
func (s *Scheduler) execute(ctx context.Context, sj *scheduledJob) JobResult {
	name := sj.job.Name()
	result := JobResult{JobName: name, StartedAt: time.Now()}

	func() {
		defer func() {
			if r := recover(); r != nil {
				result.Error = fmt.Errorf("job panicked: %v", r)
			}
		}()
		result.Error = sj.job.Run(ctx)
	}()

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	result.Success = result.Error == nil

	s.mu.Lock()
	sj.runCount++
	outcome := "success"
	if !result.Success {
		sj.failCount++
		outcome = "failure"
	}
	s.lastRuns[name] = result
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.JobRuns.WithLabelValues(name, outcome).Inc()
	}

	if result.Success {
		s.logger.Debug("job completed",
			logger.String("job", name),
			logger.Duration("duration", result.Duration))
	} else {
		s.logger.Warn("job failed",
			logger.String("job", name),
			logger.Duration("duration", result.Duration),
			logger.Err(result.Error))
	}

	return result
}
