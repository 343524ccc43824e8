package scheduler

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamifyhub/ranking-hub/pkg/logger"
)

type countingJob struct {
	name string
	runs atomic.Int64
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	return j.err
}

type panickingJob struct{}

func (panickingJob) Name() string                 { return "panicker" }
func (panickingJob) Run(ctx context.Context) error { panic("boom") }

func testLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard, Level: logger.LevelFatal})
}

func TestScheduler_RegisterDuplicate(t *testing.T) {
	s := NewScheduler(testLogger())

	require.NoError(t, s.Register(&countingJob{name: "job"}, NewIntervalSchedule(time.Minute)))
	err := s.Register(&countingJob{name: "job"}, NewIntervalSchedule(time.Minute))
	assert.ErrorIs(t, err, ErrJobAlreadyExists)
}

func TestScheduler_RegisterNil(t *testing.T) {
	s := NewScheduler(testLogger())

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "job"}, nil), ErrNilSchedule)
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(testLogger())
	job := &countingJob{name: "job"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	require.NoError(t, s.RunNow(context.Background(), "job"))
	assert.Equal(t, int64(1), job.runs.Load())

	result, ok := s.LastResult("job")
	require.True(t, ok)
	assert.True(t, result.Success)
}

func TestScheduler_RunNowUnknownJob(t *testing.T) {
	s := NewScheduler(testLogger())

	err := s.RunNow(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_RunNowSurfacesJobError(t *testing.T) {
	s := NewScheduler(testLogger())
	jobErr := errors.New("upstream down")
	require.NoError(t, s.Register(&countingJob{name: "job", err: jobErr}, NewIntervalSchedule(time.Hour)))

	err := s.RunNow(context.Background(), "job")
	assert.ErrorIs(t, err, jobErr)

	result, ok := s.LastResult("job")
	require.True(t, ok)
	assert.False(t, result.Success)
}

func TestScheduler_RecoversFromPanic(t *testing.T) {
	s := NewScheduler(testLogger())
	require.NoError(t, s.Register(panickingJob{}, NewIntervalSchedule(time.Hour)))

	err := s.RunNow(context.Background(), "panicker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	s := NewScheduler(testLogger(), WithTick(5*time.Millisecond))
	job := &countingJob{name: "job"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(10*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return job.runs.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_StartTwice(t *testing.T) {
	s := NewScheduler(testLogger())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
}

func TestIntervalSchedule_Next(t *testing.T) {
	sched := NewIntervalSchedule(5 * time.Minute)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(5*time.Minute), sched.Next(now))
	assert.Equal(t, "@every 5m0s", sched.String())
}

func TestDailySchedule_Next(t *testing.T) {
	sched := NewDailySchedule(3, 30)

	before := time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 1, 3, 30, 0, 0, time.UTC), sched.Next(before))

	after := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 2, 3, 30, 0, 0, time.UTC), sched.Next(after))

	exact := time.Date(2025, 6, 1, 3, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 2, 3, 30, 0, 0, time.UTC), sched.Next(exact))
}
