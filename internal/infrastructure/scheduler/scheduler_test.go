package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingvohub/lingvo-engine/pkg/logger"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job " + j.name }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

type panickyJob struct{}

func (panickyJob) Name() string                  { return "panicky" }
func (panickyJob) Description() string           { return "" }
func (panickyJob) Run(ctx context.Context) error { panic("boom") }

func newTestScheduler(maxConcurrent int) *Scheduler {
	return NewScheduler(SchedulerConfig{
		Logger:            logger.Discard(),
		MaxConcurrentJobs: maxConcurrent,
		TickInterval:      2 * time.Millisecond,
		EnableMetrics:     true,
	})
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	s := newTestScheduler(2)
	job := &countingJob{name: "sweep"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(5*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return job.runs.Load() >= 3 }, time.Second, 2*time.Millisecond)
	require.NoError(t, s.Stop())

	info, err := s.GetJobInfo("sweep")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.RunCount, int64(3))
	assert.Zero(t, info.FailCount)
	assert.Equal(t, "@every 5ms", info.Schedule)
	assert.True(t, s.GetMetrics().Snapshot().TotalExecutions >= 3)
}

func TestScheduler_DoesNotOverlapRuns(t *testing.T) {
	s := newTestScheduler(4)
	job := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), job.runs.Load(), "a running job is not started again")

	close(job.block)
	require.NoError(t, s.Stop())
}

func TestScheduler_LimitsConcurrency(t *testing.T) {
	s := newTestScheduler(1)
	block := make(chan struct{})
	a := &countingJob{name: "a", block: block}
	b := &countingJob{name: "b", block: block}
	require.NoError(t, s.Register(a, NewIntervalSchedule(time.Millisecond)))
	require.NoError(t, s.Register(b, NewIntervalSchedule(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return a.runs.Load()+b.runs.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), a.runs.Load()+b.runs.Load())

	close(block)
	require.NoError(t, s.Stop())
}

func TestScheduler_RecordsFailuresAndPanics(t *testing.T) {
	s := newTestScheduler(2)
	failing := &countingJob{name: "failing", err: errors.New("db down")}
	require.NoError(t, s.Register(failing, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(panickyJob{}, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "failing")
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Manual)

	_, err = s.RunNow(context.Background(), "panicky")
	assert.ErrorContains(t, err, "panicked")

	history := s.GetHistory(0)
	require.Len(t, history, 2)
	assert.Equal(t, "failing", history[0].JobName)
	assert.Equal(t, int64(2), s.GetMetrics().Snapshot().TotalFailures)
}

func TestScheduler_JobTimeout(t *testing.T) {
	s := NewScheduler(SchedulerConfig{Logger: logger.Discard(), JobTimeout: 5 * time.Millisecond})
	job := &countingJob{name: "stuck", block: make(chan struct{})}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	_, err := s.RunNow(context.Background(), "stuck")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_Registration(t *testing.T) {
	s := newTestScheduler(1)
	job := &countingJob{name: "dup"}

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Second)), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Second)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Second)), ErrJobAlreadyExists)

	_, err := s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}

func TestParseCron(t *testing.T) {
	s, err := ParseCron("0 * * * *")
	require.NoError(t, err)

	from := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), s.Next(from))
	assert.Equal(t, "0 * * * *", s.String())

	every, err := ParseCron("@every 10m")
	require.NoError(t, err)
	assert.Equal(t, from.Add(10*time.Minute), every.Next(from))

	_, err = ParseCron("61 * * * *")
	assert.Error(t, err)
}
