package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
	panic bool
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job" }
func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.panic {
		panic("boom")
	}
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
		}
	}
	return j.err
}

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())

	require.ErrorIs(t, s.Register(nil, Every(time.Second)), ErrNilJob)
	require.ErrorIs(t, s.Register(&countingJob{name: "a"}, nil), ErrNilSchedule)
	require.NoError(t, s.Register(&countingJob{name: "a"}, Every(time.Minute)))
	require.ErrorIs(t, s.Register(&countingJob{name: "a"}, Every(time.Minute)), ErrJobAlreadyExists)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "@every 1m0s", jobs[0].Schedule)
	assert.True(t, jobs[0].Enabled)
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	ok := &countingJob{name: "ok"}
	bad := &countingJob{name: "bad", err: errors.New("failed")}
	panicky := &countingJob{name: "panicky", panic: true}
	for _, j := range []*countingJob{ok, bad, panicky} {
		require.NoError(t, s.Register(j, Every(time.Hour)))
	}

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	_, err = s.RunNow(context.Background(), "bad")
	assert.EqualError(t, err, "failed")

	_, err = s.RunNow(context.Background(), "panicky")
	assert.ErrorIs(t, err, ErrJobPanicked)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.Equal(t, int64(1), s.Metrics().Executions("ok"))
	assert.Equal(t, int64(2), s.Metrics().TotalFailures)
}

func TestScheduler_RunsOnStartWithoutOverlap(t *testing.T) {
	s := NewScheduler(SchedulerConfig{Tick: 5 * time.Millisecond})
	slow := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(slow, Every(time.Millisecond)))

	require.NoError(t, s.Start(context.Background(), true))
	assert.ErrorIs(t, s.Start(context.Background(), false), ErrSchedulerAlreadyRunning)

	require.Eventually(t, func() bool { return slow.runs.Load() == 1 }, time.Second, time.Millisecond)
	// the job is still blocked, so further ticks must not start it again
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), slow.runs.Load())

	close(slow.block)
	require.Eventually(t, func() bool { return slow.runs.Load() >= 2 }, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}

func TestScheduler_DisabledJobDoesNotRun(t *testing.T) {
	s := NewScheduler(SchedulerConfig{Tick: 2 * time.Millisecond})
	j := &countingJob{name: "off"}
	require.NoError(t, s.Register(j, Every(time.Millisecond)))
	require.NoError(t, s.SetEnabled("off", false))
	assert.ErrorIs(t, s.SetEnabled("missing", true), ErrJobNotFound)

	require.NoError(t, s.Start(context.Background(), false))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Zero(t, j.runs.Load())
}

func TestIntervalSchedule(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, base.Add(time.Hour), Every(time.Hour).Next(base))

	jittered := &IntervalSchedule{Interval: time.Hour, Jitter: time.Minute}
	for range 20 {
		next := jittered.Next(base)
		assert.False(t, next.Before(base.Add(time.Hour)))
		assert.True(t, next.Before(base.Add(time.Hour+time.Minute)))
	}
	assert.Equal(t, "@every 1h0m0s ±1m0s", jittered.String())
}
