package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-hub/internal/application/eventhandler"
	"github.com/alem-hub/progression-hub/internal/domain/progression"
)

type fakeSweeper struct {
	stats eventhandler.SweepStats
	err   error
}

func (f fakeSweeper) Sweep(ctx context.Context) (eventhandler.SweepStats, error) {
	if _, ok := ctx.Deadline(); !ok {
		return eventhandler.SweepStats{}, errors.New("sweep without deadline")
	}
	return f.stats, f.err
}

func TestRevalidateSelectionsJob(t *testing.T) {
	job := NewRevalidateSelectionsJob(fakeSweeper{stats: eventhandler.SweepStats{Students: 3, Revocations: 1}}, RevalidateSelectionsConfig{}, nil)

	_, ok := job.LastStats()
	assert.False(t, ok)

	require.NoError(t, job.Run(context.Background()))
	stats, ok := job.LastStats()
	require.True(t, ok)
	assert.Equal(t, 3, stats.Students)
	assert.Equal(t, 1, stats.Revocations)
	assert.Equal(t, "revalidate_selections", job.Name())

	failing := NewRevalidateSelectionsJob(fakeSweeper{err: context.DeadlineExceeded}, DefaultRevalidateSelectionsConfig(), nil)
	assert.ErrorIs(t, failing.Run(context.Background()), context.DeadlineExceeded)
}

type fakeCurve struct {
	invalidated int
	err         error
}

func (f *fakeCurve) Invalidate() { f.invalidated++ }
func (f *fakeCurve) Current(context.Context) (progression.Settings, progression.Table, error) {
	if f.err != nil {
		return progression.Settings{}, nil, f.err
	}
	s := progression.DefaultSettings()
	return s, progression.BuildThresholds(s, 10), nil
}

func TestRefreshCurveJob(t *testing.T) {
	curve := &fakeCurve{}
	job := NewRefreshCurveJob(curve, nil)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, curve.invalidated)

	curve.err = errors.New("db down")
	assert.EqualError(t, job.Run(context.Background()), "db down")
	assert.Equal(t, 2, curve.invalidated)
}
