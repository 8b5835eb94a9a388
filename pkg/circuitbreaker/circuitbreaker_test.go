package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func fail(context.Context) error    { return errBackend }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clk := &clock{t: time.Unix(0, 0)}
	var transitions []string
	cb := New(Settings{
		Name:      "test",
		Threshold: 2,
		Cooldown:  10 * time.Second,
		Now:       clk.now,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, cb.State())

	// open: rejected without calling fn
	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, 1, cb.Counts().Rejected)

	// after the cooldown one probe closes it
	clk.advance(10 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Counts().ConsecutiveFailures)

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	clk := &clock{t: time.Unix(0, 0)}
	cb := New(Settings{Threshold: 1, Cooldown: time.Second, Now: clk.now})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	clk.advance(time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen, "the cooldown starts again")
}

func TestBreaker_OneProbeAtATime(t *testing.T) {
	clk := &clock{t: time.Unix(0, 0)}
	cb := New(Settings{Threshold: 1, Cooldown: time.Second, Now: clk.now})
	ctx := context.Background()
	_ = cb.Execute(ctx, fail)
	clk.advance(time.Second)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		assert.Equal(t, StateHalfOpen, cb.State())
		assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestRedisBreaker_IgnoresFilteredErrors(t *testing.T) {
	miss := errors.New("miss")
	cb := RedisBreaker(func(err error) bool { return !errors.Is(err, miss) }, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return miss }), miss)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Counts().Failures)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, "redis", cb.Name())
	assert.Equal(t, 13, cb.Counts().Requests)
}

func TestNew_Defaults(t *testing.T) {
	cb := New(Settings{})
	assert.Equal(t, 5, cb.settings.Threshold)
	assert.Equal(t, 30*time.Second, cb.settings.Cooldown)
	assert.NotNil(t, cb.settings.Now)
}
