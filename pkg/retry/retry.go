// Package retry re-runs idempotent operations with capped exponential backoff.
//
// Two schedules exist: ReadRetrier for passive reads of settings, catalog and
// unlocks, and ConflictRetrier for optimistic selection writes that are
// recomputed from fresh state on every attempt. Point-spending operations are
// never retried.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/alem-hub/progression-hub/pkg/logger"
)

// permanentError stops a Retrier whatever its predicate says.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as final. The Retrier returns err itself, unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Policy is one backoff schedule. The delay doubles after every attempt.
type Policy struct {
	// Attempts counts the first call too.
	Attempts int

	// Initial is the wait before the first retry.
	Initial time.Duration

	// Max caps a single wait.
	Max time.Duration

	// Jitter spreads each wait by up to this fraction in both directions.
	Jitter float64
}

// Delay returns the wait before retry n (1 is the first retry). rnd must
// return values in [0, 1).
func (p Policy) Delay(n int, rnd func() float64) time.Duration {
	d := float64(p.Initial) * math.Pow(2, float64(n-1))
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rnd()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

var (
	readPolicy     = Policy{Attempts: 3, Initial: 50 * time.Millisecond, Max: time.Second, Jitter: 0.1}
	conflictPolicy = Policy{Attempts: 4, Initial: 10 * time.Millisecond, Max: 200 * time.Millisecond, Jitter: 0.3}
)

// Retrier runs operations under one Policy.
type Retrier struct {
	name    string
	policy  Policy
	retryIf func(error) bool
	wait    func(ctx context.Context, d time.Duration) error
}

// ReadRetrier returns a Retrier for idempotent reads. retryIf picks the
// transient errors; everything else is returned at once.
func ReadRetrier(retryIf func(error) bool) *Retrier {
	return newRetrier("read", readPolicy, retryIf)
}

// ConflictRetrier returns a Retrier for optimistic writes that lost a version
// race. retryIf recognises the conflict.
func ConflictRetrier(retryIf func(error) bool) *Retrier {
	return newRetrier("conflict", conflictPolicy, retryIf)
}

func newRetrier(name string, p Policy, retryIf func(error) bool) *Retrier {
	return &Retrier{name: name, policy: p, retryIf: retryIf, wait: sleep}
}

// Policy returns the schedule of the Retrier.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do runs op until it succeeds, returns a Permanent error, returns an error
// retryIf rejects or the attempts run out. The last error is returned.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		last = err
		if attempt >= r.policy.Attempts || r.retryIf == nil || !r.retryIf(err) {
			return err
		}

		delay := r.policy.Delay(attempt, rand.Float64)
		logger.FromContext(ctx).Debug("retrying",
			logger.String("retrier", r.name),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err),
		)
		if r.wait(ctx, delay) != nil {
			return last
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Value runs an operation that returns data through r.
func Value[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}
