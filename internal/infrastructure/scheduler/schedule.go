package scheduler

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// IntervalSchedule runs a job every Interval, optionally delayed by a random
// jitter so several instances do not sweep at the same moment.
type IntervalSchedule struct {
	Interval time.Duration
	Jitter   time.Duration
}

// Every returns an IntervalSchedule without jitter.
func Every(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	next := t.Add(s.Interval)
	if s.Jitter > 0 {
		next = next.Add(rand.N(s.Jitter))
	}
	return next
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	if s.Jitter > 0 {
		return fmt.Sprintf("@every %s ±%s", s.Interval, s.Jitter)
	}
	return fmt.Sprintf("@every %s", s.Interval)
}
