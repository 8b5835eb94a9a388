// Package jobs contains the scheduled jobs of the progression hub.
package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alem-hub/progression-hub/internal/application/eventhandler"
	"github.com/alem-hub/progression-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVALIDATE SELECTIONS JOB
// Periodically re-checks every student's equipped cosmetics and resets what
// no longer passes its gate. Covers events that were lost.
// ══════════════════════════════════════════════════════════════════════════════

// Sweeper runs a full re-validation pass.
type Sweeper interface {
	Sweep(ctx context.Context) (eventhandler.SweepStats, error)
}

// RevalidateSelectionsConfig contains configuration for the job.
type RevalidateSelectionsConfig struct {
	// Timeout bounds a single sweep.
	Timeout time.Duration
}

// DefaultRevalidateSelectionsConfig returns sensible defaults.
func DefaultRevalidateSelectionsConfig() RevalidateSelectionsConfig {
	return RevalidateSelectionsConfig{Timeout: 10 * time.Minute}
}

// RevalidateSelectionsJob wraps the re-validation sweep as a scheduler job.
type RevalidateSelectionsJob struct {
	sweeper Sweeper
	config  RevalidateSelectionsConfig
	logger  *logger.Logger

	last atomic.Pointer[eventhandler.SweepStats]
}

// NewRevalidateSelectionsJob creates the job.
func NewRevalidateSelectionsJob(sweeper Sweeper, config RevalidateSelectionsConfig, log *logger.Logger) *RevalidateSelectionsJob {
	if config.Timeout <= 0 {
		config.Timeout = DefaultRevalidateSelectionsConfig().Timeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RevalidateSelectionsJob{
		sweeper: sweeper,
		config:  config,
		logger:  log.With(logger.Component("job.revalidate_selections")),
	}
}

// Name returns the job name.
func (j *RevalidateSelectionsJob) Name() string { return "revalidate_selections" }

// Description returns a human-readable description.
func (j *RevalidateSelectionsJob) Description() string {
	return "Resets equipped cosmetics that no longer pass their unlock gate"
}

// Run executes one sweep.
func (j *RevalidateSelectionsJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	stats, err := j.sweeper.Sweep(ctx)
	j.last.Store(&stats)
	if err != nil {
		return fmt.Errorf("revalidate selections: %w", err)
	}
	if stats.Revocations > 0 {
		j.logger.Info("selections revoked",
			logger.Int("students", stats.Students),
			logger.Int("revocations", stats.Revocations),
		)
	}
	return nil
}

// LastStats returns the stats of the previous run.
func (j *RevalidateSelectionsJob) LastStats() (eventhandler.SweepStats, bool) {
	s := j.last.Load()
	if s == nil {
		return eventhandler.SweepStats{}, false
	}
	return *s, true
}
