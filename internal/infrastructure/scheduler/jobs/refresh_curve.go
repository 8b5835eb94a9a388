package jobs

import (
	"context"

	"github.com/alem-hub/progression-hub/internal/domain/progression"
	"github.com/alem-hub/progression-hub/pkg/logger"
)

// CurveSource is the memoized curve that can be dropped and rebuilt.
type CurveSource interface {
	Invalidate()
	Current(ctx context.Context) (progression.Settings, progression.Table, error)
}

// RefreshCurveJob drops the memoized threshold table and rebuilds it, so an
// instance that missed a settings_changed event still converges.
type RefreshCurveJob struct {
	curve  CurveSource
	logger *logger.Logger
}

// NewRefreshCurveJob creates the job.
func NewRefreshCurveJob(curve CurveSource, log *logger.Logger) *RefreshCurveJob {
	if log == nil {
		log = logger.Nop()
	}
	return &RefreshCurveJob{curve: curve, logger: log.With(logger.Component("job.refresh_curve"))}
}

func (j *RefreshCurveJob) Name() string        { return "refresh_curve" }
func (j *RefreshCurveJob) Description() string { return "Rebuilds the level threshold table from stored settings" }

// Run invalidates and warms the curve.
func (j *RefreshCurveJob) Run(ctx context.Context) error {
	j.curve.Invalidate()
	settings, table, err := j.curve.Current(ctx)
	if err != nil {
		return err
	}
	j.logger.Debug("curve refreshed",
		logger.Float64("base_jump", settings.BaseJump),
		logger.Float64("difficulty_pct", settings.DifficultyPct),
		logger.Int("levels", len(table)),
	)
	return nil
}
