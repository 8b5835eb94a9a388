package service

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/alem-hub/progression-hub/internal/domain/progression"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/pkg/logger"
)

// CurveService is the process-wide cache of level settings and threshold tables.
//
// Tables are memoized per (base_jump, difficulty_pct) pair and never rebuilt for
// a pair that is already known. The current settings are loaded lazily and dropped
// by Invalidate, which the settings-changed event handler calls.
type CurveService struct {
	settings progression.SettingsRepository
	shared   progression.ThresholdCache // optional
	maxLevel int
	log      *logger.Logger

	mu      sync.RWMutex
	tables  map[string]progression.Table
	current *progression.Settings
	group   singleflight.Group
}

// NewCurveService creates a new CurveService. sharedCache may be nil.
func NewCurveService(settings progression.SettingsRepository, sharedCache progression.ThresholdCache, maxLevel int, log *logger.Logger) *CurveService {
	if maxLevel <= 0 || maxLevel > progression.MaxLevel {
		maxLevel = progression.MaxLevel
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CurveService{
		settings: settings,
		shared:   sharedCache,
		maxLevel: maxLevel,
		log:      log.With(logger.Component("curve_service")),
		tables:   make(map[string]progression.Table),
	}
}

// Settings returns the current level settings, falling back to the defaults when
// none are stored or the stored ones are invalid.
func (s *CurveService) Settings(ctx context.Context) (progression.Settings, error) {
	s.mu.RLock()
	if s.current != nil {
		cur := *s.current
		s.mu.RUnlock()
		return cur, nil
	}
	s.mu.RUnlock()

	v, err, _ := s.group.Do("settings", func() (interface{}, error) {
		stored, err := s.settings.GetSettings(ctx)
		if err != nil {
			if !shared.IsNotFound(err) {
				return nil, err
			}
			s.log.Info("no level settings stored, using defaults")
			stored = progression.DefaultSettings()
		}

		normalized, verr := stored.Normalize()
		if verr != nil {
			s.log.Warn("invalid level settings, using defaults", logger.Err(verr))
		}

		s.mu.Lock()
		s.current = &normalized
		s.mu.Unlock()
		return normalized, nil
	})
	if err != nil {
		return progression.Settings{}, err
	}
	return v.(progression.Settings), nil
}

// Current returns the current settings together with their table.
func (s *CurveService) Current(ctx context.Context) (progression.Settings, progression.Table, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return progression.Settings{}, nil, err
	}
	return settings, s.Thresholds(ctx, settings), nil
}

// Thresholds returns the memoized table for the given settings, building it once.
func (s *CurveService) Thresholds(ctx context.Context, settings progression.Settings) progression.Table {
	settings, _ = settings.Normalize()
	key := settings.Key()

	s.mu.RLock()
	table, ok := s.tables[key]
	s.mu.RUnlock()
	if ok {
		return table
	}

	v, _, _ := s.group.Do("table:"+key, func() (interface{}, error) {
		if s.shared != nil {
			cached, err := s.shared.GetThresholds(ctx, key)
			if err == nil && len(cached) == s.maxLevel && cached.IsMonotonic() {
				s.store(key, cached)
				return cached, nil
			}
		}

		built := progression.BuildThresholds(settings, s.maxLevel)
		s.store(key, built)

		if s.shared != nil {
			if err := s.shared.SetThresholds(ctx, key, built); err != nil {
				s.log.Warn("failed to share threshold table", logger.String("key", key), logger.Err(err))
			}
		}
		s.log.Debug("threshold table built", logger.String("key", key), logger.Int("levels", len(built)))
		return built, nil
	})
	return v.(progression.Table)
}

// Progress resolves a student's level progress against the current table.
func (s *CurveService) Progress(ctx context.Context, lifetimePoints float64) (progression.LevelProgress, error) {
	_, table, err := s.Current(ctx)
	if err != nil {
		return progression.LevelProgress{}, err
	}
	return progression.ResolveProgress(lifetimePoints, table), nil
}

// Level resolves only the effective level.
func (s *CurveService) Level(ctx context.Context, lifetimePoints float64) (int, error) {
	_, table, err := s.Current(ctx)
	if err != nil {
		return 0, err
	}
	return table.ResolveLevel(lifetimePoints), nil
}

// Invalidate drops the current settings so the next read reloads them.
// Built tables stay memoized: they depend only on their settings pair.
func (s *CurveService) Invalidate() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	s.group.Forget("settings")
}

// OnSettingsChanged is the event handler wired to EventSettingsChanged.
func (s *CurveService) OnSettingsChanged(event shared.Event) error {
	if event.EventType() != shared.EventSettingsChanged {
		return errors.New("curve_service: unexpected event " + string(event.EventType()))
	}
	s.Invalidate()
	s.log.Info("level settings changed, cache invalidated")
	return nil
}

func (s *CurveService) store(key string, table progression.Table) {
	s.mu.Lock()
	s.tables[key] = table
	s.mu.Unlock()
}
