// Package view собирает всё, что известно об одном студенте, и держит
// клиентские копии этого состояния согласованными с сервером.
package view

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/progression"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/internal/domain/student"
	"github.com/alem-hub/progression-hub/pkg/retry"
)

// Curve отдаёт текущие настройки и их таблицу порогов.
type Curve interface {
	Current(ctx context.Context) (progression.Settings, progression.Table, error)
}

// Student - всё, что нужно для проверок, расчёта и отображения студента.
type Student struct {
	Progress  student.Progress
	Level     progression.LevelProgress
	Settings  progression.Settings
	Table     progression.Table
	Catalog   cosmetic.Catalog
	Records   []cosmetic.UnlockRecord
	Unlocked  cosmetic.UnlockSet
	Selection cosmetic.Selection
}

// Decide проверяет один предмет каталога для студента.
func (s *Student) Decide(c cosmetic.Category, key string) cosmetic.Decision {
	return s.Catalog.Evaluate(c, key, s.Level.Level, s.Unlocked)
}

// Aura возвращает ауру выбранного аватара или нейтральную.
func (s *Student) Aura(baseRulePoints float64) cosmetic.Aura {
	return cosmetic.ResolveAura(cosmetic.EquippedAura(s.Selection, s.Level.Level, s.Catalog, s.Unlocked), baseRulePoints)
}

// EquippedAvatar возвращает выбранный аватар, если он проходит проверку.
func (s *Student) EquippedAvatar() (cosmetic.Avatar, bool) {
	return cosmetic.EquippedAvatar(s.Selection, s.Level.Level, s.Catalog, s.Unlocked)
}

// Loader читает Student из репозиториев. Все чтения идемпотентны и
// повторяются при временных сбоях.
type Loader struct {
	curve      Curve
	progress   student.ProgressRepository
	catalog    cosmetic.CatalogRepository
	unlocks    cosmetic.UnlockRepository
	selections cosmetic.SelectionRepository
	retrier    *retry.Retrier
}

// NewLoader создаёт Loader.
func NewLoader(
	curve Curve,
	progress student.ProgressRepository,
	catalog cosmetic.CatalogRepository,
	unlocks cosmetic.UnlockRepository,
	selections cosmetic.SelectionRepository,
) *Loader {
	return &Loader{
		curve:      curve,
		progress:   progress,
		catalog:    catalog,
		unlocks:    unlocks,
		selections: selections,
		retrier:    retry.ReadRetrier(isTransient),
	}
}

// isTransient - повторяем всё, что не является доменным результатом.
func isTransient(err error) bool {
	return !shared.IsNotFound(err) && !shared.IsValidation(err) && !shared.IsGateDenied(err)
}

// Load параллельно читает все части состояния студента.
func (l *Loader) Load(ctx context.Context, studentID string) (*Student, error) {
	var (
		s       Student
		catalog cosmetic.Catalog
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		settings, table, err := l.curve.Current(gctx)
		if err != nil {
			return err
		}
		s.Settings, s.Table = settings, table
		return nil
	})
	g.Go(func() error {
		p, err := retry.Value(gctx, l.retrier, func(ctx context.Context) (student.Progress, error) {
			return l.progress.GetProgress(ctx, studentID)
		})
		s.Progress = p
		return err
	})
	g.Go(func() error {
		c, err := l.Catalog(gctx)
		catalog = c
		return err
	})
	g.Go(func() error {
		recs, err := retry.Value(gctx, l.retrier, func(ctx context.Context) ([]cosmetic.UnlockRecord, error) {
			return l.unlocks.ListUnlocks(ctx, studentID)
		})
		s.Records = recs
		return err
	})
	g.Go(func() error {
		sel, err := retry.Value(gctx, l.retrier, func(ctx context.Context) (cosmetic.Selection, error) {
			return l.selections.GetSelection(ctx, studentID)
		})
		s.Selection = sel
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.Catalog = catalog
	s.Unlocked = cosmetic.NewUnlockSet(s.Records)
	s.Level = progression.ResolveProgress(s.Progress.LifetimePoints, s.Table)
	return &s, nil
}

// Catalog читает все четыре категории.
func (l *Loader) Catalog(ctx context.Context) (cosmetic.Catalog, error) {
	var all []cosmetic.Item
	for _, c := range cosmetic.AllCategories {
		items, err := retry.Value(ctx, l.retrier, func(ctx context.Context) ([]cosmetic.Item, error) {
			return l.catalog.ListItems(ctx, c)
		})
		if err != nil {
			return cosmetic.Catalog{}, fmt.Errorf("load %s catalog: %w", c, err)
		}
		all = append(all, items...)
	}
	return cosmetic.NewCatalog(all...), nil
}
