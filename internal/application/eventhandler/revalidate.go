// Package eventhandler содержит обработчики доменных событий.
// Обработчики реагируют на изменения уровня, покупок, каталога и настроек
// и приводят сохранённый выбор косметики в соответствие с гейтом.
package eventhandler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/progression-hub/internal/application/view"
	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/pkg/logger"
	"github.com/alem-hub/progression-hub/pkg/retry"
)

// ═══════════════════════════════════════════════════════════════════════════
// REVALIDATE SELECTION HANDLER
// Сбрасывает в "none" всё, что больше не проходит гейт: уровень упал,
// предмет выключен или удалён. Ошибки только логируются - ревалидация
// пассивна и никогда не возвращает ошибку вызывающему.
// ═══════════════════════════════════════════════════════════════════════════

// StudentLoader читает полное состояние студента.
type StudentLoader interface {
	Load(ctx context.Context, studentID string) (*view.Student, error)
}

// Invalidator сбрасывает закешированные настройки кривой.
type Invalidator interface {
	Invalidate()
}

// RevalidateConfig содержит конфигурацию обработчика.
type RevalidateConfig struct {
	// EventTimeout - лимит времени на обработку одного события.
	EventTimeout time.Duration

	// SweepPageSize - сколько студентов читать за страницу при полном обходе.
	SweepPageSize int

	// SweepConcurrency - сколько студентов проверять параллельно.
	SweepConcurrency int

	// Enabled - флаг cosmetics.auto_revoke. nil означает "включено".
	Enabled func(studentID string) bool
}

// DefaultRevalidateConfig возвращает конфигурацию по умолчанию.
func DefaultRevalidateConfig() RevalidateConfig {
	return RevalidateConfig{
		EventTimeout:     30 * time.Second,
		SweepPageSize:    200,
		SweepConcurrency: 8,
	}
}

// RevalidateHandler держит выбор косметики валидным.
type RevalidateHandler struct {
	loader     StudentLoader
	selections cosmetic.SelectionRepository
	publisher  shared.EventPublisher
	curve      Invalidator
	retrier    *retry.Retrier
	logger     *logger.Logger
	config     RevalidateConfig
}

// NewRevalidateHandler создаёт обработчик. curve может быть nil.
func NewRevalidateHandler(
	loader StudentLoader,
	selections cosmetic.SelectionRepository,
	publisher shared.EventPublisher,
	curve Invalidator,
	log *logger.Logger,
	config RevalidateConfig,
) *RevalidateHandler {
	def := DefaultRevalidateConfig()
	if config.EventTimeout <= 0 {
		config.EventTimeout = def.EventTimeout
	}
	if config.SweepPageSize <= 0 {
		config.SweepPageSize = def.SweepPageSize
	}
	if config.SweepConcurrency <= 0 {
		config.SweepConcurrency = def.SweepConcurrency
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RevalidateHandler{
		loader:     loader,
		selections: selections,
		publisher:  publisher,
		curve:      curve,
		retrier:    retry.ConflictRetrier(shared.IsConflict),
		logger:     log.With(logger.Component("revalidate")),
		config:     config,
	}
}

// Register подписывает обработчик на все события, которые могут сделать
// выбор невалидным.
func (h *RevalidateHandler) Register(sub shared.EventSubscriber) error {
	for _, t := range []shared.EventType{
		shared.EventLevelChanged,
		shared.EventUnlockRecorded,
		shared.EventCatalogChanged,
		shared.EventSettingsChanged,
	} {
		if err := sub.Subscribe(t, h.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle реализует shared.EventHandler. Всегда возвращает nil.
func (h *RevalidateHandler) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.EventTimeout)
	defer cancel()

	switch event.EventType() {
	case shared.EventLevelChanged, shared.EventUnlockRecorded:
		h.revalidateLogged(ctx, event.AggregateID())

	case shared.EventCatalogChanged:
		category, err := cosmetic.ParseCategory(shared.PayloadString(event, "category"))
		key := shared.PayloadString(event, "item_key")
		if err != nil || key == "" {
			h.logger.Warn("catalog event without item", logger.String("aggregate_id", event.AggregateID()))
			return nil
		}
		h.OnCatalogChanged(ctx, category, key)

	case shared.EventSettingsChanged:
		// Уровни всех студентов пересчитываются от новой кривой.
		if h.curve != nil {
			h.curve.Invalidate()
		}
		if _, err := h.Sweep(ctx); err != nil {
			h.logger.Error("sweep after settings change failed", logger.Err(err))
		}
	}
	return nil
}

// OnCatalogChanged проверяет студентов, у которых выбран изменённый предмет.
func (h *RevalidateHandler) OnCatalogChanged(ctx context.Context, category cosmetic.Category, key string) {
	ids, err := h.selections.FindStudentsUsing(ctx, category, key)
	if err != nil {
		h.logger.Error("failed to find students using item",
			logger.Category(string(category)), logger.ItemKey(key), logger.Err(err))
		return
	}
	h.revalidateAll(ctx, ids)
}

// Revalidate приводит выбор одного студента к валидному состоянию и
// возвращает сброшенные категории.
func (h *RevalidateHandler) Revalidate(ctx context.Context, studentID string) ([]cosmetic.Revocation, error) {
	if h.config.Enabled != nil && !h.config.Enabled(studentID) {
		return nil, nil
	}

	var revoked []cosmetic.Revocation
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		st, err := h.loader.Load(ctx, studentID)
		if err != nil {
			return retry.Permanent(err)
		}
		next, rv := cosmetic.EvaluateSelection(st.Selection, st.Level.Level, st.Catalog, st.Unlocked)
		if len(rv) == 0 {
			revoked = nil
			return nil
		}
		if _, err := h.selections.UpdateSelection(ctx, next, st.Selection.Version); err != nil {
			if shared.IsConflict(err) {
				return err
			}
			return retry.Permanent(err)
		}
		revoked = rv
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, r := range revoked {
		h.logger.Info("selection revoked",
			logger.StudentID(studentID),
			logger.Category(string(r.Category)),
			logger.ItemKey(r.ItemKey),
			logger.String("reason", string(r.Reason)),
		)
		if h.publisher == nil {
			continue
		}
		ev := shared.NewSelectionRevokedEvent(studentID, string(r.Category), r.ItemKey, string(r.Reason))
		if err := h.publisher.Publish(ev); err != nil {
			h.logger.Warn("failed to publish revocation", logger.StudentID(studentID), logger.Err(err))
		}
	}
	return revoked, nil
}

func (h *RevalidateHandler) revalidateLogged(ctx context.Context, studentID string) int {
	if studentID == "" {
		return 0
	}
	revoked, err := h.Revalidate(ctx, studentID)
	if err != nil {
		if shared.IsNotFound(err) {
			h.logger.Debug("skipping unknown student", logger.StudentID(studentID))
		} else {
			h.logger.Error("revalidation failed", logger.StudentID(studentID), logger.Err(err))
		}
		return 0
	}
	return len(revoked)
}

func (h *RevalidateHandler) revalidateAll(ctx context.Context, ids []string) int {
	var (
		g     errgroup.Group
		count = make([]int, len(ids))
	)
	g.SetLimit(h.config.SweepConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			count[i] = h.revalidateLogged(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for _, n := range count {
		total += n
	}
	return total
}

// SweepStats - итог полного обхода.
type SweepStats struct {
	Students    int
	Revocations int
	Duration    time.Duration
}

// Sweep проверяет всех студентов постранично. Нужен, чтобы пропущенные
// события всё равно сошлись к валидному состоянию.
func (h *RevalidateHandler) Sweep(ctx context.Context) (SweepStats, error) {
	start := time.Now()
	var (
		stats SweepStats
		after string
	)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		ids, err := h.selections.ListStudentIDs(ctx, after, h.config.SweepPageSize)
		if err != nil {
			return stats, err
		}
		if len(ids) == 0 {
			break
		}
		stats.Students += len(ids)
		stats.Revocations += h.revalidateAll(ctx, ids)
		after = ids[len(ids)-1]
		if len(ids) < h.config.SweepPageSize {
			break
		}
	}
	stats.Duration = time.Since(start)
	h.logger.Info("revalidation sweep finished",
		logger.Int("students", stats.Students),
		logger.Int("revocations", stats.Revocations),
		logger.Latency(stats.Duration),
	)
	return stats, nil
}
