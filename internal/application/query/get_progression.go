// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"time"

	"github.com/alem-hub/progression-hub/internal/application/view"
	"github.com/alem-hub/progression-hub/internal/domain/bonus"
	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/progression"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESSION QUERY
// Собирает всё, что нужно экрану профиля: уровень, ауру экипированного аватара,
// выбор косметики, готовность ежедневного бонуса и каталог с решениями гейта.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressionQuery содержит параметры запроса.
type GetProgressionQuery struct {
	// StudentID - внутренний ID студента.
	StudentID string

	// BaseRulePoints - базовые баллы правила для расчёта ауры (по умолчанию 1).
	BaseRulePoints float64

	// IncludeCatalog - включить каталог с решениями гейта по всем категориям.
	IncludeCatalog bool
}

// Validate проверяет корректность параметров запроса.
func (q *GetProgressionQuery) Validate() error {
	if q.StudentID == "" {
		return shared.NewDomainError("query", "GetProgression", shared.ErrValidation, "student_id is required")
	}
	if q.BaseRulePoints < 0 {
		return shared.NewDomainError("query", "GetProgression", shared.ErrValidation, "base_rule_points cannot be negative")
	}
	if q.BaseRulePoints == 0 {
		q.BaseRulePoints = 1
	}
	return nil
}

// ProgressionDTO - состояние прогресса студента.
type ProgressionDTO struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Уровень и баллы
	// ─────────────────────────────────────────────────────────────────────────

	StudentID      string                    `json:"student_id"`
	LifetimePoints float64                   `json:"lifetime_points"`
	PointsBalance  float64                   `json:"points_balance"`
	Level          progression.LevelProgress `json:"level"`
	Settings       progression.Settings      `json:"settings"`

	// ─────────────────────────────────────────────────────────────────────────
	// Косметика
	// ─────────────────────────────────────────────────────────────────────────

	// Selection - сохранённый выбор (может содержать уже невалидные ключи
	// до следующей ревалидации).
	Selection cosmetic.Selection `json:"selection"`

	// Avatar - экипированный аватар, только если он проходит гейт.
	Avatar *AvatarDTO `json:"avatar,omitempty"`

	// Aura - бонусы ауры; тождественные, если аватара нет.
	Aura      cosmetic.Aura `json:"aura"`
	AuraLines []string      `json:"aura_lines,omitempty"`

	// ─────────────────────────────────────────────────────────────────────────
	// Ежедневный бонус
	// ─────────────────────────────────────────────────────────────────────────

	DailyBonus DailyBonusDTO `json:"daily_bonus"`

	// Catalog - по категориям, если запрошен IncludeCatalog.
	Catalog map[cosmetic.Category][]CatalogEntryDTO `json:"catalog,omitempty"`
}

// AvatarDTO - экипированный аватар.
type AvatarDTO struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
}

// DailyBonusDTO - готовность ежедневного бонуса.
type DailyBonusDTO struct {
	// Points - сколько будет начислено (0 = бонус не настроен).
	Points int64 `json:"points"`

	// Ready - можно забрать прямо сейчас.
	Ready bool `json:"ready"`

	// ReadyAt - когда откроется окно.
	ReadyAt time.Time `json:"ready_at"`

	// RemainingSeconds - сколько осталось до открытия окна.
	RemainingSeconds int64 `json:"remaining_seconds"`
}

// CatalogEntryDTO - предмет каталога с решением гейта для студента.
type CatalogEntryDTO struct {
	Item     cosmetic.Item     `json:"item"`
	Decision cosmetic.Decision `json:"decision"`
	Owned    bool              `json:"owned"`
	Equipped bool              `json:"equipped"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// StudentLoader читает полное состояние студента.
type StudentLoader interface {
	Load(ctx context.Context, studentID string) (*view.Student, error)
}

// GetProgressionHandler обрабатывает GetProgressionQuery.
type GetProgressionHandler struct {
	loader   StudentLoader
	cooldown time.Duration
	now      func() time.Time
}

// NewGetProgressionHandler создаёт обработчик. now может быть nil.
func NewGetProgressionHandler(loader StudentLoader, cooldown time.Duration, now func() time.Time) *GetProgressionHandler {
	if cooldown <= 0 {
		cooldown = bonus.DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &GetProgressionHandler{loader: loader, cooldown: cooldown, now: now}
}

// Handle выполняет запрос.
func (h *GetProgressionHandler) Handle(ctx context.Context, q GetProgressionQuery) (*ProgressionDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	st, err := h.loader.Load(ctx, q.StudentID)
	if err != nil {
		return nil, err
	}

	aura := st.Aura(q.BaseRulePoints)
	dto := &ProgressionDTO{
		StudentID:      q.StudentID,
		LifetimePoints: st.Progress.LifetimePoints,
		PointsBalance:  st.Progress.PointsBalance,
		Level:          st.Level,
		Settings:       st.Settings,
		Selection:      st.Selection,
		Aura:           aura,
		AuraLines:      aura.Describe(q.BaseRulePoints),
	}

	if a, ok := st.EquippedAvatar(); ok {
		dto.Avatar = &AvatarDTO{Key: a.Key, Name: a.DisplayName(), ImageURL: a.ImageURL}
	}

	now := h.now().UTC()
	window := bonus.WindowFor(st.Selection, h.cooldown)
	dto.DailyBonus = DailyBonusDTO{
		Points:           aura.DailyBonusPoints,
		Ready:            aura.DailyBonusPoints > 0 && window.IsReady(now),
		ReadyAt:          window.ReadyAt(),
		RemainingSeconds: int64(window.Remaining(now) / time.Second),
	}

	if q.IncludeCatalog {
		dto.Catalog = catalogEntries(st)
	}
	return dto, nil
}

func catalogEntries(st *view.Student) map[cosmetic.Category][]CatalogEntryDTO {
	out := make(map[cosmetic.Category][]CatalogEntryDTO, len(cosmetic.AllCategories))
	for _, c := range cosmetic.AllCategories {
		items := st.Catalog.Items(c)
		entries := make([]CatalogEntryDTO, 0, len(items))
		for _, it := range items {
			key := it.Base().Key
			entries = append(entries, CatalogEntryDTO{
				Item:     it,
				Decision: st.Decide(c, key),
				Owned:    st.Unlocked.Has(c, key),
				Equipped: st.Selection.Key(c) == key,
			})
		}
		out[c] = entries
	}
	return out
}
