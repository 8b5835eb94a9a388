// Package progression переводит lifetime points в уровни.
//
// Кривая экспоненциальная: каждый уровень дороже предыдущего на difficulty_pct
// процентов, начиная с base_jump. Таблица зависит только от пары настроек
// и кэшируется сервисом кривой.
package progression

import (
	"context"
	"fmt"
	"math"

	"github.com/alem-hub/progression-hub/internal/domain/shared"
)

// Значения по умолчанию, если настройки не сохранены или некорректны.
const (
	DefaultBaseJump      = 50.0
	DefaultDifficultyPct = 8.0
)

// Settings - общие для процесса параметры кривой порогов.
type Settings struct {
	BaseJump      float64 `json:"base_jump"`
	DifficultyPct float64 `json:"difficulty_pct"`
}

// DefaultSettings возвращает параметры кривой по умолчанию.
func DefaultSettings() Settings {
	return Settings{BaseJump: DefaultBaseJump, DifficultyPct: DefaultDifficultyPct}
}

// Validate возвращает ошибку конфигурации для отрицательных и бесконечных значений.
func (s Settings) Validate() error {
	if !validParam(s.BaseJump) || !validParam(s.DifficultyPct) {
		return shared.Errorf("progression", "Settings", shared.ErrConfiguration,
			"base_jump and difficulty_pct must be finite and non-negative (got %v, %v)", s.BaseJump, s.DifficultyPct)
	}
	return nil
}

// Normalize возвращает пригодные настройки. Некорректные заменяются значениями
// по умолчанию, а ошибка с ErrConfiguration остаётся для лога.
func (s Settings) Normalize() (Settings, error) {
	if err := s.Validate(); err != nil {
		return DefaultSettings(), err
	}
	return s, nil
}

// Key - ключ закэшированной таблицы для этих настроек.
func (s Settings) Key() string {
	return fmt.Sprintf("%g:%g", s.BaseJump, s.DifficultyPct)
}

func validParam(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// SettingsRepository хранит настройки уровней.
type SettingsRepository interface {
	// GetSettings возвращает сохранённые настройки или ErrNotFound.
	GetSettings(ctx context.Context) (Settings, error)

	// SaveSettings заменяет сохранённые настройки.
	SaveSettings(ctx context.Context, s Settings) error
}

// ThresholdCache - общий кэш построенных таблиц по ключу Settings.Key().
// При промахе возвращается ошибка, оборачивающая ErrNotFound.
type ThresholdCache interface {
	GetThresholds(ctx context.Context, key string) (Table, error)
	SetThresholds(ctx context.Context, key string, table Table) error
}
