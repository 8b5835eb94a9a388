package cosmetic

import (
	"math"
	"strings"

	"github.com/alem-hub/progression-hub/internal/domain/shared"
)

// Item реализуют все виды косметики.
type Item interface {
	Category() Category
	Base() ItemBase
}

// ItemBase - общие поля всех категорий, включая условия открытия.
type ItemBase struct {
	Key          string  `json:"key" yaml:"key"`
	Name         string  `json:"name" yaml:"name"`
	UnlockLevel  int     `json:"unlock_level" yaml:"unlock_level"`
	UnlockPoints float64 `json:"unlock_points" yaml:"unlock_points"`
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	SortOrder    int     `json:"sort_order" yaml:"sort_order"`
}

// Base реализует Item.
func (b ItemBase) Base() ItemBase { return b }

// IsFree возвращает true, если после достижения уровня покупать предмет не нужно.
func (b ItemBase) IsFree() bool { return b.UnlockPoints <= 0 }

// Validate проверяет общие поля.
func (b ItemBase) Validate() error {
	if IsNone(b.Key) {
		return shared.NewDomainError("cosmetic", "Validate", shared.ErrValidation, "item key is required and cannot be \"none\"")
	}
	if b.UnlockLevel < 1 {
		return shared.Errorf("cosmetic", "Validate", shared.ErrValidation, "unlock_level must be >= 1 (got %d)", b.UnlockLevel)
	}
	if math.IsNaN(b.UnlockPoints) || math.IsInf(b.UnlockPoints, 0) || b.UnlockPoints < 0 {
		return shared.Errorf("cosmetic", "Validate", shared.ErrValidation, "unlock_points must be a non-negative number (got %v)", b.UnlockPoints)
	}
	return nil
}

// DisplayName возвращает имя, а если его нет - ключ с пробелами.
func (b ItemBase) DisplayName() string {
	if strings.TrimSpace(b.Name) != "" {
		return b.Name
	}
	return strings.ReplaceAll(b.Key, "_", " ")
}

// Avatar - изображение персонажа. Аура есть только у аватаров.
type Avatar struct {
	ItemBase `yaml:",inline"`
	ImageURL string       `json:"image_url,omitempty" yaml:"image_url"`
	Aura     *AuraProfile `json:"aura,omitempty" yaml:"aura"`
}

// Category реализует Item.
func (Avatar) Category() Category { return CategoryAvatar }

// Effect - эффект частиц вокруг карточки студента.
type Effect struct {
	ItemBase `yaml:",inline"`
	Style    string `json:"style,omitempty" yaml:"style"`
}

// Category реализует Item.
func (Effect) Category() Category { return CategoryEffect }

// CornerBorder - декоративная рамка углов карточки.
type CornerBorder struct {
	ItemBase `yaml:",inline"`
	ImageURL string `json:"image_url,omitempty" yaml:"image_url"`
}

// Category реализует Item.
func (CornerBorder) Category() Category { return CategoryCornerBorder }

// CardPlate - фоновая подложка карточки.
type CardPlate struct {
	ItemBase `yaml:",inline"`
	ImageURL string `json:"image_url,omitempty" yaml:"image_url"`
}

// Category реализует Item.
func (CardPlate) Category() Category { return CategoryCardPlate }

// ValidateItem проверяет предмет любого вида.
func ValidateItem(item Item) error {
	if item == nil {
		return shared.NewDomainError("cosmetic", "Validate", shared.ErrValidation, "item is required")
	}
	if !item.Category().IsValid() {
		return shared.ErrUnknownCategory
	}
	if err := item.Base().Validate(); err != nil {
		return err
	}
	if a, ok := item.(Avatar); ok && a.Aura != nil {
		return a.Aura.Validate()
	}
	return nil
}
