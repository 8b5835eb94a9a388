// Package cosmetic содержит каталог косметики, общий для всех категорий
// механизм открытия и бонусы ауры, которые дают аватары.
package cosmetic

import (
	"strings"

	"github.com/alem-hub/progression-hub/internal/domain/shared"
)

// None - ключ выбора, означающий "ничего не надето".
const None = "none"

// Category - слот косметики. Все категории открываются по одному алгоритму.
type Category string

const (
	CategoryAvatar       Category = "avatar"
	CategoryEffect       Category = "effect"
	CategoryCornerBorder Category = "corner_border"
	CategoryCardPlate    Category = "card_plate"
)

// AllCategories - категории в порядке проверки.
var AllCategories = []Category{
	CategoryAvatar,
	CategoryEffect,
	CategoryCornerBorder,
	CategoryCardPlate,
}

// IsValid проверяет, что категория известна.
func (c Category) IsValid() bool {
	switch c {
	case CategoryAvatar, CategoryEffect, CategoryCornerBorder, CategoryCardPlate:
		return true
	}
	return false
}

// String реализует fmt.Stringer.
func (c Category) String() string {
	return string(c)
}

// ParseCategory разбирает имя категории. Старые написания тоже принимаются.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "avatar", "avatars":
		return CategoryAvatar, nil
	case "effect", "effects", "particle", "particle_effect", "particle_style":
		return CategoryEffect, nil
	case "corner_border", "corner_borders", "border", "corner-border":
		return CategoryCornerBorder, nil
	case "card_plate", "card_plates", "plate", "card-plate":
		return CategoryCardPlate, nil
	}
	return "", shared.Errorf("cosmetic", "ParseCategory", shared.ErrNotFound, "unknown cosmetic category %q", s)
}

// IsNone возвращает true, если ключ выбора означает "ничего не надето".
func IsNone(key string) bool {
	k := strings.TrimSpace(key)
	return k == "" || strings.EqualFold(k, None)
}
