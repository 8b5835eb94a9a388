package cosmetic

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alem-hub/progression-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// UnlockRecord подтверждает разовую покупку. Записи только добавляются и не
// отзываются. Выключенный или удалённый предмет просто перестаёт проходить проверку.
type UnlockRecord struct {
	StudentID  string    `json:"student_id"`
	Category   Category  `json:"item_type"`
	ItemKey    string    `json:"item_key"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// UnlockSet - поиск по записям об открытии одного студента.
type UnlockSet map[string]struct{}

func unlockKey(c Category, key string) string {
	return string(c) + ":" + key
}

// NewUnlockSet строит множество из записей.
func NewUnlockSet(records []UnlockRecord) UnlockSet {
	set := make(UnlockSet, len(records))
	for _, r := range records {
		set[unlockKey(r.Category, r.ItemKey)] = struct{}{}
	}
	return set
}

// Has возвращает true, если предмет куплен.
func (s UnlockSet) Has(c Category, key string) bool {
	_, ok := s[unlockKey(c, key)]
	return ok
}

// Add отмечает предмет как купленный.
func (s UnlockSet) Add(c Category, key string) {
	s[unlockKey(c, key)] = struct{}{}
}

// ══════════════════════════════════════════════════════════════════════════════
// GATE
// ══════════════════════════════════════════════════════════════════════════════

// GateReason - причина решения проверки.
type GateReason string

const (
	GateAllowed      GateReason = "allowed"
	GateMissingItem  GateReason = "missing_item"
	GateDisabled     GateReason = "disabled"
	GateLevelTooLow  GateReason = "level_too_low"
	GateNotPurchased GateReason = "not_purchased"
)

// Decision - результат проверки.
type Decision struct {
	Allowed       bool       `json:"allowed"`
	Reason        GateReason `json:"reason"`
	MissingLevel  int        `json:"missing_level,omitempty"`
	MissingPoints float64    `json:"missing_points,omitempty"`
}

// Err превращает отказ в ошибку GateDenied с описанием того, чего не хватает.
// Для разрешения возвращает nil.
func (d Decision) Err(c Category, key string) error {
	switch d.Reason {
	case GateAllowed:
		return nil
	case GateMissingItem:
		return shared.Errorf("cosmetic", "Gate", shared.ErrNotFound, "%s %q does not exist", c, key)
	case GateDisabled:
		return shared.Errorf("cosmetic", "Gate", shared.ErrGateDenied, "%s %q is currently unavailable", c, key)
	case GateLevelTooLow:
		return shared.Errorf("cosmetic", "Gate", shared.ErrGateDenied, "reach level %d to unlock this %s", d.MissingLevel, c)
	case GateNotPurchased:
		return shared.Errorf("cosmetic", "Gate", shared.ErrGateDenied, "unlock this %s for %s points", c, formatPoints(d.MissingPoints))
	}
	return shared.Errorf("cosmetic", "Gate", shared.ErrGateDenied, "%s %q is locked", c, key)
}

// Gate проверяет условие открытия любого предмета:
// enabled AND level >= unlock_level AND (unlock_points == 0 OR куплен).
func Gate[T Item](item T, level int, unlocked UnlockSet) Decision {
	b := item.Base()
	if !b.Enabled {
		return Decision{Reason: GateDisabled}
	}
	if level < b.UnlockLevel {
		return Decision{Reason: GateLevelTooLow, MissingLevel: b.UnlockLevel}
	}
	if !b.IsFree() && !unlocked.Has(item.Category(), b.Key) {
		return Decision{Reason: GateNotPurchased, MissingPoints: b.UnlockPoints}
	}
	return Decision{Allowed: true, Reason: GateAllowed}
}

func formatPoints(p float64) string {
	if p == math.Trunc(p) {
		return fmt.Sprintf("%.0f", p)
	}
	return fmt.Sprintf("%.2f", p)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Shelf - предметы одной категории по ключу.
type Shelf[T Item] struct {
	items map[string]T
}

// NewShelf строит полку из списка предметов.
func NewShelf[T Item](items ...T) Shelf[T] {
	s := Shelf[T]{items: make(map[string]T, len(items))}
	for _, it := range items {
		s.items[it.Base().Key] = it
	}
	return s
}

// Find ищет предмет по ключу.
func (s Shelf[T]) Find(key string) (T, bool) {
	it, ok := s.items[key]
	return it, ok
}

// List возвращает предметы, упорядоченные по sort_order, уровню и ключу.
func (s Shelf[T]) List() []T {
	out := make([]T, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Base(), out[j].Base()
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		if a.UnlockLevel != b.UnlockLevel {
			return a.UnlockLevel < b.UnlockLevel
		}
		return a.Key < b.Key
	})
	return out
}

// Evaluate проверяет предмет по ключу. Для неизвестного ключа - GateMissingItem.
func (s Shelf[T]) Evaluate(key string, level int, unlocked UnlockSet) Decision {
	it, ok := s.Find(key)
	if !ok {
		return Decision{Reason: GateMissingItem}
	}
	return Gate(it, level, unlocked)
}

// Catalog - неизменяемое представление всех четырёх категорий.
type Catalog struct {
	Avatars       Shelf[Avatar]
	Effects       Shelf[Effect]
	CornerBorders Shelf[CornerBorder]
	CardPlates    Shelf[CardPlate]
}

// NewCatalog раскладывает предметы по полкам.
func NewCatalog(items ...Item) Catalog {
	var (
		avatars []Avatar
		effects []Effect
		borders []CornerBorder
		plates  []CardPlate
	)
	for _, it := range items {
		switch v := it.(type) {
		case Avatar:
			avatars = append(avatars, v)
		case Effect:
			effects = append(effects, v)
		case CornerBorder:
			borders = append(borders, v)
		case CardPlate:
			plates = append(plates, v)
		}
	}
	return Catalog{
		Avatars:       NewShelf(avatars...),
		Effects:       NewShelf(effects...),
		CornerBorders: NewShelf(borders...),
		CardPlates:    NewShelf(plates...),
	}
}

// Lookup ищет предмет в любой категории.
func (c Catalog) Lookup(category Category, key string) (Item, bool) {
	switch category {
	case CategoryAvatar:
		return lookup(c.Avatars, key)
	case CategoryEffect:
		return lookup(c.Effects, key)
	case CategoryCornerBorder:
		return lookup(c.CornerBorders, key)
	case CategoryCardPlate:
		return lookup(c.CardPlates, key)
	}
	return nil, false
}

func lookup[T Item](s Shelf[T], key string) (Item, bool) {
	it, ok := s.Find(key)
	if !ok {
		return nil, false
	}
	return it, true
}

// Evaluate проверяет предмет категории по ключу.
func (c Catalog) Evaluate(category Category, key string, level int, unlocked UnlockSet) Decision {
	switch category {
	case CategoryAvatar:
		return c.Avatars.Evaluate(key, level, unlocked)
	case CategoryEffect:
		return c.Effects.Evaluate(key, level, unlocked)
	case CategoryCornerBorder:
		return c.CornerBorders.Evaluate(key, level, unlocked)
	case CategoryCardPlate:
		return c.CardPlates.Evaluate(key, level, unlocked)
	}
	return Decision{Reason: GateMissingItem}
}

// Items возвращает все предметы категории в порядке отображения.
func (c Catalog) Items(category Category) []Item {
	switch category {
	case CategoryAvatar:
		return asItems(c.Avatars.List())
	case CategoryEffect:
		return asItems(c.Effects.List())
	case CategoryCornerBorder:
		return asItems(c.CornerBorders.List())
	case CategoryCardPlate:
		return asItems(c.CardPlates.List())
	}
	return nil
}

func asItems[T Item](in []T) []Item {
	out := make([]Item, len(in))
	for i, it := range in {
		out[i] = it
	}
	return out
}

// InsufficientBalance строит ошибку для покупки, на которую не хватает баланса.
func InsufficientBalance(cost, balance float64) error {
	return shared.Errorf("cosmetic", "Purchase", shared.ErrInsufficientBalance,
		"not enough points: need %s, have %s", formatPoints(cost), formatPoints(balance))
}
