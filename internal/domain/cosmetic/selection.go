package cosmetic

import (
	"time"
)

// Selection - выбранная студентом косметика (одна строка на студента).
type Selection struct {
	StudentID       string     `json:"student_id"`
	AvatarID        string     `json:"avatar_id"`
	ParticleStyle   string     `json:"particle_style"`
	CornerBorderKey string     `json:"corner_border_key"`
	CardPlateKey    string     `json:"card_plate_key"`
	AvatarSetAt     time.Time  `json:"avatar_set_at"`
	DailyGrantedAt  *time.Time `json:"avatar_daily_granted_at"`

	// Version растёт при каждой записи, на ней держится оптимистичная блокировка.
	Version int64 `json:"version"`
}

// NewSelection возвращает пустой выбор студента.
func NewSelection(studentID string, now time.Time) Selection {
	return Selection{
		StudentID:       studentID,
		AvatarID:        None,
		ParticleStyle:   None,
		CornerBorderKey: None,
		CardPlateKey:    None,
		AvatarSetAt:     now.UTC(),
	}
}

// Key возвращает выбранный ключ категории, пустой приводится к None.
func (s Selection) Key(c Category) string {
	var k string
	switch c {
	case CategoryAvatar:
		k = s.AvatarID
	case CategoryEffect:
		k = s.ParticleStyle
	case CategoryCornerBorder:
		k = s.CornerBorderKey
	case CategoryCardPlate:
		k = s.CardPlateKey
	}
	if IsNone(k) {
		return None
	}
	return k
}

// With возвращает копию с новым ключом категории. Смена аватара обновляет
// AvatarSetAt, от него отсчитывается первое окно ежедневного бонуса.
func (s Selection) With(c Category, key string, now time.Time) Selection {
	if IsNone(key) {
		key = None
	}
	switch c {
	case CategoryAvatar:
		if s.AvatarID != key {
			s.AvatarSetAt = now.UTC()
		}
		s.AvatarID = key
	case CategoryEffect:
		s.ParticleStyle = key
	case CategoryCornerBorder:
		s.CornerBorderKey = key
	case CategoryCardPlate:
		s.CardPlateKey = key
	}
	return s
}

// Revocation описывает выбор, сброшенный в None.
type Revocation struct {
	Category Category   `json:"category"`
	ItemKey  string     `json:"item_key"`
	Reason   GateReason `json:"reason"`
}

// EvaluateSelection перепроверяет все категории выбора. Ключ, чей предмет
// удалён, выключен или не проходит проверку, сбрасывается в None и попадает
// в отчёт. Функция не возвращает ошибок: сбросить выбор всегда безопасно.
func EvaluateSelection(sel Selection, level int, catalog Catalog, unlocked UnlockSet) (Selection, []Revocation) {
	var revoked []Revocation
	for _, c := range AllCategories {
		key := sel.Key(c)
		if key == None {
			continue
		}
		d := catalog.Evaluate(c, key, level, unlocked)
		if d.Allowed {
			continue
		}
		revoked = append(revoked, Revocation{Category: c, ItemKey: key, Reason: d.Reason})
		sel = sel.With(c, None, sel.AvatarSetAt)
	}
	return sel, revoked
}

// EquippedAvatar возвращает выбранный аватар, только если он сейчас проходит проверку.
func EquippedAvatar(sel Selection, level int, catalog Catalog, unlocked UnlockSet) (Avatar, bool) {
	key := sel.Key(CategoryAvatar)
	if key == None {
		return Avatar{}, false
	}
	a, ok := catalog.Avatars.Find(key)
	if !ok || !Gate(a, level, unlocked).Allowed {
		return Avatar{}, false
	}
	return a, true
}

// EquippedAura возвращает профиль ауры выбранного аватара или nil.
func EquippedAura(sel Selection, level int, catalog Catalog, unlocked UnlockSet) *AuraProfile {
	a, ok := EquippedAvatar(sel, level, catalog, unlocked)
	if !ok {
		return nil
	}
	return a.Aura
}
