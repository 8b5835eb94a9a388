package progression

import (
	"math"
	"sort"
)

// MaxLevel - максимальный достижимый уровень.
const MaxLevel = 99

// Threshold - минимум lifetime points для уровня.
type Threshold struct {
	Level             int   `json:"level"`
	MinLifetimePoints int64 `json:"min_lifetime_points"`
}

// Table - упорядоченная таблица порогов, элемент i описывает уровень i+1.
// После построения таблица не меняется.
type Table []Threshold

// BuildThresholds строит таблицу порогов для уровней 1..maxLevel.
//
// Уровень 1 начинается с 0. Каждый следующий уровень добавляет к накопленной
// сумме base_jump * (1+difficulty/100)^(L-1), в таблицу идёт сумма, округлённая
// до десятков. Некорректные настройки заменяются значениями по умолчанию.
func BuildThresholds(s Settings, maxLevel int) Table {
	s, _ = s.Normalize()
	if maxLevel < 1 {
		maxLevel = 1
	}
	if maxLevel > MaxLevel {
		maxLevel = MaxLevel
	}

	table := make(Table, 0, maxLevel)
	table = append(table, Threshold{Level: 1, MinLifetimePoints: 0})

	growth := 1 + s.DifficultyPct/100
	total := 0.0
	prev := int64(0)
	for level := 2; level <= maxLevel; level++ {
		total += s.BaseJump * math.Pow(growth, float64(level-1))

		v := math.Floor(math.Round(total/10) * 10)
		min := int64(0)
		if v > 0 {
			if v >= math.MaxInt64 {
				min = math.MaxInt64
			} else {
				min = int64(v)
			}
		}
		// Таблица остаётся монотонной и на экстремальных входах.
		if min < prev {
			min = prev
		}
		prev = min

		table = append(table, Threshold{Level: level, MinLifetimePoints: min})
	}

	return table
}

// MaxLevel возвращает последний уровень таблицы.
func (t Table) MaxLevel() int {
	return len(t)
}

// Min возвращает порог уровня. Уровень прижимается к границам таблицы.
func (t Table) Min(level int) int64 {
	if len(t) == 0 || level <= 1 {
		return 0
	}
	if level > len(t) {
		level = len(t)
	}
	return t[level-1].MinLifetimePoints
}

// ResolveLevel возвращает наибольший уровень с порогом <= points, но не меньше 1.
// Отрицательные значения и NaN считаются нулём.
func (t Table) ResolveLevel(points float64) int {
	if len(t) == 0 {
		return 1
	}
	if math.IsNaN(points) || points < 0 {
		points = 0
	}

	// Первый индекс, чей порог больше points. Нужен уровень перед ним.
	idx := sort.Search(len(t), func(i int) bool {
		return float64(t[i].MinLifetimePoints) > points
	})
	if idx < 1 {
		return 1
	}
	return t[idx-1].Level
}

// IsMonotonic проверяет, что таблица начинается с 0 и не убывает.
func (t Table) IsMonotonic() bool {
	if len(t) == 0 || t[0].MinLifetimePoints != 0 {
		return false
	}
	for i := 1; i < len(t); i++ {
		if t[i].MinLifetimePoints < t[i-1].MinLifetimePoints {
			return false
		}
	}
	return true
}
