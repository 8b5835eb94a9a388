package progression

import "math"

// LevelProgress - положение студента на кривой (для прогресс-бара).
type LevelProgress struct {
	Level           int     `json:"level"`
	LifetimePoints  float64 `json:"lifetime_points"`
	CurrentLevelMin int64   `json:"current_level_min"`
	// NextLevelMin - nil на максимальном уровне.
	NextLevelMin *int64  `json:"next_level_min"`
	Progress     float64 `json:"progress"`
}

// IsMaxLevel возвращает true, если следующего уровня нет.
func (p LevelProgress) IsMaxLevel() bool {
	return p.NextLevelMin == nil
}

// PointsToNext возвращает, сколько баллов не хватает до следующего уровня.
// На максимальном уровне - 0.
func (p LevelProgress) PointsToNext() float64 {
	if p.NextLevelMin == nil {
		return 0
	}
	return math.Max(0, float64(*p.NextLevelMin)-p.LifetimePoints)
}

// ResolveProgress вычисляет уровень и прогресс до следующего.
func ResolveProgress(points float64, table Table) LevelProgress {
	if math.IsNaN(points) || points < 0 {
		points = 0
	}

	level := table.ResolveLevel(points)
	lp := LevelProgress{
		Level:           level,
		LifetimePoints:  points,
		CurrentLevelMin: table.Min(level),
	}

	if level >= table.MaxLevel() {
		lp.Progress = 1
		return lp
	}

	next := table.Min(level + 1)
	lp.NextLevelMin = &next

	span := math.Max(1, float64(next-lp.CurrentLevelMin))
	lp.Progress = clamp01((points - float64(lp.CurrentLevelMin)) / span)
	return lp
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
