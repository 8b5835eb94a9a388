package cosmetic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/alem-hub/progression-hub/internal/domain/shared"
)

// AuraProfile - набор бонусов аватара.
// nil-профиль ничего не меняет: все множители 1, ежедневных баллов нет.
type AuraProfile struct {
	RuleKeeperMultiplier  float64 `json:"rule_keeper_multiplier" yaml:"rule_keeper_multiplier"`
	RuleBreakerMultiplier float64 `json:"rule_breaker_multiplier" yaml:"rule_breaker_multiplier"`
	SkillPulseMultiplier  float64 `json:"skill_pulse_multiplier" yaml:"skill_pulse_multiplier"`
	SpotlightMultiplier   float64 `json:"spotlight_multiplier" yaml:"spotlight_multiplier"`
	DailyFreePoints       float64 `json:"daily_free_points" yaml:"daily_free_points"`
}

// IdentityProfile возвращает профиль, который ничего не меняет.
func IdentityProfile() AuraProfile {
	return AuraProfile{
		RuleKeeperMultiplier:  1,
		RuleBreakerMultiplier: 1,
		SkillPulseMultiplier:  1,
		SpotlightMultiplier:   1,
		DailyFreePoints:       0,
	}
}

// UnmarshalJSON начинает с нейтрального профиля, поэтому пропущенный множитель равен 1.
func (p *AuraProfile) UnmarshalJSON(data []byte) error {
	type plain AuraProfile
	v := plain(IdentityProfile())
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	*p = AuraProfile(v)
	return nil
}

// Validate отклоняет отрицательные и бесконечные значения.
func (p AuraProfile) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"rule_keeper_multiplier", p.RuleKeeperMultiplier},
		{"rule_breaker_multiplier", p.RuleBreakerMultiplier},
		{"skill_pulse_multiplier", p.SkillPulseMultiplier},
		{"spotlight_multiplier", p.SpotlightMultiplier},
		{"daily_free_points", p.DailyFreePoints},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return shared.Errorf("cosmetic", "ValidateAura", shared.ErrValidation, "%s must be a non-negative number (got %v)", f.name, f.v)
		}
	}
	return nil
}

// sanitized заменяет непригодные значения нейтральными.
func (p *AuraProfile) sanitized() AuraProfile {
	id := IdentityProfile()
	if p == nil {
		return id
	}
	out := *p
	fix := func(v *float64, def float64) {
		if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
			*v = def
		}
	}
	fix(&out.RuleKeeperMultiplier, id.RuleKeeperMultiplier)
	fix(&out.RuleBreakerMultiplier, id.RuleBreakerMultiplier)
	fix(&out.SkillPulseMultiplier, id.SkillPulseMultiplier)
	fix(&out.SpotlightMultiplier, id.SpotlightMultiplier)
	fix(&out.DailyFreePoints, id.DailyFreePoints)
	return out
}

// Aura - вычисленные бонусы для начисления баллов.
type Aura struct {
	RuleKeeperPoints     int64 `json:"rule_keeper_points"`
	RuleBreakerPoints    int64 `json:"rule_breaker_points"`
	SkillPulseMultiplier int64 `json:"skill_pulse_multiplier"`
	SpotlightMultiplier  int64 `json:"spotlight_multiplier"`
	DailyBonusPoints     int64 `json:"daily_bonus_points"`
	HasModifier          bool  `json:"has_modifier"`
}

// ResolveAura вычисляет бонусы по профилю аватара, прошедшего проверку.
//
// Всё округляется вверх, поэтому множитель не опускает награду ниже базовой,
// а множители skill pulse и spotlight не бывают меньше 1.
// Если аватар не выбран или не проходит проверку, передаётся nil.
func ResolveAura(profile *AuraProfile, baseRulePoints float64) Aura {
	p := profile.sanitized()
	if math.IsNaN(baseRulePoints) || math.IsInf(baseRulePoints, 0) {
		baseRulePoints = 0
	}

	a := resolve(p, baseRulePoints)
	id := resolve(IdentityProfile(), baseRulePoints)
	a.HasModifier = a.RuleKeeperPoints != id.RuleKeeperPoints ||
		a.RuleBreakerPoints != id.RuleBreakerPoints ||
		a.SkillPulseMultiplier != id.SkillPulseMultiplier ||
		a.SpotlightMultiplier != id.SpotlightMultiplier ||
		a.DailyBonusPoints != id.DailyBonusPoints
	return a
}

func resolve(p AuraProfile, base float64) Aura {
	return Aura{
		RuleKeeperPoints:     int64(math.Ceil(base * p.RuleKeeperMultiplier)),
		RuleBreakerPoints:    int64(math.Ceil(base * p.RuleBreakerMultiplier)),
		SkillPulseMultiplier: int64(math.Max(1, math.Ceil(p.SkillPulseMultiplier))),
		SpotlightMultiplier:  int64(math.Max(1, math.Ceil(p.SpotlightMultiplier))),
		DailyBonusPoints:     int64(math.Max(0, math.Ceil(p.DailyFreePoints))),
	}
}

// Describe возвращает короткие строки для бонусов, отличных от нейтральных.
func (a Aura) Describe(baseRulePoints float64) []string {
	id := ResolveAura(nil, baseRulePoints)
	var lines []string
	if a.RuleKeeperPoints != id.RuleKeeperPoints {
		lines = append(lines, fmt.Sprintf("Rule keeper: %d pts (base %d)", a.RuleKeeperPoints, id.RuleKeeperPoints))
	}
	if a.RuleBreakerPoints != id.RuleBreakerPoints {
		lines = append(lines, fmt.Sprintf("Rule breaker: %d pts (base %d)", a.RuleBreakerPoints, id.RuleBreakerPoints))
	}
	if a.SkillPulseMultiplier > 1 {
		lines = append(lines, fmt.Sprintf("Skill pulse x%d", a.SkillPulseMultiplier))
	}
	if a.SpotlightMultiplier > 1 {
		lines = append(lines, fmt.Sprintf("Spotlight x%d", a.SpotlightMultiplier))
	}
	if a.DailyBonusPoints > 0 {
		lines = append(lines, fmt.Sprintf("Daily bonus +%d pts", a.DailyBonusPoints))
	}
	return lines
}
