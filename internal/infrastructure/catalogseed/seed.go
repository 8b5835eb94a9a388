// Package catalogseed loads the cosmetic catalog and curve settings from a
// YAML file and writes them into the repositories.
package catalogseed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/progression"
	"github.com/alem-hub/progression-hub/pkg/logger"
)

// File is the on-disk layout of a seed file.
//
//	settings:
//	  base_jump: 50
//	  difficulty_pct: 8
//	avatars:
//	  - key: fox
//	    unlock_level: 1
//	    aura: {rule_keeper_multiplier: 1.5, daily_free_points: 10}  # omitted multipliers are 1
//	effects: [...]
//	corner_borders: [...]
//	card_plates: [...]
type File struct {
	Settings      *settingsDoc   `yaml:"settings"`
	Avatars       []avatarDoc    `yaml:"avatars"`
	Effects       []effectDoc    `yaml:"effects"`
	CornerBorders []imageItemDoc `yaml:"corner_borders"`
	CardPlates    []imageItemDoc `yaml:"card_plates"`
}

type settingsDoc struct {
	BaseJump      float64 `yaml:"base_jump"`
	DifficultyPct float64 `yaml:"difficulty_pct"`
}

// baseDoc differs from cosmetic.ItemBase only in Enabled, which defaults to
// true when omitted.
type baseDoc struct {
	Key          string  `yaml:"key"`
	Name         string  `yaml:"name"`
	UnlockLevel  int     `yaml:"unlock_level"`
	UnlockPoints float64 `yaml:"unlock_points"`
	Enabled      *bool   `yaml:"enabled"`
	SortOrder    int     `yaml:"sort_order"`
}

func (b baseDoc) base() cosmetic.ItemBase {
	enabled := b.Enabled == nil || *b.Enabled
	level := b.UnlockLevel
	if level == 0 {
		level = 1
	}
	return cosmetic.ItemBase{
		Key:          b.Key,
		Name:         b.Name,
		UnlockLevel:  level,
		UnlockPoints: b.UnlockPoints,
		Enabled:      enabled,
		SortOrder:    b.SortOrder,
	}
}

type avatarDoc struct {
	baseDoc  `yaml:",inline"`
	ImageURL string   `yaml:"image_url"`
	Aura     *auraDoc `yaml:"aura"`
}

// auraDoc keeps omitted multipliers apart from explicit zeros.
type auraDoc struct {
	RuleKeeperMultiplier  *float64 `yaml:"rule_keeper_multiplier"`
	RuleBreakerMultiplier *float64 `yaml:"rule_breaker_multiplier"`
	SkillPulseMultiplier  *float64 `yaml:"skill_pulse_multiplier"`
	SpotlightMultiplier   *float64 `yaml:"spotlight_multiplier"`
	DailyFreePoints       *float64 `yaml:"daily_free_points"`
}

func (d *auraDoc) profile() *cosmetic.AuraProfile {
	if d == nil {
		return nil
	}
	p := cosmetic.IdentityProfile()
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&p.RuleKeeperMultiplier, d.RuleKeeperMultiplier)
	set(&p.RuleBreakerMultiplier, d.RuleBreakerMultiplier)
	set(&p.SkillPulseMultiplier, d.SkillPulseMultiplier)
	set(&p.SpotlightMultiplier, d.SpotlightMultiplier)
	set(&p.DailyFreePoints, d.DailyFreePoints)
	return &p
}

type effectDoc struct {
	baseDoc `yaml:",inline"`
	Style   string `yaml:"style"`
}

type imageItemDoc struct {
	baseDoc  `yaml:",inline"`
	ImageURL string `yaml:"image_url"`
}

// Seed is a parsed and validated seed file.
type Seed struct {
	Settings *progression.Settings
	Items    []cosmetic.Item
}

// Parse decodes and validates a seed document. Unknown fields are rejected.
func Parse(r io.Reader) (Seed, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	return f.Seed()
}

// LoadFile parses the seed file at path.
func LoadFile(path string) (Seed, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Seed{}, fmt.Errorf("open seed: %w", err)
	}
	defer fh.Close()
	return Parse(fh)
}

// Seed converts the document into domain values, validating each item and
// rejecting duplicate keys within a category.
func (f File) Seed() (Seed, error) {
	var s Seed
	if f.Settings != nil {
		settings := progression.Settings{BaseJump: f.Settings.BaseJump, DifficultyPct: f.Settings.DifficultyPct}
		if err := settings.Validate(); err != nil {
			return Seed{}, fmt.Errorf("settings: %w", err)
		}
		s.Settings = &settings
	}

	for _, a := range f.Avatars {
		s.Items = append(s.Items, cosmetic.Avatar{ItemBase: a.base(), ImageURL: a.ImageURL, Aura: a.Aura.profile()})
	}
	for _, e := range f.Effects {
		s.Items = append(s.Items, cosmetic.Effect{ItemBase: e.base(), Style: e.Style})
	}
	for _, b := range f.CornerBorders {
		s.Items = append(s.Items, cosmetic.CornerBorder{ItemBase: b.base(), ImageURL: b.ImageURL})
	}
	for _, p := range f.CardPlates {
		s.Items = append(s.Items, cosmetic.CardPlate{ItemBase: p.base(), ImageURL: p.ImageURL})
	}

	seen := make(map[string]struct{}, len(s.Items))
	for _, it := range s.Items {
		id := it.Category().String() + ":" + it.Base().Key
		if _, dup := seen[id]; dup {
			return Seed{}, fmt.Errorf("duplicate item %s", id)
		}
		seen[id] = struct{}{}
		if err := cosmetic.ValidateItem(it); err != nil {
			return Seed{}, fmt.Errorf("item %s: %w", id, err)
		}
	}
	return s, nil
}

// Stats summarizes an Apply run.
type Stats struct {
	SettingsSaved bool
	Items         map[cosmetic.Category]int
}

// Apply writes the seed into the repositories. Items are upserted, so
// re-running a seed is safe. A nil settings repository skips settings.
func Apply(ctx context.Context, seed Seed, catalog cosmetic.CatalogRepository, settings progression.SettingsRepository, log *logger.Logger) (Stats, error) {
	if log == nil {
		log = logger.Nop()
	}
	stats := Stats{Items: make(map[cosmetic.Category]int)}

	if seed.Settings != nil && settings != nil {
		if err := settings.SaveSettings(ctx, *seed.Settings); err != nil {
			return stats, fmt.Errorf("save settings: %w", err)
		}
		stats.SettingsSaved = true
	}

	for _, it := range seed.Items {
		if err := catalog.UpsertItem(ctx, it); err != nil {
			return stats, fmt.Errorf("upsert %s %q: %w", it.Category(), it.Base().Key, err)
		}
		stats.Items[it.Category()]++
	}

	log.Info("catalog seeded",
		logger.Bool("settings", stats.SettingsSaved),
		logger.Int("items", len(seed.Items)),
	)
	return stats, nil
}
