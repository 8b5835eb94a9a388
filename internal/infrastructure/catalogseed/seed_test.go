package catalogseed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/progression"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/internal/infrastructure/persistence/memory"
)

const sample = `
settings:
  base_jump: 100
  difficulty_pct: 8
avatars:
  - key: fox
    name: Fox
    aura:
      rule_keeper_multiplier: 1.5
      rule_breaker_multiplier: 0.5
      skill_pulse_multiplier: 1
      spotlight_multiplier: 1
      daily_free_points: 10
  - key: dragon
    unlock_level: 5
    unlock_points: 100
    enabled: false
effects:
  - key: sparkle
    unlock_level: 3
    style: sparkle
corner_borders:
  - key: gold
    unlock_level: 2
    image_url: /img/gold.png
card_plates:
  - key: night
    unlock_points: 25
`

func TestParse(t *testing.T) {
	seed, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	require.NotNil(t, seed.Settings)
	assert.Equal(t, progression.Settings{BaseJump: 100, DifficultyPct: 8}, *seed.Settings)
	require.Len(t, seed.Items, 5)

	fox, ok := seed.Items[0].(cosmetic.Avatar)
	require.True(t, ok)
	assert.True(t, fox.Enabled, "enabled defaults to true")
	assert.Equal(t, 1, fox.UnlockLevel, "unlock level defaults to 1")
	require.NotNil(t, fox.Aura)
	assert.Equal(t, 10.0, fox.Aura.DailyFreePoints)

	dragon := seed.Items[1].(cosmetic.Avatar)
	assert.False(t, dragon.Enabled)
	assert.Equal(t, 100.0, dragon.UnlockPoints)

	assert.Equal(t, "sparkle", seed.Items[2].(cosmetic.Effect).Style)
	assert.Equal(t, cosmetic.CategoryCornerBorder, seed.Items[3].Category())
	assert.Equal(t, cosmetic.CategoryCardPlate, seed.Items[4].Category())
}

func TestParse_PartialAuraDefaultsToOne(t *testing.T) {
	doc := "avatars:\n  - key: fox\n    aura: {rule_keeper_multiplier: 1.5, daily_free_points: 10}\n"
	seed, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, seed.Items, 1)

	fox := seed.Items[0].(cosmetic.Avatar)
	require.NotNil(t, fox.Aura)
	assert.Equal(t, cosmetic.AuraProfile{
		RuleKeeperMultiplier:  1.5,
		RuleBreakerMultiplier: 1,
		SkillPulseMultiplier:  1,
		SpotlightMultiplier:   1,
		DailyFreePoints:       10,
	}, *fox.Aura)

	a := cosmetic.ResolveAura(fox.Aura, 10)
	assert.Equal(t, int64(15), a.RuleKeeperPoints)
	assert.Equal(t, int64(10), a.RuleBreakerPoints)

	// an explicit zero is kept
	seed, err = Parse(strings.NewReader("avatars:\n  - key: fox\n    aura: {rule_breaker_multiplier: 0}\n"))
	require.NoError(t, err)
	assert.Zero(t, seed.Items[0].(cosmetic.Avatar).Aura.RuleBreakerMultiplier)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown field", "avatars:\n  - key: fox\n    colour: red\n", "decode seed"},
		{"duplicate key", "effects:\n  - key: a\n  - key: a\n", "duplicate item effect:a"},
		{"none key", "card_plates:\n  - key: none\n", "item card_plate:none"},
		{"negative price", "avatars:\n  - key: fox\n    unlock_points: -1\n", "unlock_points"},
		{"bad settings", "settings:\n  base_jump: -5\n", "settings"},
		{"negative aura", "avatars:\n  - key: fox\n    aura: {daily_free_points: -1}\n", "daily_free_points"},
		{"unknown aura field", "avatars:\n  - key: fox\n    aura: {glow: 2}\n", "decode seed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	seed, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Nil(t, seed.Settings)
	assert.Empty(t, seed.Items)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	stats, err := Apply(ctx, seed, store, store, nil)
	require.NoError(t, err)
	assert.True(t, stats.SettingsSaved)
	assert.Equal(t, 2, stats.Items[cosmetic.CategoryAvatar])

	got, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.BaseJump)

	item, err := store.GetItem(ctx, cosmetic.CategoryEffect, "sparkle")
	require.NoError(t, err)
	assert.Equal(t, 3, item.Base().UnlockLevel)

	// re-applying upserts in place
	_, err = Apply(ctx, seed, store, nil, nil)
	require.NoError(t, err)
	avatars, err := store.ListItems(ctx, cosmetic.CategoryAvatar)
	require.NoError(t, err)
	assert.Len(t, avatars, 2)

	_, err = store.GetItem(ctx, cosmetic.CategoryAvatar, "ghost")
	assert.True(t, shared.IsNotFound(err))
}
