package cosmetic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-hub/internal/domain/shared"
)

func avatar(key string, level int, points float64) Avatar {
	return Avatar{ItemBase: ItemBase{Key: key, Name: key, UnlockLevel: level, UnlockPoints: points, Enabled: true}}
}

func TestGate(t *testing.T) {
	free := avatar("fox", 5, 0)
	paid := avatar("dragon", 5, 200)
	disabled := avatar("ghost", 1, 0)
	disabled.Enabled = false

	owned := NewUnlockSet([]UnlockRecord{{StudentID: "s1", Category: CategoryAvatar, ItemKey: "dragon"}})

	tests := []struct {
		name     string
		item     Avatar
		level    int
		unlocked UnlockSet
		want     GateReason
	}{
		{"level too low", free, 4, nil, GateLevelTooLow},
		{"free at level", free, 5, nil, GateAllowed},
		{"free above level", free, 30, nil, GateAllowed},
		{"paid not purchased", paid, 5, nil, GateNotPurchased},
		{"paid purchased", paid, 5, owned, GateAllowed},
		{"purchased but level dropped", paid, 4, owned, GateLevelTooLow},
		{"disabled", disabled, 99, nil, GateDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Gate(tt.item, tt.level, tt.unlocked)
			assert.Equal(t, tt.want, d.Reason)
			assert.Equal(t, tt.want == GateAllowed, d.Allowed)
		})
	}
}

func TestGate_SameForEveryCategory(t *testing.T) {
	base := ItemBase{Key: "k", UnlockLevel: 3, UnlockPoints: 10, Enabled: true}
	items := []Item{
		Avatar{ItemBase: base},
		Effect{ItemBase: base},
		CornerBorder{ItemBase: base},
		CardPlate{ItemBase: base},
	}
	for _, it := range items {
		unlocked := UnlockSet{}
		assert.Equal(t, GateLevelTooLow, Gate(it, 2, unlocked).Reason, it.Category())
		assert.Equal(t, GateNotPurchased, Gate(it, 3, unlocked).Reason, it.Category())
		unlocked.Add(it.Category(), "k")
		assert.True(t, Gate(it, 3, unlocked).Allowed, it.Category())
	}
}

func TestDecisionErr_Messages(t *testing.T) {
	err := Gate(avatar("fox", 5, 0), 4, nil).Err(CategoryAvatar, "fox")
	require.Error(t, err)
	assert.True(t, shared.IsGateDenied(err))
	assert.Equal(t, "reach level 5 to unlock this avatar", shared.Message(err))

	err = Gate(avatar("dragon", 1, 200), 1, nil).Err(CategoryAvatar, "dragon")
	assert.Equal(t, "unlock this avatar for 200 points", shared.Message(err))

	err = Decision{Reason: GateMissingItem}.Err(CategoryEffect, "sparkle")
	assert.True(t, shared.IsNotFound(err))

	assert.NoError(t, Decision{Allowed: true, Reason: GateAllowed}.Err(CategoryAvatar, "fox"))
}

func TestCatalog_EvaluateAndList(t *testing.T) {
	cat := NewCatalog(
		avatar("b", 2, 0),
		avatar("a", 1, 0),
		Effect{ItemBase: ItemBase{Key: "sparkle", UnlockLevel: 1, Enabled: true}},
	)

	assert.True(t, cat.Evaluate(CategoryEffect, "sparkle", 1, nil).Allowed)
	assert.Equal(t, GateMissingItem, cat.Evaluate(CategoryCardPlate, "gold", 99, nil).Reason)

	items := cat.Items(CategoryAvatar)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Base().Key)

	it, ok := cat.Lookup(CategoryAvatar, "b")
	require.True(t, ok)
	assert.Equal(t, 2, it.Base().UnlockLevel)
}

func TestEvaluateSelection_RevokesOnLevelDrop(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cat := NewCatalog(
		avatar("fox", 5, 0),
		Effect{ItemBase: ItemBase{Key: "sparkle", UnlockLevel: 1, Enabled: true}},
	)
	sel := NewSelection("s1", now).
		With(CategoryAvatar, "fox", now).
		With(CategoryEffect, "sparkle", now)

	out, revoked := EvaluateSelection(sel, 5, cat, nil)
	assert.Empty(t, revoked)
	assert.Equal(t, sel, out)

	out, revoked = EvaluateSelection(sel, 4, cat, nil)
	require.Len(t, revoked, 1)
	assert.Equal(t, Revocation{Category: CategoryAvatar, ItemKey: "fox", Reason: GateLevelTooLow}, revoked[0])
	assert.Equal(t, None, out.AvatarID)
	assert.Equal(t, "sparkle", out.ParticleStyle)
	assert.Equal(t, sel.AvatarSetAt, out.AvatarSetAt)
}

func TestEvaluateSelection_RevokesRemovedAndDisabled(t *testing.T) {
	now := time.Now()
	plate := CardPlate{ItemBase: ItemBase{Key: "gold", UnlockLevel: 1, Enabled: false}}
	cat := NewCatalog(plate)
	sel := NewSelection("s1", now).
		With(CategoryCardPlate, "gold", now).
		With(CategoryCornerBorder, "vine", now)

	out, revoked := EvaluateSelection(sel, 99, cat, nil)

	require.Len(t, revoked, 2)
	assert.Equal(t, GateMissingItem, revoked[0].Reason)
	assert.Equal(t, CategoryCornerBorder, revoked[0].Category)
	assert.Equal(t, GateDisabled, revoked[1].Reason)
	assert.Equal(t, None, out.CardPlateKey)
	assert.Equal(t, None, out.CornerBorderKey)
}

func TestEquippedAura(t *testing.T) {
	now := time.Now()
	fox := avatar("fox", 5, 0)
	fox.Aura = &AuraProfile{RuleKeeperMultiplier: 2, RuleBreakerMultiplier: 1, SkillPulseMultiplier: 1, SpotlightMultiplier: 1}
	cat := NewCatalog(fox)
	sel := NewSelection("s1", now).With(CategoryAvatar, "fox", now)

	assert.NotNil(t, EquippedAura(sel, 5, cat, nil))
	assert.Nil(t, EquippedAura(sel, 4, cat, nil))
	assert.Nil(t, EquippedAura(NewSelection("s2", now), 99, cat, nil))
}

func TestSelectionWith_AvatarStamp(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	sel := NewSelection("s1", t0).With(CategoryAvatar, "fox", t1)
	assert.Equal(t, t1, sel.AvatarSetAt)

	same := sel.With(CategoryAvatar, "fox", t1.Add(time.Hour))
	assert.Equal(t, t1, same.AvatarSetAt)

	assert.Equal(t, None, sel.With(CategoryEffect, "", t1).Key(CategoryEffect))
	assert.Equal(t, None, sel.With(CategoryEffect, "NONE", t1).ParticleStyle)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("Corner-Border")
	assert.NoError(t, err)
	assert.Equal(t, CategoryCornerBorder, c)

	_, err = ParseCategory("hat")
	assert.True(t, shared.IsNotFound(err))
}

func TestInsufficientBalance(t *testing.T) {
	err := InsufficientBalance(200, 150.5)
	assert.ErrorIs(t, err, shared.ErrInsufficientBalance)
	assert.Equal(t, "not enough points: need 200, have 150.50", shared.Message(err))
}
