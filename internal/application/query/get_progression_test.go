package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-hub/internal/application/view"
	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/student"
	"github.com/alem-hub/progression-hub/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/progression-hub/internal/infrastructure/service"
)

func TestGetProgression(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	store.SetClock(func() time.Time { return now })

	require.NoError(t, store.UpsertItem(ctx, cosmetic.Avatar{
		ItemBase: cosmetic.ItemBase{Key: "fox", Name: "Fox", UnlockLevel: 1, Enabled: true},
		Aura:     &cosmetic.AuraProfile{RuleKeeperMultiplier: 2, RuleBreakerMultiplier: 1, SkillPulseMultiplier: 1, SpotlightMultiplier: 1, DailyFreePoints: 5},
	}))
	require.NoError(t, store.UpsertItem(ctx, cosmetic.Avatar{
		ItemBase: cosmetic.ItemBase{Key: "dragon", UnlockLevel: 5, UnlockPoints: 100, Enabled: true},
	}))
	require.NoError(t, store.EnsureStudent(ctx, "s1"))
	_, err := store.AppendEntry(ctx, student.LedgerEntry{StudentID: "s1", Delta: 120, Reason: student.ReasonRuleKeeper})
	require.NoError(t, err)

	sel, err := store.GetSelection(ctx, "s1")
	require.NoError(t, err)
	_, err = store.UpdateSelection(ctx, sel.With(cosmetic.CategoryAvatar, "fox", now), sel.Version)
	require.NoError(t, err)

	loader := view.NewLoader(service.NewCurveService(store, nil, 0, nil), store, store, store, store)
	h := NewGetProgressionHandler(loader, 0, func() time.Time { return now.Add(20 * time.Hour) })

	dto, err := h.Handle(ctx, GetProgressionQuery{StudentID: "s1", IncludeCatalog: true})
	require.NoError(t, err)

	assert.Equal(t, 3, dto.Level.Level)
	require.NotNil(t, dto.Avatar)
	assert.Equal(t, "Fox", dto.Avatar.Name)
	assert.Equal(t, int64(2), dto.Aura.RuleKeeperPoints)
	assert.Equal(t, int64(5), dto.DailyBonus.Points)
	assert.False(t, dto.DailyBonus.Ready)
	assert.Equal(t, int64(4*3600), dto.DailyBonus.RemainingSeconds)

	avatars := dto.Catalog[cosmetic.CategoryAvatar]
	require.Len(t, avatars, 2)
	byKey := map[string]CatalogEntryDTO{}
	for _, e := range avatars {
		byKey[e.Item.Base().Key] = e
	}
	assert.True(t, byKey["fox"].Equipped)
	assert.Equal(t, cosmetic.GateLevelTooLow, byKey["dragon"].Decision.Reason)
	assert.Equal(t, 5, byKey["dragon"].Decision.MissingLevel)
}

func TestGetProgressionQuery_Validate(t *testing.T) {
	q := GetProgressionQuery{StudentID: "s1"}
	require.NoError(t, q.Validate())
	assert.Equal(t, 1.0, q.BaseRulePoints)

	assert.Error(t, (&GetProgressionQuery{}).Validate())
	assert.Error(t, (&GetProgressionQuery{StudentID: "s1", BaseRulePoints: -1}).Validate())
}
