package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
)

func (f *fixture) awardHandler() *AwardRulePointsHandler {
	return NewAwardRulePointsHandler(f.loader, f.store, f.store, f.events, f.clock)
}

func TestAwardRulePoints_IdentityWithoutAvatar(t *testing.T) {
	f := newFixture(t)
	res, err := f.awardHandler().Handle(context.Background(), AwardRulePointsCommand{StudentID: "s1", Outcome: RuleKept, BasePoints: 10})
	require.NoError(t, err)

	assert.Equal(t, 10.0, res.Delta)
	assert.False(t, res.AuraApplied)
	assert.Equal(t, 250.0, res.LifetimePoints)
}

func TestAwardRulePoints_AuraMultipliesReward(t *testing.T) {
	f := newFixture(t)
	f.equip(t, cosmetic.CategoryAvatar, "fox")

	res, err := f.awardHandler().Handle(context.Background(), AwardRulePointsCommand{StudentID: "s1", Outcome: RuleKept, BasePoints: 5})
	require.NoError(t, err)
	assert.Equal(t, 8.0, res.Delta, "ceil(5 * 1.5)")
	assert.True(t, res.AuraApplied)
}

func TestAwardRulePoints_RetriedKeyIsReplayed(t *testing.T) {
	f := newFixture(t)
	h := f.awardHandler()
	cmd := AwardRulePointsCommand{StudentID: "s1", Outcome: RuleKept, BasePoints: 10, IdempotencyKey: "K"}

	first, err := h.Handle(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	again, err := h.Handle(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Zero(t, again.Delta)
	assert.Equal(t, first.BalanceAfter, again.BalanceAfter)
	assert.Equal(t, 160.5, f.progress(t).PointsBalance)
	assert.Equal(t, []shared.EventType{shared.EventPointsAwarded}, f.events.types())
}

func TestAwardRulePoints_PenaltyOnlyLowersBalance(t *testing.T) {
	f := newFixture(t)
	f.equip(t, cosmetic.CategoryAvatar, "fox")

	res, err := f.awardHandler().Handle(context.Background(), AwardRulePointsCommand{StudentID: "s1", Outcome: RuleBroken, BasePoints: 10})
	require.NoError(t, err)
	assert.Equal(t, -5.0, res.Delta)
	assert.Equal(t, 145.5, res.BalanceAfter)
	assert.Equal(t, 240.0, res.LifetimePoints)
	assert.Equal(t, res.OldLevel, res.NewLevel)
}

func TestAwardRulePoints_PenaltyCappedAtBalance(t *testing.T) {
	f := newFixture(t)
	res, err := f.awardHandler().Handle(context.Background(), AwardRulePointsCommand{StudentID: "s1", Outcome: RuleBroken, BasePoints: 1000})
	require.NoError(t, err)
	assert.Equal(t, -150.5, res.Delta)
	assert.Zero(t, res.BalanceAfter)
}

func TestAwardRulePoints_LevelUpPublishesEvent(t *testing.T) {
	f := newFixture(t)
	res, err := f.awardHandler().Handle(context.Background(), AwardRulePointsCommand{StudentID: "s1", Outcome: RuleKept, BasePoints: 80})
	require.NoError(t, err)

	assert.Equal(t, 5, res.OldLevel)
	assert.Equal(t, 6, res.NewLevel)
	assert.Equal(t, []shared.EventType{shared.EventPointsAwarded, shared.EventLevelChanged}, f.events.types())
}

func TestAwardRulePoints_CreatesStudent(t *testing.T) {
	f := newFixture(t)
	res, err := f.awardHandler().Handle(context.Background(), AwardRulePointsCommand{StudentID: "s2", Outcome: RuleKept, BasePoints: 50})
	require.NoError(t, err)
	assert.Equal(t, 50.0, res.LifetimePoints)
	assert.Equal(t, 2, res.NewLevel)
}

func TestAwardRulePointsCommand_Validate(t *testing.T) {
	assert.True(t, shared.IsValidation(AwardRulePointsCommand{StudentID: "s1", Outcome: RuleKept, BasePoints: -1}.Validate()))
	assert.True(t, shared.IsValidation(AwardRulePointsCommand{StudentID: "s1", Outcome: "maybe", BasePoints: 1}.Validate()))
	assert.NoError(t, AwardRulePointsCommand{StudentID: "s1", Outcome: RuleBroken, BasePoints: 0}.Validate())
}
