package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-hub/internal/application/view"
	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/internal/domain/student"
	"github.com/alem-hub/progression-hub/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/progression-hub/internal/infrastructure/service"
)

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []shared.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

type fixture struct {
	store  *memory.Store
	loader *view.Loader
	events *recorder
	now    time.Time
}

func (f *fixture) clock() time.Time { return f.now }

// newFixture seeds a student at level 5 (240 lifetime points) with 150.5 points
// to spend, and a small catalog on the default {50, 8} curve.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:  memory.NewStore(),
		events: &recorder{},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store.SetClock(f.clock)

	items := []cosmetic.Item{
		cosmetic.Avatar{
			ItemBase: cosmetic.ItemBase{Key: "fox", Name: "Fox", UnlockLevel: 1, Enabled: true},
			Aura:     &cosmetic.AuraProfile{RuleKeeperMultiplier: 1.5, RuleBreakerMultiplier: 0.5, SkillPulseMultiplier: 1, SpotlightMultiplier: 1, DailyFreePoints: 10},
		},
		cosmetic.Avatar{ItemBase: cosmetic.ItemBase{Key: "owl", Name: "Owl", UnlockLevel: 1, Enabled: true}},
		cosmetic.Avatar{ItemBase: cosmetic.ItemBase{Key: "dragon", Name: "Dragon", UnlockLevel: 5, UnlockPoints: 100, Enabled: true}},
		cosmetic.Avatar{ItemBase: cosmetic.ItemBase{Key: "phoenix", Name: "Phoenix", UnlockLevel: 5, UnlockPoints: 200, Enabled: true}},
		cosmetic.Avatar{ItemBase: cosmetic.ItemBase{Key: "titan", Name: "Titan", UnlockLevel: 10, UnlockPoints: 50, Enabled: true}},
		cosmetic.Avatar{ItemBase: cosmetic.ItemBase{Key: "ghost", Name: "Ghost", UnlockLevel: 1, UnlockPoints: 10, Enabled: false}},
		cosmetic.Effect{ItemBase: cosmetic.ItemBase{Key: "sparkle", Name: "Sparkle", UnlockLevel: 3, Enabled: true}, Style: "sparkle"},
	}
	for _, it := range items {
		require.NoError(t, f.store.UpsertItem(ctx, it))
	}

	require.NoError(t, f.store.EnsureStudent(ctx, "s1"))
	_, err := f.store.AppendEntry(ctx, student.LedgerEntry{StudentID: "s1", Delta: 240, Reason: student.ReasonRuleKeeper})
	require.NoError(t, err)
	_, err = f.store.AppendEntry(ctx, student.LedgerEntry{StudentID: "s1", Delta: -89.5, Reason: student.ReasonAdjustment})
	require.NoError(t, err)

	curve := service.NewCurveService(f.store, nil, 0, nil)
	f.loader = view.NewLoader(curve, f.store, f.store, f.store, f.store)
	return f
}

func (f *fixture) progress(t *testing.T) student.Progress {
	t.Helper()
	p, err := f.store.GetProgress(context.Background(), "s1")
	require.NoError(t, err)
	return p
}

func (f *fixture) selection(t *testing.T) cosmetic.Selection {
	t.Helper()
	sel, err := f.store.GetSelection(context.Background(), "s1")
	require.NoError(t, err)
	return sel
}

func (f *fixture) equip(t *testing.T, c cosmetic.Category, key string) {
	t.Helper()
	h := NewSetAvatarSettingsHandler(f.loader, f.store, nil, f.clock)
	_, err := h.Handle(context.Background(), SetAvatarSettingsCommand{
		StudentID: "s1",
		Changes:   map[cosmetic.Category]string{c: key},
	})
	require.NoError(t, err)
}
