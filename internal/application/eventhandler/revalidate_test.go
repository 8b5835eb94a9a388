package eventhandler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-hub/internal/application/view"
	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/progression"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/internal/domain/student"
	"github.com/alem-hub/progression-hub/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/progression-hub/internal/infrastructure/service"
)

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

func (r *recorder) revoked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.EventType() == shared.EventSelectionRevoked {
			out = append(out, shared.PayloadString(e, "item_key")+":"+shared.PayloadString(e, "reason"))
		}
	}
	return out
}

type env struct {
	store   *memory.Store
	curve   *service.CurveService
	events  *recorder
	handler *RevalidateHandler
}

var (
	dragon = cosmetic.Avatar{ItemBase: cosmetic.ItemBase{Key: "dragon", UnlockLevel: 5, UnlockPoints: 100, Enabled: true}}
	frame  = cosmetic.CornerBorder{ItemBase: cosmetic.ItemBase{Key: "frame", UnlockLevel: 2, Enabled: true}}
)

// newEnv seeds student s1 at level 5 with dragon purchased and equipped and
// the free frame equipped.
func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	e := &env{store: memory.NewStore(), events: &recorder{}}
	e.curve = service.NewCurveService(e.store, nil, 0, nil)

	require.NoError(t, e.store.UpsertItem(ctx, dragon))
	require.NoError(t, e.store.UpsertItem(ctx, frame))
	require.NoError(t, e.store.EnsureStudent(ctx, "s1"))
	_, err := e.store.AppendEntry(ctx, student.LedgerEntry{StudentID: "s1", Delta: 240, Reason: student.ReasonRuleKeeper})
	require.NoError(t, err)

	table := progression.BuildThresholds(progression.DefaultSettings(), progression.MaxLevel)
	_, err = e.store.PurchaseUnlock(ctx, cosmetic.PurchaseRequest{StudentID: "s1", Item: dragon, Level: table.ResolveLevel, Now: time.Now()})
	require.NoError(t, err)
	sel, err := e.store.GetSelection(ctx, "s1")
	require.NoError(t, err)
	_, err = e.store.UpdateSelection(ctx, sel.With(cosmetic.CategoryCornerBorder, "frame", time.Now()), sel.Version)
	require.NoError(t, err)

	loader := view.NewLoader(e.curve, e.store, e.store, e.store, e.store)
	e.handler = NewRevalidateHandler(loader, e.store, e.events, e.curve, nil, DefaultRevalidateConfig())
	return e
}

func (e *env) selection(t *testing.T) cosmetic.Selection {
	t.Helper()
	sel, err := e.store.GetSelection(context.Background(), "s1")
	require.NoError(t, err)
	return sel
}

func TestRevalidate_ValidSelectionUntouched(t *testing.T) {
	e := newEnv(t)
	before := e.selection(t)

	revoked, err := e.handler.Revalidate(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, revoked)
	assert.Equal(t, before, e.selection(t))
}

func TestRevalidate_LevelDropAfterSettingsChange(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.store.SaveSettings(context.Background(), progression.Settings{BaseJump: 100, DifficultyPct: 8}))

	require.NoError(t, e.handler.Handle(shared.NewSettingsChangedEvent(100, 8)))

	sel := e.selection(t)
	assert.Equal(t, cosmetic.None, sel.AvatarID)
	assert.Equal(t, "frame", sel.CornerBorderKey, "frame still passes at the new level")
	assert.Equal(t, []string{"dragon:level_too_low"}, e.events.revoked())

	records, err := e.store.ListUnlocks(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, records, 1, "unlock records survive revocation")
}

func TestRevalidate_DisabledItem(t *testing.T) {
	e := newEnv(t)
	off := frame
	off.Enabled = false
	require.NoError(t, e.store.UpsertItem(context.Background(), off))

	require.NoError(t, e.handler.Handle(shared.NewCatalogChangedEvent("corner_border", "frame", false, false)))

	assert.Equal(t, cosmetic.None, e.selection(t).CornerBorderKey)
	assert.Equal(t, "dragon", e.selection(t).AvatarID)
	assert.Equal(t, []string{"frame:disabled"}, e.events.revoked())
}

func TestRevalidate_RemovedItem(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.store.DeleteItem(context.Background(), cosmetic.CategoryAvatar, "dragon"))

	require.NoError(t, e.handler.Handle(shared.NewCatalogChangedEvent("avatar", "dragon", false, true)))

	assert.Equal(t, cosmetic.None, e.selection(t).AvatarID)
	assert.Equal(t, []string{"dragon:missing_item"}, e.events.revoked())
}

func TestRevalidate_AutoRevokeDisabled(t *testing.T) {
	e := newEnv(t)
	cfg := DefaultRevalidateConfig()
	cfg.Enabled = func(string) bool { return false }
	loader := view.NewLoader(e.curve, e.store, e.store, e.store, e.store)
	h := NewRevalidateHandler(loader, e.store, e.events, e.curve, nil, cfg)

	require.NoError(t, e.store.DeleteItem(context.Background(), cosmetic.CategoryAvatar, "dragon"))
	revoked, err := h.Revalidate(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, revoked)
	assert.Equal(t, "dragon", e.selection(t).AvatarID)
}

func TestRevalidate_UnknownStudentIsIgnored(t *testing.T) {
	e := newEnv(t)
	assert.NoError(t, e.handler.Handle(shared.NewLevelChangedEvent("ghost", 3, 2)))
	assert.Empty(t, e.events.revoked())
}

func TestSweep(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, id := range []string{"s2", "s3"} {
		require.NoError(t, e.store.EnsureStudent(ctx, id))
		sel, err := e.store.GetSelection(ctx, id)
		require.NoError(t, err)
		// Stored before the student reached level 2.
		_, err = e.store.UpdateSelection(ctx, sel.With(cosmetic.CategoryCornerBorder, "frame", time.Now()), sel.Version)
		require.NoError(t, err)
	}

	cfg := DefaultRevalidateConfig()
	cfg.SweepPageSize = 2
	h := NewRevalidateHandler(view.NewLoader(e.curve, e.store, e.store, e.store, e.store), e.store, e.events, e.curve, nil, cfg)

	stats, err := h.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Students)
	assert.Equal(t, 2, stats.Revocations)
	assert.ElementsMatch(t, []string{"frame:level_too_low", "frame:level_too_low"}, e.events.revoked())
}
