package command

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/internal/domain/student"
)

func (f *fixture) claimHandler(toggle FeatureToggle) *ClaimDailyBonusHandler {
	return NewClaimDailyBonusHandler(f.loader, f.store, f.store, f.events, ClaimDailyBonusHandlerConfig{
		Enabled: toggle,
		Clock:   f.clock,
	})
}

func claim(h *ClaimDailyBonusHandler, role student.Role) (*ClaimDailyBonusResult, error) {
	return h.Handle(context.Background(), ClaimDailyBonusCommand{StudentID: "s1", Role: role})
}

func TestClaimDailyBonus_NoAvatar(t *testing.T) {
	f := newFixture(t)
	_, err := claim(f.claimHandler(nil), student.RoleStudent)
	assert.True(t, errors.Is(err, shared.ErrNoBonusConfigured))
}

func TestClaimDailyBonus_AvatarWithoutBonus(t *testing.T) {
	f := newFixture(t)
	f.equip(t, cosmetic.CategoryAvatar, "owl")
	f.now = f.now.Add(48 * time.Hour)

	_, err := claim(f.claimHandler(nil), student.RoleStudent)
	assert.True(t, errors.Is(err, shared.ErrNoBonusConfigured))
}

func TestClaimDailyBonus_RoleNotPermitted(t *testing.T) {
	f := newFixture(t)
	f.equip(t, cosmetic.CategoryAvatar, "fox")
	f.now = f.now.Add(48 * time.Hour)

	for _, role := range []student.Role{student.RoleTeacher, student.RoleViewer, ""} {
		_, err := claim(f.claimHandler(nil), role)
		assert.True(t, errors.Is(err, shared.ErrRoleNotPermitted), role)
	}
	_, err := claim(f.claimHandler(nil), student.RoleAdmin)
	assert.NoError(t, err)
}

func TestClaimDailyBonus_WindowAnchorsOnAvatarChange(t *testing.T) {
	f := newFixture(t)
	f.equip(t, cosmetic.CategoryAvatar, "fox")
	h := f.claimHandler(nil)

	f.now = f.now.Add(21*time.Hour + 15*time.Minute)
	_, err := claim(h, student.RoleStudent)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrNotReady))
	assert.Equal(t, "next daily bonus available in 2h 45m", shared.Message(err))
}

func TestClaimDailyBonus_OncePerWindow(t *testing.T) {
	f := newFixture(t)
	f.equip(t, cosmetic.CategoryAvatar, "fox")
	h := f.claimHandler(nil)
	f.now = f.now.Add(24 * time.Hour)

	res, err := claim(h, student.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.PointsAwarded)
	assert.Equal(t, "Fox", res.AvatarName)
	assert.Equal(t, 160.5, res.BalanceAfter)
	assert.Equal(t, f.now.Add(24*time.Hour), res.NextReadyAt)

	p := f.progress(t)
	assert.Equal(t, 250.0, p.LifetimePoints)
	require.NotNil(t, f.selection(t).DailyGrantedAt)

	f.now = f.now.Add(23 * time.Hour)
	_, err = claim(h, student.RoleStudent)
	assert.True(t, errors.Is(err, shared.ErrNotReady))

	f.now = f.now.Add(time.Hour)
	_, err = claim(h, student.RoleStudent)
	assert.NoError(t, err)
	assert.Equal(t, 170.5, f.progress(t).PointsBalance)
}

func TestClaimDailyBonus_ReusedKeyGrantsNothing(t *testing.T) {
	f := newFixture(t)
	f.equip(t, cosmetic.CategoryAvatar, "fox")
	h := f.claimHandler(nil)
	cmd := ClaimDailyBonusCommand{StudentID: "s1", Role: student.RoleStudent, IdempotencyKey: "K"}

	f.now = f.now.Add(24 * time.Hour)
	_, err := h.Handle(context.Background(), cmd)
	require.NoError(t, err)
	granted := *f.selection(t).DailyGrantedAt

	f.now = f.now.Add(24 * time.Hour)
	_, err = h.Handle(context.Background(), cmd)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrDuplicateEntry)

	assert.Equal(t, 160.5, f.progress(t).PointsBalance)
	assert.Equal(t, granted, *f.selection(t).DailyGrantedAt, "the window is not consumed")

	_, err = claim(h, student.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, 170.5, f.progress(t).PointsBalance)
}

func TestClaimDailyBonus_ConcurrentDuplicatesGrantOnce(t *testing.T) {
	f := newFixture(t)
	f.equip(t, cosmetic.CategoryAvatar, "fox")
	f.now = f.now.Add(25 * time.Hour)
	h := f.claimHandler(nil)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := claim(h, student.RoleStudent)
			if err == nil {
				successes.Add(1)
				return
			}
			assert.True(t, errors.Is(err, shared.ErrNotReady) || shared.IsConflict(err), err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, 160.5, f.progress(t).PointsBalance)
}

func TestClaimDailyBonus_Disabled(t *testing.T) {
	f := newFixture(t)
	f.equip(t, cosmetic.CategoryAvatar, "fox")
	f.now = f.now.Add(48 * time.Hour)

	_, err := claim(f.claimHandler(func(string) bool { return false }), student.RoleStudent)
	assert.True(t, errors.Is(err, shared.ErrNoBonusConfigured))
}

func TestClaimDailyBonus_LockHeld(t *testing.T) {
	f := newFixture(t)
	f.equip(t, cosmetic.CategoryAvatar, "fox")
	f.now = f.now.Add(48 * time.Hour)

	release, ok, err := f.store.Acquire(context.Background(), "s1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	_, err = claim(f.claimHandler(nil), student.RoleStudent)
	assert.ErrorIs(t, err, shared.ErrClaimInProgress)
}
