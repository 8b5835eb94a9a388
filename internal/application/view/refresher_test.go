package view

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/progression"
	"github.com/alem-hub/progression-hub/internal/infrastructure/persistence/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRefresher_DiscardsOlderGeneration(t *testing.T) {
	slowStarted := make(chan struct{})
	releaseSlow := make(chan struct{})

	var calls int
	var mu sync.Mutex
	load := func(ctx context.Context) (int, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(slowStarted)
			<-releaseSlow
			return 1, nil
		}
		return 2, nil
	}

	r := NewRefresher(load, nil, nil)

	done := make(chan struct{})
	var slowApplied bool
	go func() {
		defer close(done)
		_, slowApplied, _ = r.Refresh(context.Background())
	}()

	<-slowStarted
	v, applied, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 2, v)

	close(releaseSlow)
	<-done

	assert.False(t, slowApplied)
	cur, gen := r.Current()
	assert.Equal(t, 2, cur)
	assert.Equal(t, uint64(2), gen)
}

func TestRefresher_ErrorKeepsState(t *testing.T) {
	fail := false
	r := NewRefresher(func(ctx context.Context) (string, error) {
		if fail {
			return "", errors.New("boom")
		}
		return "ok", nil
	}, nil, nil)

	_, _, err := r.Refresh(context.Background())
	require.NoError(t, err)

	fail = true
	v, applied, err := r.Refresh(context.Background())
	assert.Error(t, err)
	assert.False(t, applied)
	assert.Equal(t, "ok", v)
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()
	require.NoError(t, s.EnsureStudent(ctx, "s1"))
	require.NoError(t, s.UpsertItem(ctx, cosmetic.Avatar{
		ItemBase: cosmetic.ItemBase{Key: "fox", Name: "Fox", UnlockLevel: 1, Enabled: true},
		Aura:     &cosmetic.AuraProfile{RuleKeeperMultiplier: 2, RuleBreakerMultiplier: 1, SkillPulseMultiplier: 1, SpotlightMultiplier: 1},
	}))
	return s
}

type staticCurve struct{}

func (staticCurve) Current(ctx context.Context) (progression.Settings, progression.Table, error) {
	s := progression.DefaultSettings()
	return s, progression.BuildThresholds(s, progression.MaxLevel), nil
}

func TestLoader_Load(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()
	sel, err := s.GetSelection(ctx, "s1")
	require.NoError(t, err)
	_, err = s.UpdateSelection(ctx, sel.With(cosmetic.CategoryAvatar, "fox", time.Now()), sel.Version)
	require.NoError(t, err)

	st, err := NewLoader(staticCurve{}, s, s, s, s).Load(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, 1, st.Level.Level)
	assert.Equal(t, "fox", st.Selection.AvatarID)
	assert.True(t, st.Decide(cosmetic.CategoryAvatar, "fox").Allowed)
	assert.Equal(t, int64(2), st.Aura(1).RuleKeeperPoints)
}

func TestLoader_UnknownStudent(t *testing.T) {
	s := seededStore(t)
	_, err := NewLoader(staticCurve{}, s, s, s, s).Load(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestSession_RefreshResetsSelection(t *testing.T) {
	s := seededStore(t)
	session := NewSession(NewLoader(staticCurve{}, s, s, s, s), "s1", nil)

	session.Selection.Propose(cosmetic.Selection{StudentID: "s1", AvatarID: "dragon"})
	_, applied, err := session.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, applied)
	assert.False(t, session.Selection.Pending())
	assert.Equal(t, cosmetic.None, session.Selection.Value().AvatarID)
}
