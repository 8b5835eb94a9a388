package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-hub/config"
	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/progression"
	"github.com/alem-hub/progression-hub/internal/domain/student"
	httpapi "github.com/alem-hub/progression-hub/internal/interface/http"
	"github.com/alem-hub/progression-hub/pkg/logger"
)

const seedFile = "../../config/catalog.seed.yaml"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("HTTP_JWT_SECRET", "")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config-dir", t.TempDir(), "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCurveCommand(t *testing.T) {
	out, err := execute(t, "curve", "--base-jump", "50", "--difficulty", "8", "--levels", "4", "--points", "120")
	require.NoError(t, err)

	assert.Contains(t, out, "MIN POINTS")
	assert.Contains(t, out, "180")
	assert.Contains(t, out, "120 points: level 3 (next at 180")
}

func TestCurveCommand_JSON(t *testing.T) {
	out, err := execute(t, "curve", "--base-jump", "100", "--levels", "4", "--json")
	require.NoError(t, err)

	var got curveOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, progression.Settings{BaseJump: 100, DifficultyPct: 8}, got.Settings)
	require.Len(t, got.Levels, 4)
	assert.Equal(t, int64(110), got.Levels[1].MinLifetimePoints)
	assert.Equal(t, int64(220), got.Levels[2].MinLifetimePoints)
	assert.Equal(t, int64(350), got.Levels[3].MinLifetimePoints)
	assert.Nil(t, got.Progress)
}

func TestCurveCommand_RejectsNegative(t *testing.T) {
	_, err := execute(t, "curve", "--base-jump", "-1")
	require.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	out, err := execute(t, "token", "s1", "--role", "admin")
	require.NoError(t, err)

	issuer := httpapi.NewTokenIssuer(devJWTSecret, httpapi.DefaultConfig().JWTIssuer)
	p, err := issuer.Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "s1", p.StudentID)
	assert.Equal(t, student.RoleAdmin, p.Role)

	_, err = execute(t, "token", "s1", "--role", "root")
	require.Error(t, err)
}

func TestSeedCommand(t *testing.T) {
	out, err := execute(t, "seed", seedFile, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "settings: base_jump=50 difficulty_pct=8")
	assert.Contains(t, out, "avatar: 4")
	assert.Contains(t, out, "card_plate: 2")

	// writing needs a database
	_, err = execute(t, "seed", seedFile)
	assert.ErrorIs(t, err, errNoDatabase)
}

func TestMigrateCommand_NeedsDatabase(t *testing.T) {
	_, err := execute(t, "migrate")
	assert.ErrorIs(t, err, errNoDatabase)
}

func TestOpenApp_Memory(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CATALOG_SEED_FILE", seedFile)
	t.Setenv("PROGRESSION_DEFAULT_BASE_JUMP", "100")

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	a, err := openApp(ctx, cfg, logger.Nop())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.mem)
	require.Nil(t, a.db)
	require.NoError(t, a.bootstrap(ctx))

	// the seed carries its own settings, so the configured default is not used
	s, err := a.settings.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, progression.Settings{BaseJump: 50, DifficultyPct: 8}, s)

	items, err := a.catalog.ListItems(ctx, cosmetic.CategoryAvatar)
	require.NoError(t, err)
	assert.Len(t, items, 4)
}

func TestEnsureSettings_UsesConfiguredDefault(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CATALOG_SEED_FILE", "")
	t.Setenv("PROGRESSION_DEFAULT_BASE_JUMP", "100")

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	a, err := openApp(ctx, cfg, logger.Nop())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.bootstrap(ctx))
	s, err := a.settings.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, s.BaseJump)

	// an existing value is kept
	require.NoError(t, a.settings.SaveSettings(ctx, progression.Settings{BaseJump: 10, DifficultyPct: 1}))
	require.NoError(t, a.ensureSettings(ctx))
	s, err = a.settings.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10.0, s.BaseJump)
}
