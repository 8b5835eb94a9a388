package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "progression-hub", cfg.App.Name)
	assert.True(t, cfg.IsDevelopment())
	assert.Empty(t, cfg.Database.URL)
	assert.True(t, cfg.Redis.Disabled)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, 50.0, cfg.Progression.DefaultBaseJump)
	assert.Equal(t, 8.0, cfg.Progression.DefaultDifficultyPct)
	assert.Equal(t, 24*time.Hour, cfg.Progression.DailyCooldown)
	assert.Equal(t, 10*time.Second, cfg.Progression.ClaimLockTTL)
	assert.True(t, cfg.Features.IsEnabled(FeatureDailyBonus, nil))
	assert.False(t, cfg.Features.IsEnabled(FeatureRedisCurveCache, nil))
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/hub")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("PROGRESSION_DAILY_COOLDOWN", "12h")
	t.Setenv("PROGRESSION_MAX_LEVEL", "40")
	t.Setenv("HTTP_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("FEATURE_COSMETICS_PURCHASES", "false")
	t.Setenv("FEATURE_PROGRESSION_REDIS_CURVE_CACHE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@db:5432/hub", cfg.Database.URL)
	assert.False(t, cfg.Redis.Disabled, "a redis url enables redis")
	assert.Equal(t, 12*time.Hour, cfg.Progression.DailyCooldown)
	assert.Equal(t, 40, cfg.Progression.MaxLevel)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSOrigins)
	assert.False(t, cfg.Features.IsEnabled(FeatureCosmeticPurchase, nil))
	assert.True(t, cfg.Features.IsEnabled(FeatureRedisCurveCache, nil))
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	content := "HTTP_ADDR=:9999\nPROGRESSION_BASE_RULE_POINTS=2\nCATALOG_SEED_FILE=/etc/seed.yaml\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.env"), []byte(content), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 2.0, cfg.Progression.BaseRulePoints)
	assert.Equal(t, "/etc/seed.yaml", cfg.Catalog.SeedFile)

	// a missing file is not an error
	_, err = Load(t.TempDir())
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required in production")
	assert.Contains(t, err.Error(), "HTTP_JWT_SECRET is required in production")

	t.Setenv("APP_ENV", "development")
	t.Setenv("PROGRESSION_MAX_LEVEL", "0")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROGRESSION_MAX_LEVEL")
}

func TestFeatureFlags(t *testing.T) {
	ff := NewFeatureFlags()

	require.NoError(t, ff.SetRolloutPercent(FeatureDailyBonus, 0))
	assert.False(t, ff.IsEnabled(FeatureDailyBonus, &FeatureContext{StudentID: "s1"}))
	assert.True(t, ff.IsEnabled(FeatureDailyBonus, &FeatureContext{IsAdmin: true}))

	ff.SetStudentOverride("s1", FeatureDailyBonus, true)
	assert.True(t, ff.ForStudent(FeatureDailyBonus)("s1"))
	assert.False(t, ff.ForStudent(FeatureDailyBonus)("s2"))
	ff.ClearStudentOverrides("s1")
	assert.False(t, ff.ForStudent(FeatureDailyBonus)("s1"))

	assert.ErrorIs(t, ff.SetRolloutPercent("missing", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureAutoRevoke, 101), ErrInvalidRolloutPercent)
	assert.False(t, ff.IsEnabled("missing", nil))
}

func TestFeatureFlags_RolloutIsStable(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureCosmeticPurchase, 50))

	in := 0
	for i := range 200 {
		id := "student-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		first := ff.ForStudent(FeatureCosmeticPurchase)(id)
		assert.Equal(t, first, ff.ForStudent(FeatureCosmeticPurchase)(id))
		if first {
			in++
		}
	}
	assert.Greater(t, in, 0)
	assert.Less(t, in, 200)
}
