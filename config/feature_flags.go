package config

import (
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// FeatureFlags manages feature toggles with gradual per-student rollout.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	studentOverrides map[string]map[string]bool // studentID -> feature -> enabled

	now func() time.Time
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Students are assigned based on hash of their ID
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	StudentID string
	IsAdmin   bool
}

// Predefined feature flag names.
const (
	FeatureDailyBonus       = "progression.daily_bonus"       // Avatar daily bonus claims
	FeatureCosmeticPurchase = "cosmetics.purchases"           // Spending points on unlocks
	FeatureAutoRevoke       = "cosmetics.auto_revoke"         // Reset selections that fail their gate
	FeatureRedisCurveCache  = "progression.redis_curve_cache" // Share threshold tables via redis
)

// LoadFeatureFlags builds the registry and applies FEATURE_<NAME> overrides
// visible to v. A nil v applies no overrides.
func LoadFeatureFlags(v *viper.Viper) *FeatureFlags {
	ff := NewFeatureFlags()
	if v != nil {
		ff.loadFrom(v)
	}
	return ff
}

// NewFeatureFlags returns the registry with default values.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		studentOverrides: make(map[string]map[string]bool),
		now:              time.Now,
	}
	ff.initializeDefaults()
	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureDailyBonus] = &Feature{
		Name:           FeatureDailyBonus,
		Description:    "Allow claiming the daily bonus of the equipped avatar",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureCosmeticPurchase] = &Feature{
		Name:           FeatureCosmeticPurchase,
		Description:    "Allow spending points to unlock cosmetics",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureAutoRevoke] = &Feature{
		Name:           FeatureAutoRevoke,
		Description:    "Reset equipped cosmetics that no longer pass their gate",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Off by default: a single instance is fine with the in-process memo.
	ff.features[FeatureRedisCurveCache] = &Feature{
		Name:           FeatureRedisCurveCache,
		Description:    "Mirror threshold tables in redis for other instances",
		Enabled:        false,
		RolloutPercent: 0,
	}
}

// loadFrom applies overrides.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_COSMETICS_PURCHASES=false
// Example: FEATURE_PROGRESSION_DAILY_BONUS=50 (50% rollout)
func (ff *FeatureFlags) loadFrom(v *viper.Viper) {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		_ = v.BindEnv(envKey)
		val := strings.TrimSpace(v.GetString(envKey))
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "cosmetics.auto_revoke" -> "FEATURE_COSMETICS_AUTO_REVOKE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.StudentID != "" {
		if overrides, ok := ff.studentOverrides[ctx.StudentID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	// Admin users get all features
	if ctx != nil && ctx.IsAdmin {
		return true
	}

	if !feature.Enabled {
		return false
	}

	now := ff.now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.StudentID != "" {
		return isInRollout(ctx.StudentID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// ForStudent returns a predicate bound to one flag, in the shape the command
// and event handlers accept.
func (ff *FeatureFlags) ForStudent(featureName string) func(studentID string) bool {
	return func(studentID string) bool {
		return ff.IsEnabled(featureName, &FeatureContext{StudentID: studentID})
	}
}

// isInRollout determines if a student is in the rollout percentage.
// Uses consistent hashing so students stay in their bucket.
func isInRollout(studentID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(studentID))
	return int(h.Sum32()%100) < percent
}

// SetStudentOverride sets a feature override for a specific student.
func (ff *FeatureFlags) SetStudentOverride(studentID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.studentOverrides[studentID]; !ok {
		ff.studentOverrides[studentID] = make(map[string]bool)
	}
	ff.studentOverrides[studentID][featureName] = enabled
}

// ClearStudentOverrides removes all overrides for a student.
func (ff *FeatureFlags) ClearStudentOverrides(studentID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.studentOverrides, studentID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]Feature, len(ff.features))
	for k, v := range ff.features {
		result[k] = *v
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
