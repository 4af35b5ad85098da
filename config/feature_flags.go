package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages feature toggles with gradual rollout. Users are
// assigned to rollout buckets by a consistent hash of their id, so a user
// keeps the same features across restarts.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	userOverrides map[string]map[string]bool // userID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	RolloutPercent int
}

// Predefined feature flag names.
const (
	// === Group Quiz Features ===
	FeatureGroupQuizzes     = "group.quizzes"      // Shared quiz sessions
	FeatureGroupLeaderboard = "group.leaderboard"  // Per-quiz score ranking
	FeatureGroupAutoHarvest = "group.auto_harvest" // Quiz questions become review items

	// === Generator Features ===
	FeatureGeneratorQuizzes = "generator.quizzes" // AI quiz generation
	FeatureGeneratorPaths   = "generator.paths"   // AI learning path generation

	// === Reminder Features ===
	FeatureRemindDueReviews   = "remind.due_reviews"    // Hourly due-review nudges
	FeatureRemindStreakAtRisk = "remind.streak_at_risk" // Evening streak warnings

	// === Gamification Features ===
	FeatureGamificationStreaks = "gamification.streaks" // Daily streaks

	// === Experimental Features ===
	FeatureExperimentalWebhooks = "experimental.webhooks" // Webhook notification delivery
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureGroupQuizzes] = &Feature{
		Name:           FeatureGroupQuizzes,
		Description:    "Leader-driven shared quiz sessions",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureGroupLeaderboard] = &Feature{
		Name:           FeatureGroupLeaderboard,
		Description:    "Per-quiz score ranking",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureGroupAutoHarvest] = &Feature{
		Name:           FeatureGroupAutoHarvest,
		Description:    "Completed quiz questions become review items",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureGeneratorQuizzes] = &Feature{
		Name:           FeatureGeneratorQuizzes,
		Description:    "AI-generated quizzes",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureGeneratorPaths] = &Feature{
		Name:           FeatureGeneratorPaths,
		Description:    "AI-generated learning paths",
		Enabled:        true,
		RolloutPercent: 50, // Gradual rollout
	}

	ff.features[FeatureRemindDueReviews] = &Feature{
		Name:           FeatureRemindDueReviews,
		Description:    "Hourly due-review reminders",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureRemindStreakAtRisk] = &Feature{
		Name:           FeatureRemindStreakAtRisk,
		Description:    "Evening streak-at-risk warnings",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureGamificationStreaks] = &Feature{
		Name:           FeatureGamificationStreaks,
		Description:    "Daily study streaks",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureExperimentalWebhooks] = &Feature{
		Name:           FeatureExperimentalWebhooks,
		Description:    "Webhook notification delivery",
		Enabled:        false,
		RolloutPercent: 0,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_GENERATOR_PATHS=true
// Example: FEATURE_GROUP_QUIZZES=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		val := os.Getenv(envKey)
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
// "generator.paths" -> "FEATURE_GENERATOR_PATHS"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given user.
func (ff *FeatureFlags) IsEnabled(featureName, userID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if userID != "" {
		if overrides, ok := ff.userOverrides[userID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	if feature.RolloutPercent < 100 && userID != "" {
		return isInRollout(userID, featureName, feature.RolloutPercent)
	}
	return feature.RolloutPercent > 0
}

// isInRollout assigns a user to a stable 0-99 bucket per feature.
func isInRollout(userID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(userID))
	return int(h.Sum32()%100) < percent
}

// SetUserOverride sets a feature override for a specific user. Useful for
// testing and debugging.
func (ff *FeatureFlags) SetUserOverride(userID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// ClearUserOverrides removes all overrides for a user.
func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.userOverrides, userID)
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

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
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
