package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles for the dashboard. The backend
// is white-label: different tenants enable different dashboard
// sections, and new visualizations roll out gradually by player bucket.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	playerOverrides map[string]map[string]bool // playerID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100). Players are assigned to buckets by a
	// consistent hash of their id, so a player never flips between
	// refreshes.
	RolloutPercent int

	// Team targeting. Empty means all teams.
	TargetTeams []string

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time

	// A/B test variant (for experiments)
	Variants []string
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	PlayerID string // player requesting the dashboard
	Team     string // player's team label
	IsAdmin  bool   // admin users see everything
}

// Predefined feature flag names.
const (
	// === Dashboard Sections ===
	FeatureDashboardPersonal = "dashboard.personal_ranking" // player-centric view
	FeatureDashboardGlobal   = "dashboard.global_ranking"   // full public ranking
	FeatureDashboardRace     = "dashboard.race"             // race visualization
	FeatureDashboardTrends   = "dashboard.trends"           // up/down arrows and daily gains

	// === Enrichment ===
	FeatureEnrichmentLevel = "enrichment.player_level" // level progress block

	// === History ===
	FeatureSnapshotHistory = "snapshots.history" // persist snapshots for trends

	// === Experimental ===
	FeatureExperimentalLiveRefresh  = "experimental.live_refresh"  // client-driven auto refresh
	FeatureExperimentalTeamRankings = "experimental.team_rankings" // per-team leaderboards
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:        make(map[string]*Feature),
		playerOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	// Dashboard sections ship enabled.
	ff.features[FeatureDashboardPersonal] = &Feature{
		Name:           FeatureDashboardPersonal,
		Description:    "Player-centric ranking view",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureDashboardGlobal] = &Feature{
		Name:           FeatureDashboardGlobal,
		Description:    "Full public ranking",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureDashboardRace] = &Feature{
		Name:           FeatureDashboardRace,
		Description:    "Race track visualization",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureDashboardTrends] = &Feature{
		Name:           FeatureDashboardTrends,
		Description:    "Position trend arrows and daily gains",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureEnrichmentLevel] = &Feature{
		Name:           FeatureEnrichmentLevel,
		Description:    "Level progress enrichment on the personal view",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureSnapshotHistory] = &Feature{
		Name:           FeatureSnapshotHistory,
		Description:    "Persist ranking snapshots for trend computation",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Experimental features - disabled by default
	ff.features[FeatureExperimentalLiveRefresh] = &Feature{
		Name:           FeatureExperimentalLiveRefresh,
		Description:    "Client-driven auto refresh hints",
		Enabled:        false,
		RolloutPercent: 0,
	}

	ff.features[FeatureExperimentalTeamRankings] = &Feature{
		Name:           FeatureExperimentalTeamRankings,
		Description:    "Per-team leaderboard views",
		Enabled:        false,
		RolloutPercent: 0,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_DASHBOARD_RACE=true
// Example: FEATURE_EXPERIMENTAL_LIVE_REFRESH=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		if val := os.Getenv(envKey); val != "" {
			// Try parsing as boolean
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
				if b {
					feature.RolloutPercent = 100
				} else {
					feature.RolloutPercent = 0
				}
				continue
			}

			// Try parsing as percentage
			if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
				feature.Enabled = p > 0
				feature.RolloutPercent = p
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "dashboard.race" -> "FEATURE_DASHBOARD_RACE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check player overrides first
	if ctx != nil && ctx.PlayerID != "" {
		if overrides, ok := ff.playerOverrides[ctx.PlayerID]; ok {
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

	// Check time-based activation
	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	// Check team targeting
	if len(feature.TargetTeams) > 0 && ctx != nil && ctx.Team != "" {
		teamMatch := false
		for _, t := range feature.TargetTeams {
			if t == ctx.Team {
				teamMatch = true
				break
			}
		}
		if !teamMatch {
			return false
		}
	}

	// Check rollout percentage
	if feature.RolloutPercent < 100 && ctx != nil && ctx.PlayerID != "" {
		return ff.isInRollout(ctx.PlayerID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a player is in the rollout percentage.
// Uses consistent hashing so players stay in their bucket.
func (ff *FeatureFlags) isInRollout(playerID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(playerID))
	hash := h.Sum32()

	// Map to 0-99 range
	bucket := int(hash % 100)

	return bucket < percent
}

// GetVariant returns the A/B test variant for a player.
// Returns empty string if no variants defined or feature disabled.
func (ff *FeatureFlags) GetVariant(featureName string, ctx *FeatureContext) string {
	if ctx == nil || !ff.IsEnabled(featureName, ctx) {
		return ""
	}

	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	if !ok || len(feature.Variants) == 0 {
		return ""
	}

	h := fnv.New32a()
	h.Write([]byte(featureName + "_variant"))
	h.Write([]byte(ctx.PlayerID))
	hash := h.Sum32()

	variantIndex := int(hash % uint32(len(feature.Variants)))
	return feature.Variants[variantIndex]
}

// SetPlayerOverride sets a feature override for a specific player.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetPlayerOverride(playerID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.playerOverrides[playerID]; !ok {
		ff.playerOverrides[playerID] = make(map[string]bool)
	}
	ff.playerOverrides[playerID][featureName] = enabled
}

// ClearPlayerOverrides removes all overrides for a player.
func (ff *FeatureFlags) ClearPlayerOverrides(playerID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.playerOverrides, playerID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
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

// --- Convenience methods for common checks ---

// PersonalSectionEnabled checks if the personal ranking section is on.
func (ff *FeatureFlags) PersonalSectionEnabled(ctx *FeatureContext) bool {
	return ff.IsEnabled(FeatureDashboardPersonal, ctx)
}

// SnapshotsEnabled checks if snapshot history is on.
func (ff *FeatureFlags) SnapshotsEnabled() bool {
	return ff.IsEnabled(FeatureSnapshotHistory, nil)
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
