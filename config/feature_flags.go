package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/lingvohub/lingvo-engine/internal/domain/recommendation"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// FeatureFlags manages feature toggles with gradual rollout.
// Recommendation rules are gated individually so a new rule can be rolled
// out to a share of learners before everyone sees it.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	userOverrides map[string]map[string]bool // userID -> feature -> enabled

	now func() time.Time
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Users are assigned based on hash of their ID
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	UserID  string
	IsAdmin bool
}

// Predefined feature flag names.
const (
	// === Recommendation rules ===
	FeatureRecPracticeSkill        = "recommendations.practice_skill"
	FeatureRecReviewTopic          = "recommendations.review_topic"
	FeatureRecPracticeQuestionType = "recommendations.practice_question_type"
	FeatureRecRetryLesson          = "recommendations.retry_lesson"
	FeatureRecNextLesson           = "recommendations.next_lesson"

	// === Infrastructure ===
	FeatureRecommendationCache = "cache.recommendations"      // Redis list cache
	FeatureDuplicateGuard      = "submissions.duplicate_guard" // reject identical resubmits
)

// ruleFeatures maps recommendation types to their gate.
var ruleFeatures = map[recommendation.Type]string{
	recommendation.TypePracticeSkill:        FeatureRecPracticeSkill,
	recommendation.TypeReviewTopic:          FeatureRecReviewTopic,
	recommendation.TypePracticeQuestionType: FeatureRecPracticeQuestionType,
	recommendation.TypeRetryLesson:          FeatureRecRetryLesson,
	recommendation.TypeNextLesson:           FeatureRecNextLesson,
}

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags returns flags with default values only.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
		now:           time.Now,
	}
	ff.initializeDefaults()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	for _, f := range []*Feature{
		{Name: FeatureRecPracticeSkill, Description: "Suggest practice for a weak module"},
		{Name: FeatureRecReviewTopic, Description: "Suggest reviewing a topic with a low average"},
		{Name: FeatureRecPracticeQuestionType, Description: "Suggest practice for a weak question type"},
		{Name: FeatureRecRetryLesson, Description: "Suggest retrying a failed lesson"},
		{Name: FeatureRecNextLesson, Description: "Suggest the next lesson after a pass"},
		{Name: FeatureRecommendationCache, Description: "Cache active recommendation lists in Redis"},
		{Name: FeatureDuplicateGuard, Description: "Reject identical submissions within a short window"},
	} {
		f.Enabled = true
		f.RolloutPercent = 100
		ff.features[f.Name] = f
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_RECOMMENDATIONS_NEXT_LESSON=false
// Example: FEATURE_RECOMMENDATIONS_REVIEW_TOPIC=25 (25% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
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
// "recommendations.next_lesson" -> "FEATURE_RECOMMENDATIONS_NEXT_LESSON"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.UserID != "" {
		if overrides, ok := ff.userOverrides[ctx.UserID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

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

	if feature.RolloutPercent < 100 && ctx != nil && ctx.UserID != "" {
		return isInRollout(ctx.UserID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a user is in the rollout percentage.
// Uses consistent hashing so users stay in their bucket.
func isInRollout(userID, featureName string, percent int) bool {
	return int(xxhash.Sum64String(featureName+":"+userID)%100) < percent
}

// RecommendationGate adapts the rule flags to recommendation.Gate.
// Types without a flag are allowed.
func (ff *FeatureFlags) RecommendationGate() recommendation.Gate {
	return func(t recommendation.Type, userID shared.UserID) bool {
		name, ok := ruleFeatures[t]
		if !ok {
			return true
		}
		return ff.IsEnabled(name, &FeatureContext{UserID: userID.String()})
	}
}

// SetUserOverride sets a feature override for a specific user.
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
