package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingvohub/lingvo-engine/internal/domain/recommendation"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

func TestLoad_DefaultsWithAuthDisabled(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "true")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.Equal(t, "0.0.0.0:9090", cfg.HTTP.Addr())
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 5, cfg.Events.CASMaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Redis.DuplicateWindow)
	assert.Equal(t, 70.0, cfg.Rules.Grading.PassingScore)
}

func TestLoad_RequiresSecretWhenAuthEnabled(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "false")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_ProductionGuards(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("AUTH_DISABLED", "true")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
	assert.Contains(t, err.Error(), "AUTH_DISABLED is not allowed")
}

func TestParseRules_OverridesDefaults(t *testing.T) {
	rules, err := ParseRules([]byte(`
grading:
  passing_score: 60
level:
  thresholds:
    b1: 250
  mastery_min_attempts: 10
recommendations:
  ttl: 72h
  priorities:
    next_lesson: 90
`))
	require.NoError(t, err)

	assert.Equal(t, 60.0, rules.Grading.PassingScore)
	assert.Equal(t, 0.8, rules.Grading.OpenEndedThreshold)
	assert.Equal(t, 250, rules.Level.Thresholds[shared.LevelB1])
	assert.Equal(t, 100, rules.Level.Thresholds[shared.LevelA2])
	assert.Equal(t, 10, rules.Level.MasteryMinAttempts)
	assert.Equal(t, 72*time.Hour, rules.Recommendations.TTL)
	assert.Equal(t, 90, rules.Recommendations.Priorities[recommendation.TypeNextLesson])
	assert.Equal(t, 80, rules.Recommendations.Priorities[recommendation.TypePracticeSkill])
}

func TestParseRules_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown level":       "level:\n  thresholds:\n    D1: 10\n",
		"non increasing":      "level:\n  thresholds:\n    B1: 50\n",
		"unknown priority":    "recommendations:\n  priorities:\n    meditate: 1\n",
		"passing score range": "grading:\n  passing_score: 120\n",
		"malformed yaml":      "grading: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRules([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestFeatureFlags_RecommendationGate(t *testing.T) {
	ff := NewFeatureFlags()
	gate := ff.RecommendationGate()
	user := shared.UserID("0b8f2c1e-4d6a-4f3b-9e7c-2a1d5f8b3c6e")

	assert.True(t, gate(recommendation.TypeNextLesson, user))

	require.NoError(t, ff.DisableFeature(FeatureRecNextLesson))
	assert.False(t, gate(recommendation.TypeNextLesson, user))
	assert.True(t, gate(recommendation.TypeRetryLesson, user))

	ff.SetUserOverride(user.String(), FeatureRecNextLesson, true)
	assert.True(t, gate(recommendation.TypeNextLesson, user))
}

func TestFeatureFlags_RolloutIsStable(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureRecReviewTopic, 30))

	enabled := 0
	for i := 0; i < 1000; i++ {
		ctx := &FeatureContext{UserID: string(rune('a'+i%26)) + time.Duration(i).String()}
		first := ff.IsEnabled(FeatureRecReviewTopic, ctx)
		assert.Equal(t, first, ff.IsEnabled(FeatureRecReviewTopic, ctx))
		if first {
			enabled++
		}
	}
	assert.InDelta(t, 300, enabled, 80)

	assert.ErrorIs(t, ff.SetRolloutPercent("missing", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureRecReviewTopic, 101), ErrInvalidRolloutPercent)
}

func TestFeatureFlags_EnvOverrides(t *testing.T) {
	t.Setenv("FEATURE_RECOMMENDATIONS_RETRY_LESSON", "false")
	t.Setenv("FEATURE_CACHE_RECOMMENDATIONS", "40")

	ff := LoadFeatureFlags()
	all := ff.GetAllFeatures()
	assert.False(t, all[FeatureRecRetryLesson].Enabled)
	assert.Equal(t, 40, all[FeatureRecommendationCache].RolloutPercent)
}
