package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lingvohub/lingvo-engine/internal/domain/grading"
	"github.com/lingvohub/lingvo-engine/internal/domain/level"
	"github.com/lingvohub/lingvo-engine/internal/domain/recommendation"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// Rules groups the tunable thresholds of the engine.
type Rules struct {
	Grading         grading.GraderConfig
	Level           level.Rules
	Recommendations recommendation.Rules
}

// DefaultRules returns the built-in thresholds.
func DefaultRules() *Rules {
	return &Rules{
		Grading:         grading.DefaultGraderConfig(),
		Level:           level.DefaultRules(),
		Recommendations: recommendation.DefaultRules(),
	}
}

// Validate checks every rule group.
func (r *Rules) Validate() error {
	if r.Grading.PassingScore <= 0 || r.Grading.PassingScore > 100 {
		return fmt.Errorf("grading.passing_score must be in (0, 100]")
	}
	if r.Grading.OpenEndedThreshold <= 0 || r.Grading.OpenEndedThreshold > 1 {
		return fmt.Errorf("grading.open_ended_threshold must be in (0, 1]")
	}
	if err := r.Level.Validate(); err != nil {
		return fmt.Errorf("level: %w", err)
	}
	if r.Recommendations.TTL <= 0 {
		return fmt.Errorf("recommendations.ttl must be positive")
	}
	return nil
}

// rulesFile is the YAML layout of RULES_FILE. Every field is optional and
// overrides the default it names.
type rulesFile struct {
	Grading struct {
		PassingScore       *float64 `yaml:"passing_score"`
		OpenEndedThreshold *float64 `yaml:"open_ended_threshold"`
	} `yaml:"grading"`

	Level struct {
		Thresholds         map[string]int `yaml:"thresholds"`
		MasteryAccuracy    *float64       `yaml:"mastery_accuracy"`
		MasteryMinAttempts *int           `yaml:"mastery_min_attempts"`
		MasteryDiscount    *float64       `yaml:"mastery_discount"`
	} `yaml:"level"`

	Recommendations struct {
		WeakSkillAccuracy          *float64       `yaml:"weak_skill_accuracy"`
		WeakSkillMinAttempts       *int           `yaml:"weak_skill_min_attempts"`
		LowTopicScore              *float64       `yaml:"low_topic_score"`
		WeakQuestionTypeAccuracy   *float64       `yaml:"weak_question_type_accuracy"`
		WeakQuestionTypeMinAnswers *int           `yaml:"weak_question_type_min_answers"`
		TTL                        *time.Duration `yaml:"ttl"`
		Priorities                 map[string]int `yaml:"priorities"`
	} `yaml:"recommendations"`
}

// LoadRules reads the rules file at path over the defaults. An empty path
// returns the defaults.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML rules over the defaults.
func ParseRules(data []byte) (*Rules, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	r := DefaultRules()

	setFloat(&r.Grading.PassingScore, f.Grading.PassingScore)
	setFloat(&r.Grading.OpenEndedThreshold, f.Grading.OpenEndedThreshold)

	if len(f.Level.Thresholds) > 0 {
		thresholds := make(map[shared.Level]int, len(r.Level.Thresholds))
		for l, v := range r.Level.Thresholds {
			thresholds[l] = v
		}
		for name, v := range f.Level.Thresholds {
			l, err := shared.ParseLevel(name)
			if err != nil {
				return nil, fmt.Errorf("level.thresholds: %w", err)
			}
			thresholds[l] = v
		}
		r.Level.Thresholds = thresholds
	}
	setFloat(&r.Level.MasteryAccuracy, f.Level.MasteryAccuracy)
	setInt(&r.Level.MasteryMinAttempts, f.Level.MasteryMinAttempts)
	setFloat(&r.Level.MasteryDiscount, f.Level.MasteryDiscount)

	rec := f.Recommendations
	setFloat(&r.Recommendations.WeakSkillAccuracy, rec.WeakSkillAccuracy)
	setInt(&r.Recommendations.WeakSkillMinAttempts, rec.WeakSkillMinAttempts)
	setFloat(&r.Recommendations.LowTopicScore, rec.LowTopicScore)
	setFloat(&r.Recommendations.WeakQuestionTypeAccuracy, rec.WeakQuestionTypeAccuracy)
	setInt(&r.Recommendations.WeakQuestionTypeMinAnswers, rec.WeakQuestionTypeMinAnswers)
	if rec.TTL != nil {
		r.Recommendations.TTL = *rec.TTL
	}
	for name, p := range rec.Priorities {
		t := recommendation.Type(name)
		if !t.IsValid() {
			return nil, fmt.Errorf("recommendations.priorities: unknown type %q", name)
		}
		r.Recommendations.Priorities[t] = p
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
