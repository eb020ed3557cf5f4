package recommendation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lingvohub/lingvo-engine/internal/domain/progress"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GENERATION RULES
// ══════════════════════════════════════════════════════════════════════════════

// Rules - пороги и приоритеты правил генерации.
type Rules struct {
	WeakSkillAccuracy    float64
	WeakSkillMinAttempts int

	LowTopicScore float64

	WeakQuestionTypeAccuracy   float64
	WeakQuestionTypeMinAnswers int

	// TTL - срок жизни новой рекомендации.
	TTL time.Duration

	// Базовые приоритеты по видам.
	Priorities map[Type]int
}

// DefaultRules возвращает правила по умолчанию.
func DefaultRules() Rules {
	return Rules{
		WeakSkillAccuracy:          0.6,
		WeakSkillMinAttempts:       5,
		LowTopicScore:              70,
		WeakQuestionTypeAccuracy:   0.5,
		WeakQuestionTypeMinAnswers: 5,
		TTL:                        7 * 24 * time.Hour,
		Priorities: map[Type]int{
			TypePracticeSkill:        80,
			TypeRetryLesson:          70,
			TypeReviewTopic:          60,
			TypePracticeQuestionType: 50,
			TypeNextLesson:           40,
		},
	}
}

// Gate решает, включено ли правило для пользователя.
type Gate func(t Type, userID shared.UserID) bool

// AllowAll включает все правила.
func AllowAll(Type, shared.UserID) bool { return true }

// Generator строит кандидатов в рекомендации по событию и статистике.
type Generator struct {
	rules Rules
	gate  Gate
}

// NewGenerator создаёт генератор. nil gate включает все правила.
func NewGenerator(rules Rules, gate Gate) *Generator {
	if gate == nil {
		gate = AllowAll
	}
	return &Generator{rules: rules, gate: gate}
}

// Generate возвращает кандидатов без ID. snap - статистика после события.
func (g *Generator) Generate(e shared.LessonCompletedEvent, snap *progress.Snapshot, now time.Time) []*Recommendation {
	var out []*Recommendation
	add := func(r *Recommendation) {
		if !g.gate(r.Type, e.UserID) {
			return
		}
		r.UserID = e.UserID
		r.SourceSubmissionID = e.SubmissionID
		r.SourceCompletedAt = e.CompletedAt()
		r.CreatedAt = now
		r.ExpiresAt = now.Add(g.rules.TTL)
		out = append(out, r)
	}

	if s := snap.Skill; s != nil && s.TotalAttempts >= g.rules.WeakSkillMinAttempts && s.Accuracy < g.rules.WeakSkillAccuracy {
		add(&Recommendation{
			Type:        TypePracticeSkill,
			Title:       "Practice " + titleCase(string(s.Module)),
			Description: fmt.Sprintf("Work through a few %s exercises to rebuild accuracy.", s.Module),
			Reasoning: fmt.Sprintf("Your %s accuracy is %.0f%% over %d answers, below the %.0f%% target.",
				s.Module, s.Accuracy*100, s.TotalAttempts, g.rules.WeakSkillAccuracy*100),
			TargetSkill: s.Module,
			Priority:    g.priority(TypePracticeSkill, g.rules.WeakSkillAccuracy-s.Accuracy),
		})
	}

	if !e.IsPassed {
		add(&Recommendation{
			Type:           TypeRetryLesson,
			Title:          "Try the lesson again",
			Description:    "Review the explanations and retake the lesson.",
			Reasoning:      fmt.Sprintf("You scored %.0f%%, which is not enough to pass.", e.ScorePercentage),
			TargetLessonID: e.LessonID,
			Priority:       g.priority(TypeRetryLesson, 0),
		})
	}

	if t := snap.Topic; t != nil && t.CompletedLessons > 0 && t.AverageScore < g.rules.LowTopicScore {
		add(&Recommendation{
			Type:        TypeReviewTopic,
			Title:       "Review this topic",
			Description: "Revisit the lessons of this topic before moving on.",
			Reasoning: fmt.Sprintf("Your average score in this topic is %.0f%% across %d lessons, below %.0f%%.",
				t.AverageScore, t.CompletedLessons, g.rules.LowTopicScore),
			TargetTopicID: t.TopicID,
			Priority:      g.priority(TypeReviewTopic, (g.rules.LowTopicScore-t.AverageScore)/100),
		})
	}

	types := make([]shared.QuestionType, 0, len(snap.QuestionTypes))
	for qt := range snap.QuestionTypes {
		types = append(types, qt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, qt := range types {
		s := snap.QuestionTypes[qt]
		if s.Total() < g.rules.WeakQuestionTypeMinAnswers || s.Accuracy >= g.rules.WeakQuestionTypeAccuracy {
			continue
		}
		label := strings.ReplaceAll(string(qt), "_", " ")
		add(&Recommendation{
			Type:        TypePracticeQuestionType,
			Title:       "Practice " + label + " questions",
			Description: fmt.Sprintf("Pick exercises with %s questions.", label),
			Reasoning: fmt.Sprintf("You answered %d of %d %s questions correctly.",
				s.CorrectCount, s.Total(), label),
			TargetQuestionType: qt,
			Priority:           g.priority(TypePracticeQuestionType, g.rules.WeakQuestionTypeAccuracy-s.Accuracy),
		})
	}

	if e.IsPassed && e.NextLessonID != "" {
		add(&Recommendation{
			Type:           TypeNextLesson,
			Title:          "Continue with the next lesson",
			Description:    "You passed this lesson; the next one is unlocked.",
			Reasoning:      fmt.Sprintf("You passed with %.0f%%.", e.ScorePercentage),
			TargetLessonID: e.NextLessonID,
			Priority:       g.priority(TypeNextLesson, 0),
		})
	}

	return out
}

// priority добавляет к базовому приоритету до 20 пунктов за величину отставания.
func (g *Generator) priority(t Type, gap float64) int {
	base := g.rules.Priorities[t]
	if gap <= 0 {
		return base
	}
	bonus := int(gap * 40)
	if bonus > 20 {
		bonus = 20
	}
	return base + bonus
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
