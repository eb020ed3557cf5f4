// Package recommendation содержит очередь рекомендаций пользователя:
// правила генерации, приоритеты, срок жизни и однонаправленный жизненный цикл
// (создана → показана → принята → выполнена).
package recommendation

import (
	"fmt"
	"sort"
	"time"

	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Type - вид рекомендации, соответствует правилу генерации.
type Type string

const (
	// TypePracticeSkill - потренировать слабый модуль.
	TypePracticeSkill Type = "practice_skill"

	// TypeReviewTopic - повторить тему с низким средним баллом.
	TypeReviewTopic Type = "review_topic"

	// TypePracticeQuestionType - потренировать слабый тип вопросов.
	TypePracticeQuestionType Type = "practice_question_type"

	// TypeRetryLesson - перепройти непройденный урок.
	TypeRetryLesson Type = "retry_lesson"

	// TypeNextLesson - перейти к следующему уроку.
	TypeNextLesson Type = "next_lesson"
)

// AllTypes возвращает все виды рекомендаций.
func AllTypes() []Type {
	return []Type{TypePracticeSkill, TypeReviewTopic, TypePracticeQuestionType, TypeRetryLesson, TypeNextLesson}
}

// IsValid проверяет вид рекомендации.
func (t Type) IsValid() bool {
	for _, v := range AllTypes() {
		if t == v {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Recommendation - предложение, что изучать дальше, с объяснением.
type Recommendation struct {
	ID          string        `json:"id"`
	UserID      shared.UserID `json:"user_id"`
	Type        Type          `json:"type"`
	Title       string        `json:"title"`
	Description string        `json:"description"`

	// Reasoning - человекочитаемое объяснение, почему создана рекомендация.
	Reasoning string `json:"reasoning"`

	// Цели рекомендации; заполнена та, что соответствует виду.
	TargetSkill        shared.ModuleType   `json:"target_skill,omitempty"`
	TargetLessonID     shared.LessonID     `json:"target_lesson_id,omitempty"`
	TargetTopicID      string              `json:"target_topic_id,omitempty"`
	TargetQuestionType shared.QuestionType `json:"target_question_type,omitempty"`

	GeneratedContent string `json:"generated_content,omitempty"`

	// Priority - чем больше, тем выше в списке.
	Priority int `json:"priority"`

	IsShown     bool  `json:"is_shown"`
	IsAccepted  *bool `json:"is_accepted,omitempty"`
	IsCompleted bool  `json:"is_completed"`
	IsApproved  *bool `json:"is_approved,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ShownAt     *time.Time `json:"shown_at,omitempty"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Отправка, по событию которой создана рекомендация. Пусто для
	// рекомендаций, созданных не из события.
	SourceSubmissionID string    `json:"source_submission_id,omitempty"`
	SourceCompletedAt  time.Time `json:"source_completed_at"`
}

// Validate проверяет обязательные поля новой рекомендации.
func (r *Recommendation) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: empty id", shared.ErrInvalidRecommendation)
	case !r.UserID.IsValid():
		return fmt.Errorf("%w: invalid user id", shared.ErrInvalidRecommendation)
	case !r.Type.IsValid():
		return fmt.Errorf("%w: unknown type %q", shared.ErrInvalidRecommendation, r.Type)
	case r.Title == "":
		return fmt.Errorf("%w: empty title", shared.ErrInvalidRecommendation)
	case !r.ExpiresAt.After(r.CreatedAt):
		return fmt.Errorf("%w: expires before it is created", shared.ErrInvalidRecommendation)
	}
	return nil
}

// IsActive - рекомендация не истекла и не выполнена.
// Показ и принятие на активность не влияют.
func (r *Recommendation) IsActive(now time.Time) bool {
	return r.ExpiresAt.After(now) && !r.IsCompleted
}

// IsStale - срок истёк, а рекомендация так и не выполнена.
func (r *Recommendation) IsStale(now time.Time) bool {
	return r.ExpiresAt.Before(now) && !r.IsCompleted
}

// SatisfiedBy сообщает, закрывает ли событие завершения рекомендацию.
// Закрывает только другая отправка, сделанная не раньше той, что её
// породила: повторная или запоздалая доставка старого события рекомендацию
// не трогает.
func (r *Recommendation) SatisfiedBy(e shared.LessonCompletedEvent) bool {
	if r.TargetLessonID != e.LessonID {
		return false
	}
	if r.SourceSubmissionID == "" {
		return true
	}
	return r.SourceSubmissionID != e.SubmissionID && !e.CompletedAt().Before(r.SourceCompletedAt)
}

// Accepted сообщает, принял ли пользователь рекомендацию.
func (r *Recommendation) Accepted() bool {
	return r.IsAccepted != nil && *r.IsAccepted
}

// TargetKey идентифицирует цель рекомендации для поиска дубликатов.
func (r *Recommendation) TargetKey() string {
	switch r.Type {
	case TypePracticeSkill:
		return string(r.Type) + ":" + string(r.TargetSkill)
	case TypeReviewTopic:
		return string(r.Type) + ":" + r.TargetTopicID
	case TypePracticeQuestionType:
		return string(r.Type) + ":" + string(r.TargetQuestionType)
	default:
		return string(r.Type) + ":" + string(r.TargetLessonID)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Lifecycle transitions. Все переходы однонаправленные; повторный вызов
// ничего не меняет и возвращает changed=false.
// ──────────────────────────────────────────────────────────────────────────────

// MarkShown отмечает показ рекомендации.
func (r *Recommendation) MarkShown(now time.Time) (changed bool) {
	if r.IsShown {
		return false
	}
	r.IsShown = true
	r.ShownAt = &now
	return true
}

// Accept отмечает принятие. Принять можно только активную рекомендацию;
// принятие подразумевает показ.
func (r *Recommendation) Accept(now time.Time) (changed bool, err error) {
	if r.Accepted() {
		return false, nil
	}
	if r.IsCompleted {
		return false, shared.ErrRecommendationCompleted
	}
	if !r.IsActive(now) {
		return false, shared.ErrRecommendationExpired
	}
	r.MarkShown(now)
	accepted := true
	r.IsAccepted = &accepted
	r.AcceptedAt = &now
	return true, nil
}

// Complete отмечает выполнение рекомендации.
func (r *Recommendation) Complete(now time.Time) (changed bool) {
	if r.IsCompleted {
		return false
	}
	r.IsCompleted = true
	r.CompletedAt = &now
	return true
}

// SortForDisplay упорядочивает по приоритету (убыв.), затем по времени
// создания (новые выше). ID делает порядок детерминированным.
func SortForDisplay(recs []*Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// FilterActive оставляет только активные на момент now.
func FilterActive(recs []*Recommendation, now time.Time) []*Recommendation {
	out := recs[:0:0]
	for _, r := range recs {
		if r.IsActive(now) {
			out = append(out, r)
		}
	}
	return out
}
