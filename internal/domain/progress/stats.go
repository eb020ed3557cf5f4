// Package progress содержит инкрементальную статистику обучения пользователя:
// навыки по модулям, точность по типам вопросов и прогресс по темам.
// Статистика изменяется только агрегатором по событию завершения урока,
// никогда напрямую из обработчиков запросов.
package progress

import (
	"math"
	"time"

	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SKILL STATS
// ══════════════════════════════════════════════════════════════════════════════

// SkillStats - статистика пользователя по одному модулю (grammar/reading/listening).
type SkillStats struct {
	// UserID - владелец статистики.
	UserID shared.UserID `json:"user_id"`

	// Module - модуль, по которому ведётся статистика.
	Module shared.ModuleType `json:"module"`

	// Accuracy - доля правильных ответов в [0, 1].
	// При нуле попыток хранит последнее вычисленное значение (изначально 0).
	Accuracy float64 `json:"accuracy"`

	// TotalAttempts - всего ответов.
	TotalAttempts int `json:"total_attempts"`

	// CorrectAnswers - правильных ответов.
	CorrectAnswers int `json:"correct_answers"`

	// Streak - длина текущей серии правильных ответов.
	Streak int `json:"streak"`

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSkillStats создаёт пустую статистику навыка.
func NewSkillStats(userID shared.UserID, module shared.ModuleType) *SkillStats {
	return &SkillStats{UserID: userID, Module: module}
}

// Record учитывает один ответ. Неверный ответ обнуляет серию.
//
// Серия считается в порядке отправок. Ответ старше уже учтённых (событие
// доставлено с опозданием, например из очереди недоставленных) меняет
// счётчики и точность, но не серию.
func (s *SkillStats) Record(correct bool, at time.Time) {
	late := at.Before(s.UpdatedAt)

	s.TotalAttempts++
	if correct {
		s.CorrectAnswers++
	}
	s.Accuracy = ratio(s.CorrectAnswers, s.TotalAttempts)
	if late {
		return
	}

	if correct {
		s.Streak++
	} else {
		s.Streak = 0
	}
	s.UpdatedAt = at
}

// HasMastery проверяет владение модулем: точность не ниже порога
// при минимальном количестве попыток.
func (s *SkillStats) HasMastery(minAccuracy float64, minAttempts int) bool {
	return s.TotalAttempts >= minAttempts && s.Accuracy >= minAccuracy
}

// ══════════════════════════════════════════════════════════════════════════════
// QUESTION TYPE STATS
// ══════════════════════════════════════════════════════════════════════════════

// QuestionTypeStats - точность пользователя по типу вопросов.
type QuestionTypeStats struct {
	UserID       shared.UserID       `json:"user_id"`
	QuestionType shared.QuestionType `json:"question_type"`
	Accuracy     float64             `json:"accuracy"`
	CorrectCount int                 `json:"correct_count"`
	WrongCount   int                 `json:"wrong_count"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// NewQuestionTypeStats создаёт пустую статистику по типу вопросов.
func NewQuestionTypeStats(userID shared.UserID, qt shared.QuestionType) *QuestionTypeStats {
	return &QuestionTypeStats{UserID: userID, QuestionType: qt}
}

// Total возвращает общее число ответов.
func (q *QuestionTypeStats) Total() int {
	return q.CorrectCount + q.WrongCount
}

// Record учитывает один ответ.
func (q *QuestionTypeStats) Record(correct bool, at time.Time) {
	if correct {
		q.CorrectCount++
	} else {
		q.WrongCount++
	}
	q.Accuracy = ratio(q.CorrectCount, q.Total())
	q.UpdatedAt = at
}

// ══════════════════════════════════════════════════════════════════════════════
// TOPIC PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// TopicProgressStats - прогресс пользователя по теме.
//
// Инварианты: CompletedLessons <= TotalLessons, CompletedLessons не убывает,
// AverageScore меняется только при первом прохождении урока.
type TopicProgressStats struct {
	UserID  shared.UserID `json:"user_id"`
	TopicID string        `json:"topic_id"`

	// CompletionPercentage - процент пройденных уроков темы.
	CompletionPercentage float64 `json:"completion_percentage"`

	// TotalLessons - количество уроков в теме по данным каталога.
	TotalLessons int `json:"total_lessons"`

	// CompletedLessons - уроков пройдено хотя бы один раз.
	CompletedLessons int `json:"completed_lessons"`

	// AverageScore - средний балл (в процентах) по первым прохождениям.
	AverageScore float64 `json:"average_score"`

	// LastActiveAt - время последнего прохождения урока темы.
	LastActiveAt time.Time `json:"last_active_at"`

	// PassedLessons - уроки, уже засчитанные в тему.
	PassedLessons map[shared.LessonID]struct{} `json:"-"`
}

// NewTopicProgressStats создаёт пустой прогресс по теме.
func NewTopicProgressStats(userID shared.UserID, topicID string, totalLessons int) *TopicProgressStats {
	if totalLessons < 0 {
		totalLessons = 0
	}
	return &TopicProgressStats{
		UserID:        userID,
		TopicID:       topicID,
		TotalLessons:  totalLessons,
		PassedLessons: make(map[shared.LessonID]struct{}),
	}
}

// HasPassed проверяет, засчитан ли урок.
func (t *TopicProgressStats) HasPassed(lessonID shared.LessonID) bool {
	_, ok := t.PassedLessons[lessonID]
	return ok
}

// RecordPass учитывает успешное прохождение урока.
// Возвращает true, если урок пройден впервые и средний балл пересчитан.
func (t *TopicProgressStats) RecordPass(lessonID shared.LessonID, score float64, topicLessonCount int, at time.Time) bool {
	if t.PassedLessons == nil {
		t.PassedLessons = make(map[shared.LessonID]struct{})
	}
	if topicLessonCount > t.TotalLessons {
		t.TotalLessons = topicLessonCount
	}
	t.LastActiveAt = at

	if t.HasPassed(lessonID) {
		return false
	}

	n := float64(t.CompletedLessons)
	t.AverageScore = roundTo((t.AverageScore*n+score)/(n+1), 2)
	t.CompletedLessons++
	t.PassedLessons[lessonID] = struct{}{}

	if t.CompletedLessons > t.TotalLessons {
		t.TotalLessons = t.CompletedLessons
	}
	t.CompletionPercentage = roundTo(float64(t.CompletedLessons)/float64(t.TotalLessons)*100, 2)
	return true
}

func ratio(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
