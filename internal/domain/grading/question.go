// Package grading оценивает отправки уроков.
//
// Вопрос - закрытый вариант с тегом: Type выбирает ровно одно поле с данными,
// а Grader выбирает стратегию по Type через одну таблицу функций.
// Оценивание не выполняет ввод-вывод. Данные уроков приходят через
// контракт Catalog, который реализует инфраструктура.
package grading

import (
	"context"
	"fmt"

	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// DefaultQuestionPoints начисляется за полностью верный ответ, если
// каталог не задал баллы вопроса.
const DefaultQuestionPoints = 10

// ═══════════════════════════════════════════════════════════════════════════
// PAYLOADS
// ═══════════════════════════════════════════════════════════════════════════

// Option - один вариант ответа в вопросах multiple_choice и true_false.
type Option struct {
	ID        string `json:"id" yaml:"id"`
	Text      string `json:"text" yaml:"text"`
	IsCorrect bool   `json:"is_correct" yaml:"is_correct"`
}

// ChoicePayload - данные вопросов multiple_choice и true_false.
type ChoicePayload struct {
	Options []Option `json:"options" yaml:"options"`
}

// MatchPair связывает левый элемент с правым.
type MatchPair struct {
	Left  string `json:"left" yaml:"left"`
	Right string `json:"right" yaml:"right"`
}

// MatchingPayload хранит эталонный набор пар.
type MatchingPayload struct {
	Pairs []MatchPair `json:"pairs" yaml:"pairs"`
}

// ClassifiedWord - слово с эталонной категорией произношения,
// например "watched" -> "/t/".
type ClassifiedWord struct {
	Word     string `json:"word" yaml:"word"`
	Category string `json:"category" yaml:"category"`
}

// ClassificationPayload - данные вопросов pronunciation_classification.
type ClassificationPayload struct {
	Categories []string         `json:"categories" yaml:"categories"`
	Items      []ClassifiedWord `json:"items" yaml:"items"`
}

// Blank - один пропуск в тексте для чтения.
type Blank struct {
	ID              string   `json:"id" yaml:"id"`
	AcceptedAnswers []string `json:"accepted_answers" yaml:"accepted_answers"`
	CaseSensitive   bool     `json:"case_sensitive" yaml:"case_sensitive"`
}

// ReadingPayload - данные вопросов reading_comprehension.
type ReadingPayload struct {
	Passage string  `json:"passage" yaml:"passage"`
	Blanks  []Blank `json:"blanks" yaml:"blanks"`
}

// SentencePayload хранит эталонный порядок слов вопроса sentence_building.
type SentencePayload struct {
	Tokens []string `json:"tokens" yaml:"tokens"`
}

// TextPayload - данные вопросов text_answer. Первый принятый ответ
// эталонный, остальные допустимые варианты.
type TextPayload struct {
	AcceptedAnswers []string `json:"accepted_answers" yaml:"accepted_answers"`
	CaseSensitive   bool     `json:"case_sensitive" yaml:"case_sensitive"`
}

// OpenEndedPayload - данные вопросов open_ended. Нулевой порог заменяется
// порогом оценщика.
type OpenEndedPayload struct {
	SuggestedAnswer     string  `json:"suggested_answer" yaml:"suggested_answer"`
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty" yaml:"similarity_threshold,omitempty"`
}

// ═══════════════════════════════════════════════════════════════════════════
// QUESTION & LESSON
// ═══════════════════════════════════════════════════════════════════════════

// Question - эталонные данные вопроса из каталога уроков.
type Question struct {
	ID          string              `json:"id" yaml:"id"`
	Type        shared.QuestionType `json:"type" yaml:"type"`
	Prompt      string              `json:"prompt" yaml:"prompt"`
	Points      int                 `json:"points,omitempty" yaml:"points,omitempty"`
	Explanation string              `json:"explanation,omitempty" yaml:"explanation,omitempty"`

	Choice         *ChoicePayload         `json:"choice,omitempty" yaml:"choice,omitempty"`
	Matching       *MatchingPayload       `json:"matching,omitempty" yaml:"matching,omitempty"`
	Classification *ClassificationPayload `json:"classification,omitempty" yaml:"classification,omitempty"`
	Reading        *ReadingPayload        `json:"reading,omitempty" yaml:"reading,omitempty"`
	Sentence       *SentencePayload       `json:"sentence,omitempty" yaml:"sentence,omitempty"`
	Text           *TextPayload           `json:"text,omitempty" yaml:"text,omitempty"`
	OpenEnded      *OpenEndedPayload      `json:"open_ended,omitempty" yaml:"open_ended,omitempty"`
}

// MaxPoints возвращает баллы за полностью верный ответ.
func (q *Question) MaxPoints() float64 {
	if q.Points > 0 {
		return float64(q.Points)
	}
	return DefaultQuestionPoints
}

// Validate проверяет, что данные для Type заполнены.
func (q *Question) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: question without id", shared.ErrMalformedQuestion)
	}
	var present bool
	switch q.Type {
	case shared.QuestionMultipleChoice, shared.QuestionTrueFalse:
		present = q.Choice != nil && len(q.Choice.Options) > 0
	case shared.QuestionMatching:
		present = q.Matching != nil && len(q.Matching.Pairs) > 0
	case shared.QuestionPronunciationClassification:
		present = q.Classification != nil && len(q.Classification.Items) > 0
	case shared.QuestionReadingComprehension:
		present = q.Reading != nil && len(q.Reading.Blanks) > 0
	case shared.QuestionSentenceBuilding:
		present = q.Sentence != nil && len(q.Sentence.Tokens) > 0
	case shared.QuestionTextAnswer:
		present = q.Text != nil && len(q.Text.AcceptedAnswers) > 0
	case shared.QuestionOpenEnded:
		present = q.OpenEnded != nil
	default:
		return fmt.Errorf("%w: %q", shared.ErrUnsupportedType, q.Type)
	}
	if !present {
		return fmt.Errorf("%w: question %s (%s)", shared.ErrMalformedQuestion, q.ID, q.Type)
	}
	return nil
}

// Lesson - единица, на которую ученик отправляет ответы.
type Lesson struct {
	ID         shared.LessonID   `json:"id" yaml:"id"`
	TopicID    string            `json:"topic_id" yaml:"topic_id"`
	ModuleType shared.ModuleType `json:"module_type" yaml:"module_type"`
	Title      string            `json:"title" yaml:"title"`
	// PassingScore в процентах. Ноль означает порог оценщика.
	PassingScore float64 `json:"passing_score,omitempty" yaml:"passing_score,omitempty"`
	// NextLessonID - урок, который открывается после сдачи этого.
	NextLessonID shared.LessonID `json:"next_lesson_id,omitempty" yaml:"next_lesson_id,omitempty"`
	// TopicLessonCount - число уроков в теме.
	TopicLessonCount int        `json:"topic_lesson_count" yaml:"topic_lesson_count"`
	Questions        []Question `json:"questions" yaml:"questions"`
}

// Question возвращает вопрос по ID.
func (l *Lesson) Question(id string) (*Question, bool) {
	for i := range l.Questions {
		if l.Questions[i].ID == id {
			return &l.Questions[i], true
		}
	}
	return nil, false
}

// Validate проверяет сам урок и данные каждого вопроса.
func (l *Lesson) Validate() error {
	if !l.ID.IsValid() {
		return fmt.Errorf("%w: lesson id", shared.ErrInvalidID)
	}
	if !l.ModuleType.IsValid() {
		return fmt.Errorf("lesson %s: %w", l.ID, shared.ErrInvalidModuleType)
	}
	if len(l.Questions) == 0 {
		return fmt.Errorf("%w: lesson %s has no questions", shared.ErrInvalidEntity, l.ID)
	}
	seen := make(map[string]struct{}, len(l.Questions))
	for i := range l.Questions {
		q := &l.Questions[i]
		if err := q.Validate(); err != nil {
			return fmt.Errorf("lesson %s: %w", l.ID, err)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: lesson %s repeats question %s", shared.ErrInvalidEntity, l.ID, q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	return nil
}

// Catalog отдаёт эталонные данные уроков и вопросов. Уроки создаются
// вне этого сервиса, движок их только читает.
type Catalog interface {
	// GetLesson возвращает урок или shared.ErrLessonNotFound.
	GetLesson(ctx context.Context, id shared.LessonID) (*Lesson, error)
}
