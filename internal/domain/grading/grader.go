package grading

import (
	"fmt"
	"strings"

	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════

// GraderConfig содержит пороги оценивания.
type GraderConfig struct {
	// PassingScore - проходной балл по умолчанию, в процентах.
	PassingScore float64
	// OpenEndedThreshold - сходство, нужное открытому ответу по умолчанию.
	OpenEndedThreshold float64
}

// DefaultGraderConfig возвращает пороги по умолчанию.
func DefaultGraderConfig() GraderConfig {
	return GraderConfig{
		PassingScore:       70,
		OpenEndedThreshold: 0.8,
	}
}

// gradeFunc оценивает один вариант. Данные вопроса уже проверены.
type gradeFunc func(cfg GraderConfig, q *Question, a SubmittedAnswer) GradedAnswer

// gradeTable - единственная точка выбора стратегии для закрытого набора типов.
var gradeTable = map[shared.QuestionType]gradeFunc{
	shared.QuestionMultipleChoice:              gradeChoice,
	shared.QuestionTrueFalse:                   gradeChoice,
	shared.QuestionMatching:                    gradeMatching,
	shared.QuestionPronunciationClassification: gradeClassification,
	shared.QuestionReadingComprehension:        gradeReading,
	shared.QuestionSentenceBuilding:            gradeSentence,
	shared.QuestionTextAnswer:                  gradeText,
	shared.QuestionOpenEnded:                   gradeOpenEnded,
}

// Grader оценивает ответы по эталонным данным вопросов.
type Grader struct {
	config GraderConfig
	table  map[shared.QuestionType]gradeFunc
}

// NewGrader создаёт Grader.
func NewGrader(config GraderConfig) *Grader {
	defaults := DefaultGraderConfig()
	if config.PassingScore <= 0 {
		config.PassingScore = defaults.PassingScore
	}
	if config.OpenEndedThreshold <= 0 || config.OpenEndedThreshold > 1 {
		config.OpenEndedThreshold = defaults.OpenEndedThreshold
	}
	return &Grader{config: config, table: gradeTable}
}

// Supports сообщает, есть ли стратегия для типа.
func (g *Grader) Supports(t shared.QuestionType) bool {
	_, ok := g.table[t]
	return ok
}

// Grade оценивает один ответ.
func (g *Grader) Grade(q *Question, a SubmittedAnswer) (GradedAnswer, error) {
	if q == nil {
		return GradedAnswer{}, fmt.Errorf("%w: %s", shared.ErrQuestionNotFound, a.QuestionID)
	}
	fn, ok := g.table[q.Type]
	if !ok {
		return GradedAnswer{}, fmt.Errorf("%w: %q", shared.ErrUnsupportedType, q.Type)
	}
	if err := q.Validate(); err != nil {
		return GradedAnswer{}, err
	}

	graded := fn(g.config, q, a)
	graded.QuestionID = q.ID
	graded.QuestionType = q.Type
	graded.MaxPoints = q.MaxPoints()
	graded.Explanation = q.Explanation
	return graded, nil
}

// GradeSubmission оценивает все ответы отправки по уроку.
// На каждый вопрос урока нужен ровно один ответ. Результаты идут в порядке
// отправки.
func (g *Grader) GradeSubmission(lesson *Lesson, answers []SubmittedAnswer) (*SubmissionResult, error) {
	if len(answers) == 0 {
		return nil, shared.ErrEmptySubmission
	}

	seen := make(map[string]struct{}, len(answers))
	results := make([]GradedAnswer, 0, len(answers))
	for _, a := range answers {
		if _, dup := seen[a.QuestionID]; dup {
			return nil, fmt.Errorf("%w: %s", shared.ErrDuplicateAnswer, a.QuestionID)
		}
		seen[a.QuestionID] = struct{}{}

		q, ok := lesson.Question(a.QuestionID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", shared.ErrQuestionNotFound, a.QuestionID)
		}
		graded, err := g.Grade(q, a)
		if err != nil {
			return nil, err
		}
		results = append(results, graded)
	}

	for _, q := range lesson.Questions {
		if _, ok := seen[q.ID]; !ok {
			return nil, fmt.Errorf("%w: %s", shared.ErrMissingAnswer, q.ID)
		}
	}

	passing := lesson.PassingScore
	if passing <= 0 {
		passing = g.config.PassingScore
	}
	return newSubmissionResult(results, passing), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// STRATEGIES
// ═══════════════════════════════════════════════════════════════════════════

func allOrNothing(q *Question, correct bool) float64 {
	if correct {
		return q.MaxPoints()
	}
	return 0
}

func gradeChoice(_ GraderConfig, q *Question, a SubmittedAnswer) GradedAnswer {
	selected := a.SelectedOptionID
	if selected == "" {
		selected = strings.TrimSpace(a.RawAnswer)
	}

	var correct bool
	var texts []string
	for _, opt := range q.Choice.Options {
		if opt.IsCorrect {
			texts = append(texts, opt.Text)
		}
		if opt.ID == selected {
			correct = opt.IsCorrect
		}
	}
	return GradedAnswer{
		IsCorrect:         correct,
		PointsAwarded:     allOrNothing(q, correct),
		CorrectAnswerText: strings.Join(texts, ", "),
	}
}

func gradeMatching(_ GraderConfig, q *Question, a SubmittedAnswer) GradedAnswer {
	canonical := make(map[MatchPair]struct{}, len(q.Matching.Pairs))
	texts := make([]string, 0, len(q.Matching.Pairs))
	for _, p := range q.Matching.Pairs {
		canonical[normalizePair(p)] = struct{}{}
		texts = append(texts, p.Left+" → "+p.Right)
	}

	correct := len(a.Pairs) == len(canonical)
	submitted := make(map[MatchPair]struct{}, len(a.Pairs))
	for _, p := range a.Pairs {
		np := normalizePair(p)
		if _, dup := submitted[np]; dup {
			correct = false
			break
		}
		submitted[np] = struct{}{}
		if _, ok := canonical[np]; !ok {
			correct = false
			break
		}
	}
	return GradedAnswer{
		IsCorrect:         correct,
		PointsAwarded:     allOrNothing(q, correct),
		CorrectAnswerText: strings.Join(texts, "; "),
	}
}

func normalizePair(p MatchPair) MatchPair {
	return MatchPair{Left: strings.TrimSpace(p.Left), Right: strings.TrimSpace(p.Right)}
}

func gradeClassification(_ GraderConfig, q *Question, a SubmittedAnswer) GradedAnswer {
	correct := len(a.Classifications) == len(q.Classification.Items)
	texts := make([]string, 0, len(q.Classification.Items))
	for _, item := range q.Classification.Items {
		texts = append(texts, item.Word+": "+item.Category)
		got, ok := a.Classifications[item.Word]
		if !ok || !strings.EqualFold(strings.TrimSpace(got), item.Category) {
			correct = false
		}
	}
	return GradedAnswer{
		IsCorrect:         correct,
		PointsAwarded:     allOrNothing(q, correct),
		CorrectAnswerText: strings.Join(texts, "; "),
	}
}

func gradeReading(_ GraderConfig, q *Question, a SubmittedAnswer) GradedAnswer {
	blanks := q.Reading.Blanks
	texts := make([]string, 0, len(blanks))
	right := 0
	for _, b := range blanks {
		if len(b.AcceptedAnswers) > 0 {
			texts = append(texts, b.ID+": "+b.AcceptedAnswers[0])
		}
		if matchesAny(a.Blanks[b.ID], b.AcceptedAnswers, b.CaseSensitive) {
			right++
		}
	}
	return GradedAnswer{
		IsCorrect:         right == len(blanks),
		PointsAwarded:     roundTo(q.MaxPoints()*float64(right)/float64(len(blanks)), 2),
		CorrectAnswerText: strings.Join(texts, "; "),
	}
}

func gradeSentence(_ GraderConfig, q *Question, a SubmittedAnswer) GradedAnswer {
	tokens := a.Tokens
	if len(tokens) == 0 {
		tokens = strings.Fields(a.RawAnswer)
	}
	canonical := q.Sentence.Tokens

	correct := len(tokens) == len(canonical)
	for i := 0; correct && i < len(tokens); i++ {
		if strings.TrimSpace(tokens[i]) != strings.TrimSpace(canonical[i]) {
			correct = false
		}
	}
	return GradedAnswer{
		IsCorrect:         correct,
		PointsAwarded:     allOrNothing(q, correct),
		CorrectAnswerText: strings.Join(canonical, " "),
	}
}

func gradeText(_ GraderConfig, q *Question, a SubmittedAnswer) GradedAnswer {
	correct := matchesAny(a.RawAnswer, q.Text.AcceptedAnswers, q.Text.CaseSensitive)
	return GradedAnswer{
		IsCorrect:         correct,
		PointsAwarded:     allOrNothing(q, correct),
		CorrectAnswerText: q.Text.AcceptedAnswers[0],
	}
}

func gradeOpenEnded(cfg GraderConfig, q *Question, a SubmittedAnswer) GradedAnswer {
	threshold := q.OpenEnded.SimilarityThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = cfg.OpenEndedThreshold
	}
	correct := strings.TrimSpace(a.RawAnswer) != "" &&
		q.OpenEnded.SuggestedAnswer != "" &&
		Similarity(a.RawAnswer, q.OpenEnded.SuggestedAnswer) >= threshold
	return GradedAnswer{
		IsCorrect:         correct,
		PointsAwarded:     allOrNothing(q, correct),
		CorrectAnswerText: q.OpenEnded.SuggestedAnswer,
		NeedsReview:       !correct,
	}
}

func matchesAny(answer string, accepted []string, caseSensitive bool) bool {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return false
	}
	for _, want := range accepted {
		want = strings.TrimSpace(want)
		if caseSensitive {
			if answer == want {
				return true
			}
		} else if strings.EqualFold(answer, want) {
			return true
		}
	}
	return false
}
