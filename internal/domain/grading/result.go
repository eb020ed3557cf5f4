package grading

import (
	"math"

	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// SubmittedAnswer - ответ ученика на один вопрос. Читаются только поля,
// относящиеся к типу вопроса.
type SubmittedAnswer struct {
	QuestionID       string            `json:"question_id"`
	RawAnswer        string            `json:"raw_answer,omitempty"`
	SelectedOptionID string            `json:"selected_option_id,omitempty"`
	Tokens           []string          `json:"tokens,omitempty"`
	Pairs            []MatchPair       `json:"pairs,omitempty"`
	Blanks           map[string]string `json:"blanks,omitempty"`
	Classifications  map[string]string `json:"classifications,omitempty"`
}

// GradedAnswer - неизменяемый результат оценки одного вопроса.
type GradedAnswer struct {
	QuestionID        string              `json:"question_id"`
	QuestionType      shared.QuestionType `json:"question_type"`
	IsCorrect         bool                `json:"is_correct"`
	PointsAwarded     float64             `json:"points_awarded"`
	MaxPoints         float64             `json:"max_points"`
	CorrectAnswerText string              `json:"correct_answer_text"`
	Explanation       string              `json:"explanation,omitempty"`
	// NeedsReview отмечает открытые ответы, ушедшие на ручную проверку.
	NeedsReview bool `json:"needs_review,omitempty"`
}

// SubmissionResult собирает оценённые ответы одной отправки.
type SubmissionResult struct {
	SubmissionID    string         `json:"submission_id"`
	TotalQuestions  int            `json:"total_questions"`
	CorrectCount    int            `json:"correct_count"`
	TotalScore      float64        `json:"total_score"`
	MaxScore        float64        `json:"max_score"`
	ScorePercentage float64        `json:"score_percentage"`
	IsPassed        bool           `json:"is_passed"`
	Results         []GradedAnswer `json:"results"`
}

// PointsEarned переводит общий результат в целые баллы для счёта
// ученика.
func (r *SubmissionResult) PointsEarned() int {
	return int(math.Round(r.TotalScore))
}

// Outcomes переводит оценённые ответы в исходы для события.
func (r *SubmissionResult) Outcomes() []shared.AnswerOutcome {
	out := make([]shared.AnswerOutcome, len(r.Results))
	for i, g := range r.Results {
		out[i] = shared.AnswerOutcome{
			QuestionID:   g.QuestionID,
			QuestionType: g.QuestionType,
			IsCorrect:    g.IsCorrect,
			Points:       g.PointsAwarded,
			NeedsReview:  g.NeedsReview,
		}
	}
	return out
}

func newSubmissionResult(results []GradedAnswer, passingScore float64) *SubmissionResult {
	r := &SubmissionResult{
		TotalQuestions: len(results),
		Results:        results,
	}
	for _, g := range results {
		if g.IsCorrect {
			r.CorrectCount++
		}
		r.TotalScore += g.PointsAwarded
		r.MaxScore += g.MaxPoints
	}
	if r.MaxScore > 0 {
		r.ScorePercentage = roundTo(r.TotalScore/r.MaxScore*100, 2)
	}
	r.IsPassed = r.ScorePercentage >= passingScore
	return r
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
