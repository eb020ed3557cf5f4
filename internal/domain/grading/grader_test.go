package grading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

func choiceQuestion() *Question {
	return &Question{
		ID:   "q-mc",
		Type: shared.QuestionMultipleChoice,
		Choice: &ChoicePayload{Options: []Option{
			{ID: "a", Text: "went"},
			{ID: "b", Text: "gone", IsCorrect: true},
			{ID: "c", Text: "goed"},
		}},
	}
}

func matchingQuestion() *Question {
	return &Question{
		ID:   "q-match",
		Type: shared.QuestionMatching,
		Matching: &MatchingPayload{Pairs: []MatchPair{
			{Left: "cat", Right: "кошка"},
			{Left: "dog", Right: "собака"},
			{Left: "bird", Right: "птица"},
		}},
	}
}

func TestGradeTableCoversEveryQuestionType(t *testing.T) {
	g := NewGrader(DefaultGraderConfig())
	for _, qt := range shared.AllQuestionTypes() {
		assert.True(t, g.Supports(qt), "no strategy for %s", qt)
	}
}

func TestGrade_MultipleChoice(t *testing.T) {
	g := NewGrader(DefaultGraderConfig())
	q := choiceQuestion()

	for _, opt := range q.Choice.Options {
		got, err := g.Grade(q, SubmittedAnswer{QuestionID: q.ID, SelectedOptionID: opt.ID})
		require.NoError(t, err)
		assert.Equal(t, opt.IsCorrect, got.IsCorrect, "option %s", opt.ID)
		if opt.IsCorrect {
			assert.Equal(t, float64(DefaultQuestionPoints), got.PointsAwarded)
		} else {
			assert.Zero(t, got.PointsAwarded)
		}
		assert.Equal(t, "gone", got.CorrectAnswerText)
	}

	got, err := g.Grade(q, SubmittedAnswer{QuestionID: q.ID, SelectedOptionID: "zzz"})
	require.NoError(t, err)
	assert.False(t, got.IsCorrect)
}

func TestGrade_TrueFalseUsesConfiguredPoints(t *testing.T) {
	g := NewGrader(DefaultGraderConfig())
	q := &Question{
		ID:     "q-tf",
		Type:   shared.QuestionTrueFalse,
		Points: 3,
		Choice: &ChoicePayload{Options: []Option{
			{ID: "true", Text: "True", IsCorrect: true},
			{ID: "false", Text: "False"},
		}},
	}

	got, err := g.Grade(q, SubmittedAnswer{QuestionID: q.ID, RawAnswer: " true "})
	require.NoError(t, err)
	assert.True(t, got.IsCorrect)
	assert.Equal(t, 3.0, got.PointsAwarded)
	assert.Equal(t, 3.0, got.MaxPoints)
}

func TestGrade_MatchingIsSetEquality(t *testing.T) {
	g := NewGrader(DefaultGraderConfig())
	q := matchingQuestion()

	tests := []struct {
		name  string
		pairs []MatchPair
		want  bool
	}{
		{
			name:  "exact, different order",
			pairs: []MatchPair{{"bird", "птица"}, {"cat", "кошка"}, {"dog", "собака"}},
			want:  true,
		},
		{
			name:  "missing pair",
			pairs: []MatchPair{{"cat", "кошка"}, {"dog", "собака"}},
			want:  false,
		},
		{
			name:  "extra pair",
			pairs: []MatchPair{{"cat", "кошка"}, {"dog", "собака"}, {"bird", "птица"}, {"cow", "корова"}},
			want:  false,
		},
		{
			name:  "mismatched pair",
			pairs: []MatchPair{{"cat", "собака"}, {"dog", "кошка"}, {"bird", "птица"}},
			want:  false,
		},
		{
			name:  "duplicate pair padding the count",
			pairs: []MatchPair{{"cat", "кошка"}, {"cat", "кошка"}, {"dog", "собака"}},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Grade(q, SubmittedAnswer{QuestionID: q.ID, Pairs: tt.pairs})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.IsCorrect)
			if !tt.want {
				assert.Zero(t, got.PointsAwarded, "matching never awards partial credit")
			}
		})
	}
}

func TestGrade_PronunciationClassification(t *testing.T) {
	g := NewGrader(DefaultGraderConfig())
	q := &Question{
		ID:   "q-ed",
		Type: shared.QuestionPronunciationClassification,
		Classification: &ClassificationPayload{
			Categories: []string{"/t/", "/d/", "/ɪd/"},
			Items: []ClassifiedWord{
				{Word: "watched", Category: "/t/"},
				{Word: "played", Category: "/d/"},
				{Word: "wanted", Category: "/ɪd/"},
			},
		},
	}

	got, err := g.Grade(q, SubmittedAnswer{QuestionID: q.ID, Classifications: map[string]string{
		"watched": "/t/", "played": "/d/", "wanted": "/ɪd/",
	}})
	require.NoError(t, err)
	assert.True(t, got.IsCorrect)

	got, err = g.Grade(q, SubmittedAnswer{QuestionID: q.ID, Classifications: map[string]string{
		"watched": "/d/", "played": "/d/", "wanted": "/ɪd/",
	}})
	require.NoError(t, err)
	assert.False(t, got.IsCorrect)
	assert.Zero(t, got.PointsAwarded)
}

func TestGrade_TextAnswer(t *testing.T) {
	g := NewGrader(DefaultGraderConfig())

	insensitive := &Question{
		ID:   "q-text",
		Type: shared.QuestionTextAnswer,
		Text: &TextPayload{AcceptedAnswers: []string{"London", "london city"}},
	}
	got, err := g.Grade(insensitive, SubmittedAnswer{QuestionID: "q-text", RawAnswer: "  LONDON "})
	require.NoError(t, err)
	assert.True(t, got.IsCorrect)
	assert.Equal(t, "London", got.CorrectAnswerText)

	sensitive := &Question{
		ID:   "q-text-cs",
		Type: shared.QuestionTextAnswer,
		Text: &TextPayload{AcceptedAnswers: []string{"London"}, CaseSensitive: true},
	}
	got, err = g.Grade(sensitive, SubmittedAnswer{QuestionID: "q-text-cs", RawAnswer: "london"})
	require.NoError(t, err)
	assert.False(t, got.IsCorrect)

	got, err = g.Grade(sensitive, SubmittedAnswer{QuestionID: "q-text-cs", RawAnswer: "London\n"})
	require.NoError(t, err)
	assert.True(t, got.IsCorrect)
}

func TestGrade_SentenceBuildingIsOrderSensitive(t *testing.T) {
	g := NewGrader(DefaultGraderConfig())
	q := &Question{
		ID:       "q-sb",
		Type:     shared.QuestionSentenceBuilding,
		Sentence: &SentencePayload{Tokens: []string{"She", "has", "never", "been", "there"}},
	}

	got, err := g.Grade(q, SubmittedAnswer{QuestionID: q.ID, Tokens: []string{"She", "has", "never", "been", "there"}})
	require.NoError(t, err)
	assert.True(t, got.IsCorrect)

	got, err = g.Grade(q, SubmittedAnswer{QuestionID: q.ID, RawAnswer: "She never has been there"})
	require.NoError(t, err)
	assert.False(t, got.IsCorrect)

	got, err = g.Grade(q, SubmittedAnswer{QuestionID: q.ID, RawAnswer: "She has never been there"})
	require.NoError(t, err)
	assert.True(t, got.IsCorrect)
	assert.Equal(t, "She has never been there", got.CorrectAnswerText)
}

func TestGrade_ReadingComprehensionPartialCredit(t *testing.T) {
	g := NewGrader(DefaultGraderConfig())
	q := &Question{
		ID:     "q-rc",
		Type:   shared.QuestionReadingComprehension,
		Points: 12,
		Reading: &ReadingPayload{
			Passage: "Tom ___ to school every day. He ___ the bus. It ___ late.",
			Blanks: []Blank{
				{ID: "1", AcceptedAnswers: []string{"goes"}},
				{ID: "2", AcceptedAnswers: []string{"takes", "catches"}},
				{ID: "3", AcceptedAnswers: []string{"is"}},
			},
		},
	}

	got, err := g.Grade(q, SubmittedAnswer{QuestionID: q.ID, Blanks: map[string]string{"1": "goes", "2": "Catches", "3": "was"}})
	require.NoError(t, err)
	assert.False(t, got.IsCorrect, "correctness is the AND across blanks")
	assert.Equal(t, 8.0, got.PointsAwarded)

	got, err = g.Grade(q, SubmittedAnswer{QuestionID: q.ID, Blanks: map[string]string{"1": "goes", "2": "takes", "3": "is"}})
	require.NoError(t, err)
	assert.True(t, got.IsCorrect)
	assert.Equal(t, 12.0, got.PointsAwarded)
}

func TestGrade_OpenEnded(t *testing.T) {
	g := NewGrader(DefaultGraderConfig())
	q := &Question{
		ID:        "q-open",
		Type:      shared.QuestionOpenEnded,
		OpenEnded: &OpenEndedPayload{SuggestedAnswer: "I usually wake up at seven o'clock."},
	}

	got, err := g.Grade(q, SubmittedAnswer{QuestionID: q.ID, RawAnswer: "I usually wake up at seven o'clock"})
	require.NoError(t, err)
	assert.True(t, got.IsCorrect)
	assert.False(t, got.NeedsReview)

	got, err = g.Grade(q, SubmittedAnswer{QuestionID: q.ID, RawAnswer: "My morning routine is different every day."})
	require.NoError(t, err)
	assert.False(t, got.IsCorrect)
	assert.True(t, got.NeedsReview)
	assert.Zero(t, got.PointsAwarded)
}

func TestGrade_Errors(t *testing.T) {
	g := NewGrader(DefaultGraderConfig())

	_, err := g.Grade(nil, SubmittedAnswer{QuestionID: "ghost"})
	assert.True(t, shared.IsNotFound(err))

	_, err = g.Grade(&Question{ID: "x", Type: "essay"}, SubmittedAnswer{QuestionID: "x"})
	assert.ErrorIs(t, err, shared.ErrUnsupportedType)

	_, err = g.Grade(&Question{ID: "x", Type: shared.QuestionMatching}, SubmittedAnswer{QuestionID: "x"})
	assert.ErrorIs(t, err, shared.ErrMalformedQuestion)
}

func TestGradeSubmission(t *testing.T) {
	g := NewGrader(DefaultGraderConfig())
	lesson := &Lesson{
		ID:         "lesson-1",
		TopicID:    "past-simple",
		ModuleType: shared.ModuleGrammar,
		Questions:  []Question{*choiceQuestion(), *matchingQuestion()},
	}

	t.Run("scores and passes", func(t *testing.T) {
		res, err := g.GradeSubmission(lesson, []SubmittedAnswer{
			{QuestionID: "q-match", Pairs: []MatchPair{{"cat", "кошка"}, {"dog", "собака"}, {"bird", "птица"}}},
			{QuestionID: "q-mc", SelectedOptionID: "b"},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res.TotalQuestions)
		assert.Equal(t, 2, res.CorrectCount)
		assert.Equal(t, 20.0, res.TotalScore)
		assert.Equal(t, 100.0, res.ScorePercentage)
		assert.True(t, res.IsPassed)
		assert.Equal(t, 20, res.PointsEarned())
		assert.Equal(t, "q-match", res.Results[0].QuestionID, "results keep submission order")
	})

	t.Run("half right fails default pass mark", func(t *testing.T) {
		res, err := g.GradeSubmission(lesson, []SubmittedAnswer{
			{QuestionID: "q-mc", SelectedOptionID: "b"},
			{QuestionID: "q-match"},
		})
		require.NoError(t, err)
		assert.Equal(t, 50.0, res.ScorePercentage)
		assert.False(t, res.IsPassed)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := g.GradeSubmission(lesson, nil)
		assert.True(t, shared.IsValidation(err))

		_, err = g.GradeSubmission(lesson, []SubmittedAnswer{{QuestionID: "q-mc"}, {QuestionID: "q-mc"}})
		assert.ErrorIs(t, err, shared.ErrDuplicateAnswer)

		_, err = g.GradeSubmission(lesson, []SubmittedAnswer{{QuestionID: "q-mc"}})
		assert.ErrorIs(t, err, shared.ErrMissingAnswer)

		_, err = g.GradeSubmission(lesson, []SubmittedAnswer{{QuestionID: "q-mc"}, {QuestionID: "nope"}})
		assert.True(t, shared.IsNotFound(err))
	})
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Hello, World!", "hello world"))
	assert.Equal(t, 0.0, Similarity("alpha", "beta"))
	assert.InDelta(t, 0.5, Similarity("a b", "a c"), 1e-9)
}
