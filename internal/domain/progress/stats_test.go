package progress

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

const testUser = shared.UserID("6f1c2b9e-3a4d-4e5f-8a7b-1c2d3e4f5a6b")

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestSkillStats_CorrectAnswerAfterHistory(t *testing.T) {
	s := &SkillStats{Accuracy: 0.5, TotalAttempts: 4, CorrectAnswers: 2, Streak: 0}

	s.Record(true, t0)

	assert.InDelta(t, 0.6, s.Accuracy, 1e-9)
	assert.Equal(t, 5, s.TotalAttempts)
	assert.Equal(t, 3, s.CorrectAnswers)
	assert.Equal(t, 1, s.Streak)
	assert.Equal(t, t0, s.UpdatedAt)
}

func TestSkillStats_WrongAnswerResetsStreak(t *testing.T) {
	s := NewSkillStats(testUser, shared.ModuleGrammar)
	for i := 0; i < 5; i++ {
		s.Record(true, t0)
	}
	require.Equal(t, 5, s.Streak)

	s.Record(false, t0)
	assert.Equal(t, 0, s.Streak)
	assert.InDelta(t, 5.0/6.0, s.Accuracy, 1e-9)
}

func TestSkillStats_LateAnswerKeepsStreak(t *testing.T) {
	s := NewSkillStats(testUser, shared.ModuleGrammar)
	s.Record(true, t0.Add(2*time.Minute))
	s.Record(true, t0.Add(3*time.Minute))
	require.Equal(t, 2, s.Streak)

	// Ответ из более ранней отправки доставлен последним.
	s.Record(false, t0.Add(time.Minute))

	assert.Equal(t, 2, s.Streak)
	assert.Equal(t, t0.Add(3*time.Minute), s.UpdatedAt)
	assert.Equal(t, 3, s.TotalAttempts)
	assert.Equal(t, 2, s.CorrectAnswers)
	assert.InDelta(t, 2.0/3.0, s.Accuracy, 1e-9)

	s.Record(false, t0.Add(4*time.Minute))
	assert.Equal(t, 0, s.Streak)
	assert.Equal(t, t0.Add(4*time.Minute), s.UpdatedAt)
}

func TestSkillStats_SameTimestampIsNotLate(t *testing.T) {
	s := NewSkillStats(testUser, shared.ModuleGrammar)
	s.Record(true, t0)
	s.Record(true, t0)
	s.Record(false, t0)
	s.Record(true, t0)

	assert.Equal(t, 1, s.Streak)
	assert.Equal(t, 4, s.TotalAttempts)
}

func TestSkillStats_ZeroAttemptsKeepsInitialAccuracy(t *testing.T) {
	s := NewSkillStats(testUser, shared.ModuleReading)
	assert.Zero(t, s.Accuracy)
	assert.False(t, s.HasMastery(0.85, 20))
}

func TestSkillStats_IncrementalMatchesRecomputation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		s := NewSkillStats(testUser, shared.ModuleListening)
		history := make([]bool, 1+rng.Intn(200))
		for i := range history {
			history[i] = rng.Intn(3) > 0
			s.Record(history[i], t0)
		}

		correct, trailing := 0, 0
		for _, ok := range history {
			if ok {
				correct++
				trailing++
			} else {
				trailing = 0
			}
		}
		assert.Equal(t, len(history), s.TotalAttempts)
		assert.Equal(t, correct, s.CorrectAnswers)
		assert.InDelta(t, float64(correct)/float64(len(history)), s.Accuracy, 1e-12)
		assert.Equal(t, trailing, s.Streak, "streak is the trailing run of correct answers")
	}
}

func TestQuestionTypeStats_Record(t *testing.T) {
	q := NewQuestionTypeStats(testUser, shared.QuestionMatching)
	q.Record(true, t0)
	q.Record(false, t0)
	q.Record(true, t0)
	q.Record(true, t0)

	assert.Equal(t, 3, q.CorrectCount)
	assert.Equal(t, 1, q.WrongCount)
	assert.InDelta(t, 0.75, q.Accuracy, 1e-9)
}

func TestTopicProgress_RunningMeanOnFirstPass(t *testing.T) {
	tp := &TopicProgressStats{
		AverageScore:     80,
		CompletedLessons: 3,
		TotalLessons:     10,
		PassedLessons: map[shared.LessonID]struct{}{
			"l1": {}, "l2": {}, "l3": {},
		},
	}

	first := tp.RecordPass("l4", 100, 10, t0)

	assert.True(t, first)
	assert.Equal(t, 4, tp.CompletedLessons)
	assert.InDelta(t, 85.0, tp.AverageScore, 1e-9)
	assert.InDelta(t, 40.0, tp.CompletionPercentage, 1e-9)
	assert.Equal(t, t0, tp.LastActiveAt)
}

func TestTopicProgress_RepeatPassDoesNotMoveAverage(t *testing.T) {
	tp := NewTopicProgressStats(testUser, "past-simple", 3)
	require.True(t, tp.RecordPass("l1", 90, 3, t0))

	later := t0.Add(time.Hour)
	assert.False(t, tp.RecordPass("l1", 40, 3, later))
	assert.Equal(t, 1, tp.CompletedLessons)
	assert.InDelta(t, 90.0, tp.AverageScore, 1e-9)
	assert.Equal(t, later, tp.LastActiveAt)
}

func TestTopicProgress_CompletedNeverExceedsTotal(t *testing.T) {
	tp := NewTopicProgressStats(testUser, "phrasal-verbs", 2)
	prevCompleted := 0
	for i, id := range []shared.LessonID{"a", "b", "c", "b", "d"} {
		// каталог может сообщить меньше уроков в теме, чем уже сдано
		tp.RecordPass(id, float64(70+i), 1, t0)
		assert.LessOrEqual(t, tp.CompletedLessons, tp.TotalLessons)
		assert.GreaterOrEqual(t, tp.CompletedLessons, prevCompleted)
		prevCompleted = tp.CompletedLessons
	}
	assert.Equal(t, 4, tp.CompletedLessons)
	assert.InDelta(t, 100.0, tp.CompletionPercentage, 1e-9)
}

func completionEvent(passed bool, outcomes ...shared.AnswerOutcome) shared.LessonCompletedEvent {
	e := shared.NewLessonCompletedEvent("sub-1", testUser, "lesson-1", shared.ModuleGrammar, t0)
	e.TopicID = "past-simple"
	e.TopicLessonCount = 5
	e.IsPassed = passed
	e.ScorePercentage = 75
	e.Outcomes = outcomes
	return e
}

func TestSnapshot_ApplyCompletion(t *testing.T) {
	e := completionEvent(true,
		shared.AnswerOutcome{QuestionID: "1", QuestionType: shared.QuestionMultipleChoice, IsCorrect: true},
		shared.AnswerOutcome{QuestionID: "2", QuestionType: shared.QuestionTextAnswer, IsCorrect: false},
		shared.AnswerOutcome{QuestionID: "3", QuestionType: shared.QuestionMultipleChoice, IsCorrect: true},
		shared.AnswerOutcome{QuestionID: "4", QuestionType: shared.QuestionOpenEnded, NeedsReview: true},
	)
	key := KeyFor(e)
	assert.Equal(t, []shared.QuestionType{
		shared.QuestionMultipleChoice, shared.QuestionOpenEnded, shared.QuestionTextAnswer,
	}, key.QuestionTypes)

	snap := NewSnapshot(key)
	snap.ApplyCompletion(e)

	assert.Equal(t, 3, snap.Skill.TotalAttempts, "answers pending review are not counted")
	assert.Equal(t, 2, snap.Skill.CorrectAnswers)
	assert.Equal(t, 1, snap.Skill.Streak)
	assert.Equal(t, 2, snap.QuestionTypes[shared.QuestionMultipleChoice].CorrectCount)
	assert.Equal(t, 1, snap.QuestionTypes[shared.QuestionTextAnswer].WrongCount)
	assert.Zero(t, snap.QuestionTypes[shared.QuestionOpenEnded].Total())
	require.NotNil(t, snap.Topic)
	assert.Equal(t, 1, snap.Topic.CompletedLessons)
	assert.Equal(t, 5, snap.Topic.TotalLessons)
	assert.InDelta(t, 75.0, snap.Topic.AverageScore, 1e-9)
}

func TestSnapshot_FailedLessonLeavesTopicUntouched(t *testing.T) {
	e := completionEvent(false,
		shared.AnswerOutcome{QuestionID: "1", QuestionType: shared.QuestionMatching, IsCorrect: false},
	)
	snap := NewSnapshot(KeyFor(e))
	snap.ApplyCompletion(e)

	assert.Equal(t, 1, snap.Skill.TotalAttempts)
	assert.Zero(t, snap.Topic.CompletedLessons)
	assert.True(t, snap.Topic.LastActiveAt.IsZero())
}

func TestSnapshot_CloneIsDeep(t *testing.T) {
	e := completionEvent(true,
		shared.AnswerOutcome{QuestionID: "1", QuestionType: shared.QuestionMatching, IsCorrect: true},
	)
	orig := NewSnapshot(KeyFor(e))
	clone := orig.Clone()
	clone.ApplyCompletion(e)

	assert.Zero(t, orig.Skill.TotalAttempts)
	assert.Zero(t, orig.QuestionTypes[shared.QuestionMatching].Total())
	assert.Zero(t, orig.Topic.CompletedLessons)
	assert.Empty(t, orig.Topic.PassedLessons)
	assert.Equal(t, 1, clone.Topic.CompletedLessons)
}
