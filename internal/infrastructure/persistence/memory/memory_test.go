package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingvohub/lingvo-engine/internal/domain/progress"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

const userA = shared.UserID("2d9c7a7e-0f3b-4a61-b0e7-9e2f1c5d8a44")

func lessonEvent(submissionID string, correct ...bool) shared.LessonCompletedEvent {
	e := shared.NewLessonCompletedEvent(submissionID, userA, "lesson-1", shared.ModuleReading, time.Now())
	e.TopicID = "travel"
	e.TopicLessonCount = 4
	e.IsPassed = true
	e.ScorePercentage = 80
	for i, c := range correct {
		e.Outcomes = append(e.Outcomes, shared.AnswerOutcome{
			QuestionID:   fmt.Sprintf("q%d", i),
			QuestionType: shared.QuestionTextAnswer,
			IsCorrect:    c,
		})
	}
	return e
}

func applyEvent(store *StatsStore, e shared.LessonCompletedEvent) error {
	return store.Apply(context.Background(), e.SubmissionID, progress.KeyFor(e), func(s *progress.Snapshot) error {
		s.ApplyCompletion(e)
		return nil
	})
}

func TestStatsStore_ApplyDeduplicatesBySubmission(t *testing.T) {
	store := NewStatsStore()
	e := lessonEvent("sub-1", true, false, true)

	require.NoError(t, applyEvent(store, e))
	err := applyEvent(store, e)
	assert.ErrorIs(t, err, shared.ErrSubmissionAlreadyApplied)

	skill, err := store.GetSkillStats(context.Background(), userA, shared.ModuleReading)
	require.NoError(t, err)
	assert.Equal(t, 3, skill.TotalAttempts, "redelivery must not double count")
	assert.Equal(t, 2, skill.CorrectAnswers)

	snap, applied, err := store.Load(context.Background(), "sub-1", progress.KeyFor(e))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 1, snap.Topic.CompletedLessons)
}

func TestStatsStore_FailedMutationCommitsNothing(t *testing.T) {
	store := NewStatsStore()
	e := lessonEvent("sub-err", true)

	boom := errors.New("boom")
	err := store.Apply(context.Background(), e.SubmissionID, progress.KeyFor(e), func(s *progress.Snapshot) error {
		s.ApplyCompletion(e)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	skill, err := store.GetSkillStats(context.Background(), userA, shared.ModuleReading)
	require.NoError(t, err)
	assert.Zero(t, skill.TotalAttempts)

	_, applied, err := store.Load(context.Background(), e.SubmissionID, progress.KeyFor(e))
	require.NoError(t, err)
	assert.False(t, applied, "a failed apply can be retried")
}

func TestStatsStore_ConcurrentAppliesDoNotLoseUpdates(t *testing.T) {
	store := NewStatsStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, applyEvent(store, lessonEvent(fmt.Sprintf("sub-%d", i), true, false)))
		}(i)
	}
	wg.Wait()

	ov, err := store.GetOverview(context.Background(), userA)
	require.NoError(t, err)
	require.Len(t, ov.Skills, 1)
	assert.Equal(t, 100, ov.Skills[0].TotalAttempts)
	assert.Equal(t, 50, ov.Skills[0].CorrectAnswers)
	assert.InDelta(t, 0.5, ov.Skills[0].Accuracy, 1e-9)
	require.Len(t, ov.QuestionTypes, 1)
	assert.Equal(t, 50, ov.QuestionTypes[0].WrongCount)
	require.Len(t, ov.Topics, 1)
	assert.Equal(t, 1, ov.Topics[0].CompletedLessons, "the same lesson counts once")
}

func TestAccountRepository_CompareAndSwap(t *testing.T) {
	repo := NewAccountRepository()
	ctx := context.Background()

	acc, err := repo.GetOrCreate(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, shared.LevelA1, acc.Level)
	assert.Zero(t, acc.Version)

	stale := acc.Clone()

	acc.TotalPoints = 10
	require.NoError(t, repo.CompareAndSwap(ctx, acc, 0))
	assert.Equal(t, int64(1), acc.Version)

	stale.TotalPoints = 10
	err = repo.CompareAndSwap(ctx, stale, 0)
	assert.True(t, shared.IsConcurrencyConflict(err))

	fresh, err := repo.GetOrCreate(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, 10, fresh.TotalPoints)
}

const lessonsYAML = `
lessons:
  - id: grammar-past-1
    topic_id: past-simple
    module_type: grammar
    title: Past simple basics
    passing_score: 60
    next_lesson_id: grammar-past-2
    topic_lesson_count: 2
    questions:
      - id: q1
        type: multiple_choice
        prompt: "Yesterday I ___ to the cinema."
        choice:
          options:
            - {id: a, text: go}
            - {id: b, text: went, is_correct: true}
      - id: q2
        type: sentence_building
        points: 5
        sentence:
          tokens: [I, watched, a, film]
`

func TestLessonCatalog_ParseYAML(t *testing.T) {
	catalog, err := ParseLessonCatalog([]byte(lessonsYAML))
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Len())

	lesson, err := catalog.GetLesson(context.Background(), "grammar-past-1")
	require.NoError(t, err)
	assert.Equal(t, shared.ModuleGrammar, lesson.ModuleType)
	assert.Equal(t, shared.LessonID("grammar-past-2"), lesson.NextLessonID)
	require.Len(t, lesson.Questions, 2)
	assert.True(t, lesson.Questions[0].Choice.Options[1].IsCorrect)
	assert.Equal(t, 5, lesson.Questions[1].Points)

	_, err = catalog.GetLesson(context.Background(), "missing")
	assert.True(t, shared.IsNotFound(err))
}

func TestLessonCatalog_RejectsMalformedLesson(t *testing.T) {
	_, err := ParseLessonCatalog([]byte(`
lessons:
  - id: broken
    module_type: grammar
    questions:
      - id: q1
        type: matching
`))
	assert.ErrorIs(t, err, shared.ErrMalformedQuestion)
}
