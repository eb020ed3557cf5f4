package command

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingvohub/lingvo-engine/internal/domain/grading"
	"github.com/lingvohub/lingvo-engine/internal/domain/level"
	"github.com/lingvohub/lingvo-engine/internal/domain/progress"
	"github.com/lingvohub/lingvo-engine/internal/domain/recommendation"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
	"github.com/lingvohub/lingvo-engine/internal/infrastructure/persistence/memory"
	"github.com/lingvohub/lingvo-engine/pkg/logger"
)

const learner = shared.UserID("8b0e3f5a-7c21-4d6e-9a1b-2c3d4e5f6a7b")

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) ofType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeGuard struct {
	held     map[string]bool
	released int
}

func (g *fakeGuard) Acquire(_ context.Context, userID shared.UserID, lessonID shared.LessonID, answers []grading.SubmittedAnswer) (func(), error) {
	key := fmt.Sprintf("%s/%s/%v", userID, lessonID, answers)
	if g.held[key] {
		return func() {}, shared.ErrDuplicateSubmitted
	}
	g.held[key] = true
	return func() {
		g.released++
		delete(g.held, key)
	}, nil
}

// conflictingAccounts проигрывает каждый compare-and-swap.
type conflictingAccounts struct {
	*memory.AccountRepository
	attempts int
}

func (r *conflictingAccounts) CompareAndSwap(context.Context, *level.Account, int64) error {
	r.attempts++
	return shared.ErrVersionConflict
}

func choiceLesson(id shared.LessonID, next shared.LessonID) *grading.Lesson {
	return &grading.Lesson{
		ID:               id,
		TopicID:          "travel",
		ModuleType:       shared.ModuleGrammar,
		Title:            "Past simple",
		NextLessonID:     next,
		TopicLessonCount: 3,
		Questions: []grading.Question{
			{
				ID:     "q1",
				Type:   shared.QuestionMultipleChoice,
				Points: 10,
				Choice: &grading.ChoicePayload{Options: []grading.Option{
					{ID: "a", Text: "goed"},
					{ID: "b", Text: "went", IsCorrect: true},
				}},
			},
		},
	}
}

type fixture struct {
	handler   *SubmitLessonHandler
	accounts  *memory.AccountRepository
	stats     *memory.StatsStore
	publisher *recordingPublisher
}

func newFixture(t *testing.T, cfg SubmitLessonHandlerConfig) *fixture {
	t.Helper()
	catalog, err := memory.NewLessonCatalog(
		choiceLesson("lesson-1", "lesson-2"),
		choiceLesson("lesson-2", ""),
	)
	require.NoError(t, err)

	f := &fixture{
		accounts:  memory.NewAccountRepository(),
		stats:     memory.NewStatsStore(),
		publisher: &recordingPublisher{},
	}
	cfg.Logger = logger.Discard()
	f.handler = NewSubmitLessonHandler(
		catalog,
		grading.NewGrader(grading.DefaultGraderConfig()),
		level.NewEvaluator(level.DefaultRules()),
		f.accounts,
		f.stats,
		f.publisher,
		cfg,
	)
	return f
}

func (f *fixture) seedPoints(t *testing.T, points int) {
	t.Helper()
	ctx := context.Background()
	acc, err := f.accounts.GetOrCreate(ctx, learner)
	require.NoError(t, err)
	acc.TotalPoints = points
	require.NoError(t, f.accounts.CompareAndSwap(ctx, acc, acc.Version))
}

func correct() []grading.SubmittedAnswer {
	return []grading.SubmittedAnswer{{QuestionID: "q1", SelectedOptionID: "b"}}
}

func wrong() []grading.SubmittedAnswer {
	return []grading.SubmittedAnswer{{QuestionID: "q1", SelectedOptionID: "a"}}
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT LESSON
// ══════════════════════════════════════════════════════════════════════════════

func TestSubmitLesson_PassAwardsPointsAndPublishes(t *testing.T) {
	f := newFixture(t, SubmitLessonHandlerConfig{NewID: func() string { return "sub-1" }})

	res, err := f.handler.Handle(context.Background(), SubmitLessonCommand{
		UserID:        learner,
		LessonID:      "lesson-1",
		Answers:       correct(),
		CorrelationID: "req-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "sub-1", res.Submission.SubmissionID)
	assert.Equal(t, 100.0, res.Submission.ScorePercentage)
	assert.True(t, res.Submission.IsPassed)
	assert.Equal(t, 10, res.Level.PointsEarned)
	assert.Equal(t, 10, res.Level.TotalPoints)
	assert.False(t, res.Level.DidUpgrade)
	assert.True(t, res.Level.HasUnlockedNext)
	assert.Equal(t, shared.LessonID("lesson-2"), res.Level.NextLessonID)

	completed := f.publisher.ofType(shared.EventLessonCompleted)
	require.Len(t, completed, 1)
	e := completed[0].(shared.LessonCompletedEvent)
	assert.Equal(t, "sub-1", e.SubmissionID)
	assert.Equal(t, "travel", e.TopicID)
	assert.Equal(t, 3, e.TopicLessonCount)
	assert.Equal(t, "req-1", e.CorrelationID)
	require.Len(t, e.Outcomes, 1)
	assert.True(t, e.Outcomes[0].IsCorrect)
	assert.Empty(t, f.publisher.ofType(shared.EventLevelUpgraded))
}

func TestSubmitLesson_FailDoesNotUnlockNext(t *testing.T) {
	f := newFixture(t, SubmitLessonHandlerConfig{})

	res, err := f.handler.Handle(context.Background(), SubmitLessonCommand{
		UserID: learner, LessonID: "lesson-1", Answers: wrong(),
	})
	require.NoError(t, err)
	assert.False(t, res.Submission.IsPassed)
	assert.Zero(t, res.Level.PointsEarned)
	assert.False(t, res.Level.HasUnlockedNext)
	assert.Empty(t, res.Level.NextLessonID)
	assert.Len(t, f.publisher.ofType(shared.EventLessonCompleted), 1)
}

func TestSubmitLesson_UpgradePublishesLevelEvent(t *testing.T) {
	f := newFixture(t, SubmitLessonHandlerConfig{})
	f.seedPoints(t, 95)

	res, err := f.handler.Handle(context.Background(), SubmitLessonCommand{
		UserID: learner, LessonID: "lesson-2", Answers: correct(),
	})
	require.NoError(t, err)
	require.True(t, res.Level.DidUpgrade)
	assert.Equal(t, shared.LevelA1, res.Level.PreviousLevel)
	assert.Equal(t, shared.LevelA2, *res.Level.NewLevel)
	assert.Equal(t, 105, res.Level.TotalPoints)
	assert.False(t, res.Level.HasUnlockedNext, "last lesson of the catalog")

	upgraded := f.publisher.ofType(shared.EventLevelUpgraded)
	require.Len(t, upgraded, 1)
	assert.Equal(t, shared.LevelA2, upgraded[0].(shared.LevelUpgradedEvent).NewLevel)

	acc, err := f.accounts.GetOrCreate(context.Background(), learner)
	require.NoError(t, err)
	assert.Equal(t, shared.LevelA2, acc.Level)
}

func TestSubmitLesson_MasteryLowersThreshold(t *testing.T) {
	f := newFixture(t, SubmitLessonHandlerConfig{})
	f.seedPoints(t, 75)

	history := shared.NewLessonCompletedEvent("history", learner, "lesson-0", shared.ModuleGrammar, time.Now())
	for i := 0; i < 20; i++ {
		history.Outcomes = append(history.Outcomes, shared.AnswerOutcome{
			QuestionID:   fmt.Sprintf("h%d", i),
			QuestionType: shared.QuestionMultipleChoice,
			IsCorrect:    true,
		})
	}
	require.NoError(t, f.stats.Apply(context.Background(), history.SubmissionID, progress.KeyFor(history), func(s *progress.Snapshot) error {
		s.ApplyCompletion(history)
		return nil
	}))

	res, err := f.handler.Handle(context.Background(), SubmitLessonCommand{
		UserID: learner, LessonID: "lesson-1", Answers: correct(),
	})
	require.NoError(t, err)
	assert.Equal(t, 85, res.Level.TotalPoints)
	assert.True(t, res.Level.DidUpgrade, "85 clears 80 percent of the A2 threshold")
}

func TestSubmitLesson_ConcurrentSubmissionsKeepAllPoints(t *testing.T) {
	f := newFixture(t, SubmitLessonHandlerConfig{CASMaxAttempts: 16})

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.handler.Handle(context.Background(), SubmitLessonCommand{
				UserID: learner, LessonID: "lesson-1", Answers: correct(),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	acc, err := f.accounts.GetOrCreate(context.Background(), learner)
	require.NoError(t, err)
	assert.Equal(t, n*10, acc.TotalPoints)
	assert.Equal(t, int64(n), acc.Version)
	assert.Len(t, f.publisher.ofType(shared.EventLessonCompleted), n)
}

func TestSubmitLesson_TwoConcurrentTenPointSubmissionsTotalTwenty(t *testing.T) {
	f := newFixture(t, SubmitLessonHandlerConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.handler.Handle(context.Background(), SubmitLessonCommand{
				UserID: learner, LessonID: "lesson-1", Answers: correct(),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	acc, err := f.accounts.GetOrCreate(context.Background(), learner)
	require.NoError(t, err)
	assert.Equal(t, 20, acc.TotalPoints)
}

func TestSubmitLesson_RetriesExhausted(t *testing.T) {
	f := newFixture(t, SubmitLessonHandlerConfig{})
	accounts := &conflictingAccounts{AccountRepository: memory.NewAccountRepository()}
	f.handler.accounts = accounts

	_, err := f.handler.Handle(context.Background(), SubmitLessonCommand{
		UserID: learner, LessonID: "lesson-1", Answers: correct(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrRetriesExhausted)
	assert.True(t, shared.IsConcurrencyConflict(err))
	assert.Equal(t, 5, accounts.attempts)
	assert.Empty(t, f.publisher.events, "nothing is published without stored points")
}

func TestSubmitLesson_RejectsInvalidSubmissions(t *testing.T) {
	tests := []struct {
		name  string
		cmd   SubmitLessonCommand
		check func(error) bool
	}{
		{
			name:  "user id is not a uuid",
			cmd:   SubmitLessonCommand{UserID: "bob", LessonID: "lesson-1", Answers: correct()},
			check: shared.IsValidation,
		},
		{
			name:  "no answers",
			cmd:   SubmitLessonCommand{UserID: learner, LessonID: "lesson-1"},
			check: shared.IsValidation,
		},
		{
			name:  "unknown lesson",
			cmd:   SubmitLessonCommand{UserID: learner, LessonID: "lesson-9", Answers: correct()},
			check: shared.IsNotFound,
		},
		{
			name:  "unknown question",
			cmd:   SubmitLessonCommand{UserID: learner, LessonID: "lesson-1", Answers: []grading.SubmittedAnswer{{QuestionID: "q7"}}},
			check: shared.IsNotFound,
		},
		{
			name: "question answered twice",
			cmd: SubmitLessonCommand{UserID: learner, LessonID: "lesson-1", Answers: []grading.SubmittedAnswer{
				{QuestionID: "q1", SelectedOptionID: "b"},
				{QuestionID: "q1", SelectedOptionID: "a"},
			}},
			check: shared.IsValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, SubmitLessonHandlerConfig{})
			_, err := f.handler.Handle(context.Background(), tt.cmd)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error kind: %v", err)
			assert.Empty(t, f.publisher.events)
		})
	}
}

func TestSubmitLesson_DuplicateGuard(t *testing.T) {
	guard := &fakeGuard{held: map[string]bool{}}
	f := newFixture(t, SubmitLessonHandlerConfig{Guard: guard})
	ctx := context.Background()
	cmd := SubmitLessonCommand{UserID: learner, LessonID: "lesson-1", Answers: correct()}

	_, err := f.handler.Handle(ctx, cmd)
	require.NoError(t, err)

	_, err = f.handler.Handle(ctx, cmd)
	assert.ErrorIs(t, err, shared.ErrDuplicateSubmitted)
	assert.True(t, shared.IsConflict(err))
	assert.Zero(t, guard.released, "an accepted submission keeps its claim")

	bad := SubmitLessonCommand{UserID: learner, LessonID: "lesson-1", Answers: []grading.SubmittedAnswer{{QuestionID: "q9"}}}
	_, err = f.handler.Handle(ctx, bad)
	require.Error(t, err)
	assert.Equal(t, 1, guard.released, "a rejected submission frees its claim")

	acc, err := f.accounts.GetOrCreate(ctx, learner)
	require.NoError(t, err)
	assert.Equal(t, 10, acc.TotalPoints)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD RECOMMENDATION
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordRecommendation_Lifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	repo := memory.NewRecommendationRepository()
	manager := recommendation.NewManager(recommendation.ManagerConfig{
		Repository: repo,
		Stats:      memory.NewStatsStore(),
		NewID:      func() string { return "unused" },
		Now:        func() time.Time { return now },
	})
	h := NewRecordRecommendationHandler(manager, logger.Discard())

	require.NoError(t, repo.Create(ctx, &recommendation.Recommendation{
		ID:             "rec-1",
		UserID:         learner,
		Type:           recommendation.TypeNextLesson,
		Title:          "Continue",
		TargetLessonID: "lesson-2",
		Priority:       40,
		CreatedAt:      now,
		ExpiresAt:      now.Add(24 * time.Hour),
	}))

	for _, tr := range []Transition{TransitionShown, TransitionAccepted, TransitionCompleted} {
		rec, err := h.Handle(ctx, RecordRecommendationCommand{UserID: learner, RecommendationID: "rec-1", Transition: tr})
		require.NoError(t, err, tr)
		assert.Equal(t, "rec-1", rec.ID)
	}

	got, err := repo.Get(ctx, "rec-1")
	require.NoError(t, err)
	assert.True(t, got.IsShown)
	assert.True(t, got.Accepted())
	assert.True(t, got.IsCompleted)

	done := &recommendation.Recommendation{
		ID: "rec-2", UserID: learner, Type: recommendation.TypeRetryLesson, Title: "Retry",
		TargetLessonID: "lesson-1", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, repo.Create(ctx, done))
	_, err = h.Handle(ctx, RecordRecommendationCommand{UserID: learner, RecommendationID: "rec-2", Transition: TransitionCompleted})
	require.NoError(t, err)
	_, err = h.Handle(ctx, RecordRecommendationCommand{UserID: learner, RecommendationID: "rec-2", Transition: TransitionAccepted})
	assert.ErrorIs(t, err, shared.ErrRecommendationCompleted)
	assert.True(t, shared.IsConflict(err))

	expired := &recommendation.Recommendation{
		ID: "rec-3", UserID: learner, Type: recommendation.TypeRetryLesson, Title: "Retry",
		TargetLessonID: "lesson-3", CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-24 * time.Hour),
	}
	require.NoError(t, repo.Create(ctx, expired))
	_, err = h.Handle(ctx, RecordRecommendationCommand{UserID: learner, RecommendationID: "rec-3", Transition: TransitionAccepted})
	assert.ErrorIs(t, err, shared.ErrRecommendationExpired)
	assert.True(t, shared.IsConflict(err))

	other := shared.UserID("00000000-0000-4000-8000-000000000001")
	_, err = h.Handle(ctx, RecordRecommendationCommand{UserID: other, RecommendationID: "rec-1", Transition: TransitionShown})
	assert.True(t, shared.IsNotFound(err))

	_, err = h.Handle(ctx, RecordRecommendationCommand{UserID: learner, RecommendationID: "rec-1", Transition: "dismissed"})
	assert.True(t, shared.IsValidation(err))
}
