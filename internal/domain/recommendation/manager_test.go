package recommendation_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingvohub/lingvo-engine/internal/domain/progress"
	"github.com/lingvohub/lingvo-engine/internal/domain/recommendation"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
	"github.com/lingvohub/lingvo-engine/internal/infrastructure/persistence/memory"
)

const (
	alice = shared.UserID("9a3e8f62-1b2c-4d5e-8f90-a1b2c3d4e5f6")
	bob   = shared.UserID("1f2e3d4c-5b6a-4798-8a7b-6c5d4e3f2a1b")
)

var base = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	repo    *memory.RecommendationRepository
	stats   *memory.StatsStore
	manager *recommendation.Manager
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  memory.NewRecommendationRepository(),
		stats: memory.NewStatsStore(),
		now:   base,
	}
	seq := 0
	f.manager = recommendation.NewManager(recommendation.ManagerConfig{
		Repository: f.repo,
		Stats:      f.stats,
		NewID: func() string {
			seq++
			return fmt.Sprintf("rec-%03d", seq)
		},
		Now: func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) seed(t *testing.T, rec *recommendation.Recommendation) {
	t.Helper()
	require.NoError(t, f.repo.Create(context.Background(), rec))
}

func rec(id string, user shared.UserID, priority int, created, expires time.Time) *recommendation.Recommendation {
	return &recommendation.Recommendation{
		ID:        id,
		UserID:    user,
		Type:      recommendation.TypePracticeSkill,
		Title:     "Practice",
		Priority:  priority,
		CreatedAt: created,
		ExpiresAt: expires,
	}
}

func completion(sub string, passed bool, score float64, correct ...bool) shared.LessonCompletedEvent {
	e := shared.NewLessonCompletedEvent(sub, alice, "lesson-7", shared.ModuleListening, base)
	e.TopicID = "airport"
	e.TopicLessonCount = 6
	e.IsPassed = passed
	e.ScorePercentage = score
	e.NextLessonID = "lesson-8"
	for i, c := range correct {
		e.Outcomes = append(e.Outcomes, shared.AnswerOutcome{
			QuestionID:   fmt.Sprintf("q%d", i),
			QuestionType: shared.QuestionMultipleChoice,
			IsCorrect:    c,
		})
	}
	return e
}

func TestListActive_FiltersAndOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	future := base.Add(24 * time.Hour)

	f.seed(t, rec("low-old", alice, 10, base.Add(-3*time.Hour), future))
	f.seed(t, rec("high", alice, 90, base.Add(-5*time.Hour), future))
	f.seed(t, rec("low-new", alice, 10, base.Add(-1*time.Hour), future))
	f.seed(t, rec("expired", alice, 99, base.Add(-48*time.Hour), base.Add(-time.Minute)))
	f.seed(t, rec("expires-now", alice, 99, base.Add(-48*time.Hour), base))
	f.seed(t, rec("other-user", bob, 50, base, future))

	done := rec("done", alice, 95, base.Add(-time.Hour), future)
	done.IsCompleted = true
	f.seed(t, done)

	shown := rec("shown-ignored", alice, 20, base.Add(-2*time.Hour), future)
	shown.IsShown = true
	f.seed(t, shown)

	got, err := f.manager.ListActive(ctx, alice, base)
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"high", "shown-ignored", "low-new", "low-old"}, ids)
}

func TestExpireStale_CountsWithoutMutating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, rec("stale-1", alice, 10, base.Add(-72*time.Hour), base.Add(-time.Hour)))
	f.seed(t, rec("stale-2", bob, 10, base.Add(-72*time.Hour), base.Add(-2*time.Hour)))
	f.seed(t, rec("fresh", alice, 10, base, base.Add(time.Hour)))
	done := rec("done", alice, 10, base.Add(-72*time.Hour), base.Add(-time.Hour))
	done.IsCompleted = true
	f.seed(t, done)

	n, err := f.manager.ExpireStale(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.manager.ExpireStale(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "sweep is observational")

	stale, err := f.repo.Get(ctx, "stale-1")
	require.NoError(t, err)
	assert.False(t, stale.IsCompleted)
}

func TestLifecycleTransitionsAreOneWay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, rec("r1", alice, 10, base, base.Add(time.Hour)))

	shown, err := f.manager.RecordShown(ctx, alice, "r1")
	require.NoError(t, err)
	require.NotNil(t, shown.ShownAt)
	firstShownAt := *shown.ShownAt

	f.now = base.Add(10 * time.Minute)
	shown, err = f.manager.RecordShown(ctx, alice, "r1")
	require.NoError(t, err)
	assert.Equal(t, firstShownAt, *shown.ShownAt, "showing twice keeps the first timestamp")

	accepted, err := f.manager.RecordAccepted(ctx, alice, "r1")
	require.NoError(t, err)
	assert.True(t, accepted.Accepted())

	completed, err := f.manager.RecordCompleted(ctx, alice, "r1")
	require.NoError(t, err)
	assert.True(t, completed.IsCompleted)

	stored, err := f.repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, stored.IsShown)
	assert.True(t, stored.Accepted())
	assert.True(t, stored.IsCompleted)
	assert.Equal(t, firstShownAt, *stored.ShownAt)
}

func TestRecordAccepted_RejectsExpiredAndForeign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, rec("old", alice, 10, base.Add(-2*time.Hour), base.Add(-time.Hour)))
	f.seed(t, rec("bobs", bob, 10, base, base.Add(time.Hour)))

	_, err := f.manager.RecordAccepted(ctx, alice, "old")
	assert.ErrorIs(t, err, shared.ErrExpired)

	_, err = f.manager.RecordShown(ctx, alice, "bobs")
	assert.True(t, shared.IsNotFound(err))

	_, err = f.manager.RecordCompleted(ctx, alice, "missing")
	assert.True(t, shared.IsNotFound(err))
}

func TestOnLessonCompleted_CompletesTargetingRecommendations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	target := rec("retry-7", alice, 70, base.Add(-time.Hour), base.Add(time.Hour))
	target.Type = recommendation.TypeRetryLesson
	target.TargetLessonID = "lesson-7"
	f.seed(t, target)

	other := rec("retry-3", alice, 70, base.Add(-time.Hour), base.Add(time.Hour))
	other.Type = recommendation.TypeRetryLesson
	other.TargetLessonID = "lesson-3"
	f.seed(t, other)

	out, err := f.manager.OnLessonCompleted(ctx, completion("sub-1", true, 90, true, true))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Completed)

	got, err := f.repo.Get(ctx, "retry-7")
	require.NoError(t, err)
	assert.True(t, got.IsCompleted)

	got, err = f.repo.Get(ctx, "retry-3")
	require.NoError(t, err)
	assert.False(t, got.IsCompleted)
}

func TestOnLessonCompleted_GeneratesFromProjectedStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// пять неверных ответов, агрегатор ещё не успел их учесть
	e := completion("sub-weak", false, 0, false, false, false, false, false)
	out, err := f.manager.OnLessonCompleted(ctx, e)
	require.NoError(t, err)

	types := map[recommendation.Type]*recommendation.Recommendation{}
	for _, r := range out.Created {
		types[r.Type] = r
		assert.Equal(t, alice, r.UserID)
		assert.Equal(t, base.Add(recommendation.DefaultRules().TTL), r.ExpiresAt)
		assert.NotEmpty(t, r.Reasoning)
	}
	require.Contains(t, types, recommendation.TypePracticeSkill)
	assert.Equal(t, shared.ModuleListening, types[recommendation.TypePracticeSkill].TargetSkill)
	require.Contains(t, types, recommendation.TypeRetryLesson)
	assert.Equal(t, shared.LessonID("lesson-7"), types[recommendation.TypeRetryLesson].TargetLessonID)
	require.Contains(t, types, recommendation.TypePracticeQuestionType)
	assert.NotContains(t, types, recommendation.TypeNextLesson)
	assert.NotContains(t, types, recommendation.TypeReviewTopic, "failed lessons do not touch topic progress")

	assert.Equal(t, "sub-weak", types[recommendation.TypeRetryLesson].SourceSubmissionID)

	// повторная доставка ничего не меняет
	again, err := f.manager.OnLessonCompleted(ctx, e)
	require.NoError(t, err)
	assert.Zero(t, again.Completed, "the retry recommendation came from this very submission")
	assert.Empty(t, again.Created)
	assert.Equal(t, len(out.Created), again.Skipped)

	active, err := f.manager.ListActive(ctx, alice, base)
	require.NoError(t, err)
	assert.Len(t, active, len(out.Created))
}

func TestOnLessonCompleted_RedeliveryKeepsAcceptedRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	failed := completion("sub-fail", false, 20, false)
	out, err := f.manager.OnLessonCompleted(ctx, failed)
	require.NoError(t, err)

	var retry *recommendation.Recommendation
	for _, r := range out.Created {
		if r.Type == recommendation.TypeRetryLesson {
			retry = r
		}
	}
	require.NotNil(t, retry)

	f.now = base.Add(5 * time.Minute)
	_, err = f.manager.RecordAccepted(ctx, alice, retry.ID)
	require.NoError(t, err)

	again, err := f.manager.OnLessonCompleted(ctx, failed)
	require.NoError(t, err)
	assert.Zero(t, again.Completed)
	assert.Empty(t, again.Created)

	stored, err := f.repo.Get(ctx, retry.ID)
	require.NoError(t, err)
	assert.True(t, stored.Accepted())
	assert.False(t, stored.IsCompleted, "the lesson was never retaken")

	// пересдача закрывает рекомендацию
	retake := completion("sub-retake", true, 100, true)
	retake.Timestamp = base.Add(10 * time.Minute)
	done, err := f.manager.OnLessonCompleted(ctx, retake)
	require.NoError(t, err)
	assert.Equal(t, 1, done.Completed)

	stored, err = f.repo.Get(ctx, retry.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsCompleted)
}

func TestOnLessonCompleted_OlderEventDoesNotCompleteNewerRecommendation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	newer := completion("sub-newer", false, 10, false)
	newer.Timestamp = base.Add(time.Hour)
	out, err := f.manager.OnLessonCompleted(ctx, newer)
	require.NoError(t, err)
	require.NotEmpty(t, out.Created)

	// событие из очереди недоставленных, более раннее чем провал, приходит с опозданием
	older := completion("sub-older", true, 100, true)
	replayed, err := f.manager.OnLessonCompleted(ctx, older)
	require.NoError(t, err)
	assert.Zero(t, replayed.Completed)
}

func TestSatisfiedBy(t *testing.T) {
	e := completion("sub-2", true, 100, true)

	seeded := rec("seeded", alice, 10, base, base.Add(time.Hour))
	seeded.TargetLessonID = "lesson-7"
	assert.True(t, seeded.SatisfiedBy(e), "recommendations without a source close on any completion")

	sameTime := *seeded
	sameTime.SourceSubmissionID = "sub-1"
	sameTime.SourceCompletedAt = base
	assert.True(t, sameTime.SatisfiedBy(e))

	own := sameTime
	own.SourceSubmissionID = "sub-2"
	assert.False(t, own.SatisfiedBy(e))

	otherLesson := sameTime
	otherLesson.TargetLessonID = "lesson-8"
	assert.False(t, otherLesson.SatisfiedBy(e))
}

func TestOnLessonCompleted_UsesAppliedStatsAsIs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := completion("sub-ok", true, 60, true, true, true)
	require.NoError(t, f.stats.Apply(ctx, e.SubmissionID, progress.KeyFor(e), func(s *progress.Snapshot) error {
		s.ApplyCompletion(e)
		return nil
	}))

	out, err := f.manager.OnLessonCompleted(ctx, e)
	require.NoError(t, err)

	types := map[recommendation.Type]bool{}
	for _, r := range out.Created {
		types[r.Type] = true
	}
	assert.True(t, types[recommendation.TypeNextLesson])
	assert.True(t, types[recommendation.TypeReviewTopic], "topic average 60 is below 70")
	assert.False(t, types[recommendation.TypePracticeSkill], "three attempts is below the minimum")

	snap, _, err := f.stats.Load(ctx, e.SubmissionID, progress.KeyFor(e))
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Skill.TotalAttempts, "the event was not applied twice")
}

func TestGenerator_GateDisablesRules(t *testing.T) {
	gen := recommendation.NewGenerator(recommendation.DefaultRules(), func(t recommendation.Type, _ shared.UserID) bool {
		return t != recommendation.TypeRetryLesson
	})
	e := completion("sub-gate", false, 10, false)
	snap := progress.NewSnapshot(progress.KeyFor(e))
	snap.ApplyCompletion(e)

	for _, r := range gen.Generate(e, snap, base) {
		assert.NotEqual(t, recommendation.TypeRetryLesson, r.Type)
	}
}

func TestSortForDisplay_TieBreaksOnCreatedAt(t *testing.T) {
	recs := []*recommendation.Recommendation{
		rec("a", alice, 5, base.Add(-2*time.Hour), base),
		rec("b", alice, 5, base.Add(-1*time.Hour), base),
		rec("c", alice, 7, base.Add(-9*time.Hour), base),
	}
	recommendation.SortForDisplay(recs)
	assert.Equal(t, "c", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)
	assert.Equal(t, "a", recs[2].ID)
}
