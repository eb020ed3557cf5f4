package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingvohub/lingvo-engine/internal/domain/recommendation"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
	"github.com/lingvohub/lingvo-engine/internal/infrastructure/persistence/memory"
	"github.com/lingvohub/lingvo-engine/pkg/logger"
)

type replayerFunc func(ctx context.Context, limit int) (int, error)

func (f replayerFunc) ReplayDeadLetters(ctx context.Context, limit int) (int, error) {
	return f(ctx, limit)
}

func TestExpireRecommendationsJob_CountsOnlyStale(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	user := shared.UserID("8a7b6c5d-4e3f-4a1b-9c8d-7e6f5a4b3c2d")

	repo := memory.NewRecommendationRepository()
	for _, r := range []struct {
		id        string
		expires   time.Time
		completed bool
	}{
		{"stale", now.Add(-time.Minute), false},
		{"stale-done", now.Add(-time.Minute), true},
		{"fresh", now.Add(time.Hour), false},
	} {
		require.NoError(t, repo.Create(ctx, &recommendation.Recommendation{
			ID: r.id, UserID: user, Type: recommendation.TypeNextLesson,
			TargetLessonID: shared.LessonID(r.id), CreatedAt: now.Add(-time.Hour),
			ExpiresAt: r.expires, IsCompleted: r.completed,
		}))
	}
	manager := recommendation.NewManager(recommendation.ManagerConfig{
		Repository: repo,
		Stats:      memory.NewStatsStore(),
	})

	job := NewExpireRecommendationsJob(manager, func() time.Time { return now }, logger.Discard())
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 1, job.LastCount())
	assert.Equal(t, "expire_stale_recommendations", job.Name())

	active, err := manager.ListActive(ctx, user, now)
	require.NoError(t, err)
	require.Len(t, active, 1, "counting does not touch stored recommendations")
	assert.Equal(t, "fresh", active[0].ID)
}

func TestReplayDeadLettersJob(t *testing.T) {
	var gotLimit int
	job := NewReplayDeadLettersJob(replayerFunc(func(_ context.Context, limit int) (int, error) {
		gotLimit = limit
		return 3, nil
	}), 0, logger.Discard())

	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 100, gotLimit)
	assert.Equal(t, int64(6), job.TotalReplayed())
}

func TestReplayDeadLettersJob_PartialFailure(t *testing.T) {
	job := NewReplayDeadLettersJob(replayerFunc(func(context.Context, int) (int, error) {
		return 1, context.Canceled
	}), 10, logger.Discard())

	err := job.Run(context.Background())
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int64(1), job.TotalReplayed())
}
