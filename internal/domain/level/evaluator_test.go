package level

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

const testUser = shared.UserID("0b7e4c36-5e0f-4c55-9a0e-53c1d2d35f10")

func TestDefaultRulesAreValid(t *testing.T) {
	require.NoError(t, DefaultRules().Validate())

	broken := DefaultRules()
	broken.Thresholds[shared.LevelB2] = 200
	assert.True(t, shared.IsValidation(broken.Validate()))

	missing := DefaultRules()
	delete(missing.Thresholds, shared.LevelC2)
	assert.Error(t, missing.Validate())
}

func TestEvaluate(t *testing.T) {
	e := NewEvaluator(DefaultRules())
	now := time.Now()

	tests := []struct {
		name        string
		level       shared.Level
		points      int
		in          Input
		wantUpgrade bool
		wantLevel   shared.Level
		wantTotal   int
	}{
		{
			name:      "below threshold",
			level:     shared.LevelA1,
			points:    50,
			in:        Input{PointsEarned: 30},
			wantLevel: shared.LevelA1,
			wantTotal: 80,
		},
		{
			name:        "crosses A2",
			level:       shared.LevelA1,
			points:      90,
			in:          Input{PointsEarned: 10},
			wantUpgrade: true,
			wantLevel:   shared.LevelA2,
			wantTotal:   100,
		},
		{
			name:        "one step per submission",
			level:       shared.LevelA1,
			points:      0,
			in:          Input{PointsEarned: 5000},
			wantUpgrade: true,
			wantLevel:   shared.LevelA2,
			wantTotal:   5000,
		},
		{
			name:        "mastery fast-tracks at discounted threshold",
			level:       shared.LevelA2,
			points:      230,
			in:          Input{PointsEarned: 10, ModuleMastered: true},
			wantUpgrade: true,
			wantLevel:   shared.LevelB1,
			wantTotal:   240,
		},
		{
			name:      "no mastery, same points",
			level:     shared.LevelA2,
			points:    230,
			in:        Input{PointsEarned: 10},
			wantLevel: shared.LevelA2,
			wantTotal: 240,
		},
		{
			name:      "C2 stays C2",
			level:     shared.LevelC2,
			points:    9000,
			in:        Input{PointsEarned: 20},
			wantLevel: shared.LevelC2,
			wantTotal: 9020,
		},
		{
			name:      "level above point table is never downgraded",
			level:     shared.LevelB2,
			points:    0,
			in:        Input{PointsEarned: 0},
			wantLevel: shared.LevelB2,
			wantTotal: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := &Account{UserID: testUser, Level: tt.level, TotalPoints: tt.points, Version: 3, UpdatedAt: now}

			next, res, err := e.Evaluate(acc, tt.in)
			require.NoError(t, err)

			assert.Equal(t, tt.wantUpgrade, res.DidUpgrade)
			assert.Equal(t, tt.wantLevel, next.Level)
			assert.Equal(t, tt.wantTotal, next.TotalPoints)
			assert.Equal(t, tt.wantTotal, res.TotalPoints)
			assert.Equal(t, tt.level, res.PreviousLevel)
			assert.GreaterOrEqual(t, next.Level, acc.Level)
			if tt.wantUpgrade {
				require.NotNil(t, res.NewLevel)
				assert.Equal(t, tt.wantLevel, *res.NewLevel)
			} else {
				assert.Nil(t, res.NewLevel)
			}

			assert.Equal(t, tt.points, acc.TotalPoints, "input account is not mutated")
			assert.Equal(t, int64(3), next.Version, "version is bumped by the repository")
		})
	}
}

func TestEvaluate_UnlocksNextLesson(t *testing.T) {
	e := NewEvaluator(DefaultRules())
	acc := NewAccount(testUser, time.Now())

	_, res, err := e.Evaluate(acc, Input{PointsEarned: 10, IsPassed: true, NextLessonID: "lesson-2"})
	require.NoError(t, err)
	assert.True(t, res.HasUnlockedNext)
	assert.Equal(t, shared.LessonID("lesson-2"), res.NextLessonID)

	_, res, err = e.Evaluate(acc, Input{PointsEarned: 10, IsPassed: false, NextLessonID: "lesson-2"})
	require.NoError(t, err)
	assert.False(t, res.HasUnlockedNext)
	assert.Empty(t, res.NextLessonID)
}

func TestEvaluate_RejectsNegativePoints(t *testing.T) {
	e := NewEvaluator(DefaultRules())
	_, _, err := e.Evaluate(NewAccount(testUser, time.Now()), Input{PointsEarned: -1})
	assert.ErrorIs(t, err, shared.ErrNegativePoints)
}
