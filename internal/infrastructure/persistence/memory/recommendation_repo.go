package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lingvohub/lingvo-engine/internal/domain/recommendation"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// RecommendationRepository implements recommendation.Repository.
// Records are copied on the way in and out.
type RecommendationRepository struct {
	mu   sync.RWMutex
	recs map[string]*recommendation.Recommendation
}

// NewRecommendationRepository creates an empty repository.
func NewRecommendationRepository() *RecommendationRepository {
	return &RecommendationRepository{recs: make(map[string]*recommendation.Recommendation)}
}

func clone(r *recommendation.Recommendation) *recommendation.Recommendation {
	c := *r
	return &c
}

// Create implements recommendation.Repository.
func (r *RecommendationRepository) Create(ctx context.Context, rec *recommendation.Recommendation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.recs[rec.ID]; exists {
		return fmt.Errorf("%w: recommendation %s", shared.ErrAlreadyExists, rec.ID)
	}
	r.recs[rec.ID] = clone(rec)
	return nil
}

// Get implements recommendation.Repository.
func (r *RecommendationRepository) Get(ctx context.Context, id string) (*recommendation.Recommendation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, shared.ErrRecommendationNotFound
	}
	return clone(rec), nil
}

func (r *RecommendationRepository) update(ctx context.Context, id string, fn func(stored *recommendation.Recommendation)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.recs[id]
	if !ok {
		return shared.ErrRecommendationNotFound
	}
	fn(stored)
	return nil
}

// MarkShown implements recommendation.Repository.
func (r *RecommendationRepository) MarkShown(ctx context.Context, rec *recommendation.Recommendation) error {
	return r.update(ctx, rec.ID, func(s *recommendation.Recommendation) {
		if !s.IsShown {
			s.IsShown = true
			s.ShownAt = rec.ShownAt
		}
	})
}

// MarkAccepted implements recommendation.Repository.
func (r *RecommendationRepository) MarkAccepted(ctx context.Context, rec *recommendation.Recommendation) error {
	return r.update(ctx, rec.ID, func(s *recommendation.Recommendation) {
		if !s.IsShown {
			s.IsShown = true
			s.ShownAt = rec.ShownAt
		}
		if !s.Accepted() {
			accepted := true
			s.IsAccepted = &accepted
			s.AcceptedAt = rec.AcceptedAt
		}
	})
}

// MarkCompleted implements recommendation.Repository.
func (r *RecommendationRepository) MarkCompleted(ctx context.Context, rec *recommendation.Recommendation) error {
	return r.update(ctx, rec.ID, func(s *recommendation.Recommendation) {
		if !s.IsCompleted {
			s.IsCompleted = true
			s.CompletedAt = rec.CompletedAt
		}
	})
}

// FindActiveForUser implements recommendation.Repository.
func (r *RecommendationRepository) FindActiveForUser(ctx context.Context, userID shared.UserID, now time.Time) ([]*recommendation.Recommendation, error) {
	return r.find(ctx, func(rec *recommendation.Recommendation) bool {
		return rec.UserID == userID && rec.IsActive(now)
	})
}

// FindActiveByTargetLesson implements recommendation.Repository.
func (r *RecommendationRepository) FindActiveByTargetLesson(ctx context.Context, userID shared.UserID, lessonID shared.LessonID, now time.Time) ([]*recommendation.Recommendation, error) {
	return r.find(ctx, func(rec *recommendation.Recommendation) bool {
		return rec.UserID == userID && rec.TargetLessonID == lessonID && rec.IsActive(now)
	})
}

// CountExpired implements recommendation.Repository.
func (r *RecommendationRepository) CountExpired(ctx context.Context, now time.Time) (int, error) {
	recs, err := r.find(ctx, func(rec *recommendation.Recommendation) bool {
		return rec.IsStale(now)
	})
	return len(recs), err
}

func (r *RecommendationRepository) find(ctx context.Context, match func(*recommendation.Recommendation) bool) ([]*recommendation.Recommendation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*recommendation.Recommendation
	for _, rec := range r.recs {
		if match(rec) {
			out = append(out, clone(rec))
		}
	}
	recommendation.SortForDisplay(out)
	return out, nil
}
