package recommendation

import (
	"context"
	"time"

	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Repository - хранилище рекомендаций.
//
// Переходы жизненного цикла сохраняются монотонными обновлениями
// (флаг только включается, время ставится только один раз), поэтому
// параллельные переходы не затирают друг друга.
type Repository interface {
	// Create сохраняет новую рекомендацию.
	Create(ctx context.Context, rec *Recommendation) error

	// Get возвращает рекомендацию или shared.ErrRecommendationNotFound.
	Get(ctx context.Context, id string) (*Recommendation, error)

	// MarkShown сохраняет показ (IsShown, ShownAt).
	MarkShown(ctx context.Context, rec *Recommendation) error

	// MarkAccepted сохраняет принятие (IsAccepted, AcceptedAt, показ).
	MarkAccepted(ctx context.Context, rec *Recommendation) error

	// MarkCompleted сохраняет выполнение (IsCompleted, CompletedAt).
	MarkCompleted(ctx context.Context, rec *Recommendation) error

	// FindActiveForUser возвращает активные на момент now рекомендации.
	FindActiveForUser(ctx context.Context, userID shared.UserID, now time.Time) ([]*Recommendation, error)

	// FindActiveByTargetLesson возвращает активные рекомендации с целевым уроком.
	FindActiveByTargetLesson(ctx context.Context, userID shared.UserID, lessonID shared.LessonID, now time.Time) ([]*Recommendation, error)

	// CountExpired считает рекомендации с ExpiresAt < now и IsCompleted = false.
	CountExpired(ctx context.Context, now time.Time) (int, error)
}
