package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lingvohub/lingvo-engine/internal/domain/recommendation"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMMENDATION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// RecommendationRepository implements recommendation.Repository for PostgreSQL.
// Lifecycle updates only ever set a flag and fill a timestamp once, so
// concurrent transitions on the same row converge.
type RecommendationRepository struct {
	conn *Connection
}

// NewRecommendationRepository creates a new RecommendationRepository.
func NewRecommendationRepository(conn *Connection) *RecommendationRepository {
	return &RecommendationRepository{conn: conn}
}

const recommendationColumns = `
	id, user_id, type, title, description, reasoning,
	target_skill, target_lesson_id, target_topic_id, target_question_type,
	generated_content, priority, is_shown, is_accepted, is_completed, is_approved,
	created_at, expires_at, shown_at, accepted_at, completed_at,
	source_submission_id, source_completed_at
`

// Create implements recommendation.Repository.
func (r *RecommendationRepository) Create(ctx context.Context, rec *recommendation.Recommendation) error {
	query := `INSERT INTO recommendations (` + recommendationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

	_, err := r.conn.Exec(ctx, query,
		rec.ID,
		rec.UserID.String(),
		string(rec.Type),
		rec.Title,
		rec.Description,
		rec.Reasoning,
		rec.TargetSkill.String(),
		rec.TargetLessonID.String(),
		rec.TargetTopicID,
		rec.TargetQuestionType.String(),
		rec.GeneratedContent,
		rec.Priority,
		rec.IsShown,
		rec.IsAccepted,
		rec.IsCompleted,
		rec.IsApproved,
		rec.CreatedAt,
		rec.ExpiresAt,
		rec.ShownAt,
		rec.AcceptedAt,
		rec.CompletedAt,
		rec.SourceSubmissionID,
		nullTime(rec.SourceCompletedAt),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: recommendation %s", shared.ErrAlreadyExists, rec.ID)
		}
		return fmt.Errorf("failed to create recommendation: %w", err)
	}
	return nil
}

// Get implements recommendation.Repository.
func (r *RecommendationRepository) Get(ctx context.Context, id string) (*recommendation.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM recommendations WHERE id = $1`

	rows, err := r.conn.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get recommendation: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecommendation)
	if IsNoRows(err) {
		return nil, shared.ErrRecommendationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan recommendation: %w", err)
	}
	return rec, nil
}

// MarkShown implements recommendation.Repository.
func (r *RecommendationRepository) MarkShown(ctx context.Context, rec *recommendation.Recommendation) error {
	return r.mark(ctx, rec.ID, `
		UPDATE recommendations SET
			is_shown = TRUE,
			shown_at = COALESCE(shown_at, $2)
		WHERE id = $1
	`, rec.ShownAt)
}

// MarkAccepted implements recommendation.Repository.
func (r *RecommendationRepository) MarkAccepted(ctx context.Context, rec *recommendation.Recommendation) error {
	return r.mark(ctx, rec.ID, `
		UPDATE recommendations SET
			is_shown = TRUE,
			shown_at = COALESCE(shown_at, $2),
			is_accepted = TRUE,
			accepted_at = COALESCE(accepted_at, $3)
		WHERE id = $1
	`, rec.ShownAt, rec.AcceptedAt)
}

// MarkCompleted implements recommendation.Repository.
func (r *RecommendationRepository) MarkCompleted(ctx context.Context, rec *recommendation.Recommendation) error {
	return r.mark(ctx, rec.ID, `
		UPDATE recommendations SET
			is_completed = TRUE,
			completed_at = COALESCE(completed_at, $2)
		WHERE id = $1
	`, rec.CompletedAt)
}

func (r *RecommendationRepository) mark(ctx context.Context, id, query string, args ...any) error {
	tag, err := r.conn.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update recommendation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrRecommendationNotFound
	}
	return nil
}

// FindActiveForUser implements recommendation.Repository.
func (r *RecommendationRepository) FindActiveForUser(ctx context.Context, userID shared.UserID, now time.Time) ([]*recommendation.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + `
		FROM recommendations
		WHERE user_id = $1 AND NOT is_completed AND expires_at > $2
		ORDER BY priority DESC, created_at DESC, id`

	return r.list(ctx, query, userID.String(), now)
}

// FindActiveByTargetLesson implements recommendation.Repository.
func (r *RecommendationRepository) FindActiveByTargetLesson(ctx context.Context, userID shared.UserID, lessonID shared.LessonID, now time.Time) ([]*recommendation.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + `
		FROM recommendations
		WHERE user_id = $1 AND target_lesson_id = $2 AND NOT is_completed AND expires_at > $3`

	return r.list(ctx, query, userID.String(), lessonID.String(), now)
}

// CountExpired implements recommendation.Repository.
func (r *RecommendationRepository) CountExpired(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM recommendations WHERE NOT is_completed AND expires_at < $1`,
		now,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count expired recommendations: %w", err)
	}
	return n, nil
}

func (r *RecommendationRepository) list(ctx context.Context, query string, args ...any) ([]*recommendation.Recommendation, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecommendation)
	if err != nil {
		return nil, fmt.Errorf("failed to scan recommendations: %w", err)
	}
	return recs, nil
}

func scanRecommendation(row pgx.CollectableRow) (*recommendation.Recommendation, error) {
	var rec recommendation.Recommendation
	var userID, typ, skill, lesson, qtype string
	var sourceAt *time.Time
	err := row.Scan(
		&rec.ID,
		&userID,
		&typ,
		&rec.Title,
		&rec.Description,
		&rec.Reasoning,
		&skill,
		&lesson,
		&rec.TargetTopicID,
		&qtype,
		&rec.GeneratedContent,
		&rec.Priority,
		&rec.IsShown,
		&rec.IsAccepted,
		&rec.IsCompleted,
		&rec.IsApproved,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.ShownAt,
		&rec.AcceptedAt,
		&rec.CompletedAt,
		&rec.SourceSubmissionID,
		&sourceAt,
	)
	if err != nil {
		return nil, err
	}
	if sourceAt != nil {
		rec.SourceCompletedAt = *sourceAt
	}
	rec.UserID = shared.UserID(userID)
	rec.Type = recommendation.Type(typ)
	rec.TargetSkill = shared.ModuleType(skill)
	rec.TargetLessonID = shared.LessonID(lesson)
	rec.TargetQuestionType = shared.QuestionType(qtype)
	return &rec, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
