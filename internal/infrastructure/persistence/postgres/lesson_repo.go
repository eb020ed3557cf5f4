package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lingvohub/lingvo-engine/internal/domain/grading"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON CATALOG IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LessonCatalog implements grading.Catalog for PostgreSQL.
type LessonCatalog struct {
	conn *Connection
}

// NewLessonCatalog creates a new LessonCatalog.
func NewLessonCatalog(conn *Connection) *LessonCatalog {
	return &LessonCatalog{conn: conn}
}

// GetLesson implements grading.Catalog.
func (c *LessonCatalog) GetLesson(ctx context.Context, id shared.LessonID) (*grading.Lesson, error) {
	query := `
		SELECT id, topic_id, module_type, title, passing_score, next_lesson_id, topic_lesson_count, questions
		FROM lessons
		WHERE id = $1
	`

	var l grading.Lesson
	var lid, module, nextID string
	var questions []byte
	err := c.conn.QueryRow(ctx, query, id.String()).Scan(
		&lid, &l.TopicID, &module, &l.Title, &l.PassingScore, &nextID, &l.TopicLessonCount, &questions,
	)
	if IsNoRows(err) {
		return nil, fmt.Errorf("%w: %s", shared.ErrLessonNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}

	if err := json.Unmarshal(questions, &l.Questions); err != nil {
		return nil, fmt.Errorf("failed to decode questions of lesson %s: %w", id, err)
	}
	l.ID = shared.LessonID(lid)
	l.ModuleType = shared.ModuleType(module)
	l.NextLessonID = shared.LessonID(nextID)
	return &l, nil
}

// Upsert validates and stores a lesson, replacing any previous version.
func (c *LessonCatalog) Upsert(ctx context.Context, l *grading.Lesson) error {
	if err := l.Validate(); err != nil {
		return err
	}
	questions, err := json.Marshal(l.Questions)
	if err != nil {
		return fmt.Errorf("failed to encode questions: %w", err)
	}

	query := `
		INSERT INTO lessons (id, topic_id, module_type, title, passing_score, next_lesson_id, topic_lesson_count, questions, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			topic_id = EXCLUDED.topic_id,
			module_type = EXCLUDED.module_type,
			title = EXCLUDED.title,
			passing_score = EXCLUDED.passing_score,
			next_lesson_id = EXCLUDED.next_lesson_id,
			topic_lesson_count = EXCLUDED.topic_lesson_count,
			questions = EXCLUDED.questions,
			updated_at = EXCLUDED.updated_at
	`
	_, err = c.conn.Exec(ctx, query,
		l.ID.String(),
		l.TopicID,
		l.ModuleType.String(),
		l.Title,
		l.PassingScore,
		l.NextLessonID.String(),
		l.TopicLessonCount,
		questions,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert lesson %s: %w", l.ID, err)
	}
	return nil
}
