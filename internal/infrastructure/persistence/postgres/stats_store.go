package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lingvohub/lingvo-engine/internal/domain/progress"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATS STORE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StatsStore implements progress.Store for PostgreSQL.
//
// Apply runs in one transaction: the submission is claimed in
// processed_submissions, a transaction-scoped advisory lock serializes
// writers of the same user, and every touched row is upserted in one batch.
type StatsStore struct {
	conn *Connection
}

// NewStatsStore creates a new StatsStore.
func NewStatsStore(conn *Connection) *StatsStore {
	return &StatsStore{conn: conn}
}

// Apply implements progress.Store.
func (s *StatsStore) Apply(ctx context.Context, submissionID string, key progress.Key, mutate progress.MutateFunc) error {
	return s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO processed_submissions (submission_id, user_id, processed_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (submission_id) DO NOTHING
		`, submissionID, key.UserID.String(), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to claim submission: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrSubmissionAlreadyApplied
		}

		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key.UserID.String()); err != nil {
			return fmt.Errorf("failed to lock user stats: %w", err)
		}

		snap, err := loadSnapshot(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := mutate(snap); err != nil {
			return err
		}
		return saveSnapshot(ctx, tx, snap)
	})
}

// Load implements progress.Store.
func (s *StatsStore) Load(ctx context.Context, submissionID string, key progress.Key) (*progress.Snapshot, bool, error) {
	var applied bool
	err := s.conn.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_submissions WHERE submission_id = $1)`,
		submissionID,
	).Scan(&applied)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check submission: %w", err)
	}

	snap, err := loadSnapshot(ctx, s.conn, key)
	if err != nil {
		return nil, false, err
	}
	return snap, applied, nil
}

// GetSkillStats implements progress.Store.
func (s *StatsStore) GetSkillStats(ctx context.Context, userID shared.UserID, module shared.ModuleType) (*progress.SkillStats, error) {
	stats, err := loadSkill(ctx, s.conn, userID, module)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		return progress.NewSkillStats(userID, module), nil
	}
	return stats, nil
}

// GetOverview implements progress.Store.
func (s *StatsStore) GetOverview(ctx context.Context, userID shared.UserID) (*progress.Overview, error) {
	ov := &progress.Overview{UserID: userID}
	uid := userID.String()

	rows, err := s.conn.Query(ctx, `
		SELECT module, accuracy, total_attempts, correct_answers, streak, updated_at
		FROM skill_stats WHERE user_id = $1 ORDER BY module
	`, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to query skill stats: %w", err)
	}
	ov.Skills, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (progress.SkillStats, error) {
		st := progress.SkillStats{UserID: userID}
		var module string
		err := row.Scan(&module, &st.Accuracy, &st.TotalAttempts, &st.CorrectAnswers, &st.Streak, &st.UpdatedAt)
		st.Module = shared.ModuleType(module)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan skill stats: %w", err)
	}

	rows, err = s.conn.Query(ctx, `
		SELECT question_type, accuracy, correct_count, wrong_count, updated_at
		FROM question_type_stats WHERE user_id = $1 ORDER BY question_type
	`, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to query question type stats: %w", err)
	}
	ov.QuestionTypes, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (progress.QuestionTypeStats, error) {
		st := progress.QuestionTypeStats{UserID: userID}
		var qt string
		err := row.Scan(&qt, &st.Accuracy, &st.CorrectCount, &st.WrongCount, &st.UpdatedAt)
		st.QuestionType = shared.QuestionType(qt)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan question type stats: %w", err)
	}

	rows, err = s.conn.Query(ctx, `
		SELECT topic_id, completion_percentage, total_lessons, completed_lessons, average_score, last_active_at
		FROM topic_progress WHERE user_id = $1 ORDER BY topic_id
	`, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to query topic progress: %w", err)
	}
	ov.Topics, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (progress.TopicProgressStats, error) {
		tp := progress.TopicProgressStats{UserID: userID}
		err := row.Scan(&tp.TopicID, &tp.CompletionPercentage, &tp.TotalLessons, &tp.CompletedLessons, &tp.AverageScore, &tp.LastActiveAt)
		return tp, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan topic progress: %w", err)
	}

	return ov, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Snapshot load/save
// ─────────────────────────────────────────────────────────────────────────────

func loadSnapshot(ctx context.Context, q Querier, key progress.Key) (*progress.Snapshot, error) {
	snap := progress.NewSnapshot(key)

	skill, err := loadSkill(ctx, q, key.UserID, key.Module)
	if err != nil {
		return nil, err
	}
	if skill != nil {
		snap.Skill = skill
	}

	if len(key.QuestionTypes) > 0 {
		types := make([]string, len(key.QuestionTypes))
		for i, qt := range key.QuestionTypes {
			types[i] = qt.String()
		}
		rows, err := q.Query(ctx, `
			SELECT question_type, accuracy, correct_count, wrong_count, updated_at
			FROM question_type_stats
			WHERE user_id = $1 AND question_type = ANY($2)
		`, key.UserID.String(), types)
		if err != nil {
			return nil, fmt.Errorf("failed to query question type stats: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			st := progress.QuestionTypeStats{UserID: key.UserID}
			var qt string
			if err := rows.Scan(&qt, &st.Accuracy, &st.CorrectCount, &st.WrongCount, &st.UpdatedAt); err != nil {
				return nil, fmt.Errorf("failed to scan question type stats: %w", err)
			}
			st.QuestionType = shared.QuestionType(qt)
			snap.QuestionTypes[st.QuestionType] = &st
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		rows.Close()
	}

	if key.TopicID != "" {
		topic, err := loadTopic(ctx, q, key.UserID, key.TopicID)
		if err != nil {
			return nil, err
		}
		if topic != nil {
			snap.Topic = topic
		}
	}

	return snap, nil
}

func loadSkill(ctx context.Context, q Querier, userID shared.UserID, module shared.ModuleType) (*progress.SkillStats, error) {
	st := progress.NewSkillStats(userID, module)
	err := q.QueryRow(ctx, `
		SELECT accuracy, total_attempts, correct_answers, streak, updated_at
		FROM skill_stats WHERE user_id = $1 AND module = $2
	`, userID.String(), module.String()).Scan(&st.Accuracy, &st.TotalAttempts, &st.CorrectAnswers, &st.Streak, &st.UpdatedAt)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load skill stats: %w", err)
	}
	return st, nil
}

func loadTopic(ctx context.Context, q Querier, userID shared.UserID, topicID string) (*progress.TopicProgressStats, error) {
	tp := progress.NewTopicProgressStats(userID, topicID, 0)
	err := q.QueryRow(ctx, `
		SELECT completion_percentage, total_lessons, completed_lessons, average_score, last_active_at
		FROM topic_progress WHERE user_id = $1 AND topic_id = $2
	`, userID.String(), topicID).Scan(&tp.CompletionPercentage, &tp.TotalLessons, &tp.CompletedLessons, &tp.AverageScore, &tp.LastActiveAt)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load topic progress: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT lesson_id FROM topic_lesson_passes WHERE user_id = $1 AND topic_id = $2
	`, userID.String(), topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to query topic passes: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan topic passes: %w", err)
	}
	for _, id := range ids {
		tp.PassedLessons[shared.LessonID(id)] = struct{}{}
	}
	return tp, nil
}

func saveSnapshot(ctx context.Context, tx pgx.Tx, snap *progress.Snapshot) error {
	uid := snap.UserID.String()
	batch := &pgx.Batch{}

	if sk := snap.Skill; sk != nil {
		batch.Queue(`
			INSERT INTO skill_stats (user_id, module, accuracy, total_attempts, correct_answers, streak, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id, module) DO UPDATE SET
				accuracy = EXCLUDED.accuracy,
				total_attempts = EXCLUDED.total_attempts,
				correct_answers = EXCLUDED.correct_answers,
				streak = EXCLUDED.streak,
				updated_at = EXCLUDED.updated_at
		`, uid, sk.Module.String(), sk.Accuracy, sk.TotalAttempts, sk.CorrectAnswers, sk.Streak, sk.UpdatedAt)
	}

	for qt, st := range snap.QuestionTypes {
		if st.Total() == 0 {
			continue
		}
		batch.Queue(`
			INSERT INTO question_type_stats (user_id, question_type, accuracy, correct_count, wrong_count, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id, question_type) DO UPDATE SET
				accuracy = EXCLUDED.accuracy,
				correct_count = EXCLUDED.correct_count,
				wrong_count = EXCLUDED.wrong_count,
				updated_at = EXCLUDED.updated_at
		`, uid, qt.String(), st.Accuracy, st.CorrectCount, st.WrongCount, st.UpdatedAt)
	}

	if tp := snap.Topic; tp != nil {
		batch.Queue(`
			INSERT INTO topic_progress (user_id, topic_id, completion_percentage, total_lessons, completed_lessons, average_score, last_active_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id, topic_id) DO UPDATE SET
				completion_percentage = EXCLUDED.completion_percentage,
				total_lessons = EXCLUDED.total_lessons,
				completed_lessons = EXCLUDED.completed_lessons,
				average_score = EXCLUDED.average_score,
				last_active_at = EXCLUDED.last_active_at
		`, uid, tp.TopicID, tp.CompletionPercentage, tp.TotalLessons, tp.CompletedLessons, tp.AverageScore, tp.LastActiveAt)

		for lessonID := range tp.PassedLessons {
			batch.Queue(`
				INSERT INTO topic_lesson_passes (user_id, topic_id, lesson_id, passed_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT DO NOTHING
			`, uid, tp.TopicID, lessonID.String(), tp.LastActiveAt)
		}
	}

	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save stats: %w", err)
	}
	return nil
}
