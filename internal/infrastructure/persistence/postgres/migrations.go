package postgres

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_accounts",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_progress_stats",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_recommendations",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
		{
			Version: 4,
			Name:    "create_lessons",
			UpSQL:   migration004Up,
			DownSQL: migration004Down,
		},
		{
			Version: 5,
			Name:    "add_recommendation_source",
			UpSQL:   migration005Up,
			DownSQL: migration005Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE ACCOUNTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Learner points and CEFR level. version backs compare-and-swap updates.
CREATE TABLE IF NOT EXISTS accounts (
    user_id TEXT PRIMARY KEY,
    total_points INTEGER NOT NULL DEFAULT 0,
    level SMALLINT NOT NULL DEFAULT 1,
    version BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_points CHECK (total_points >= 0),
    CONSTRAINT valid_level CHECK (level BETWEEN 1 AND 6)
);
`

const migration001Down = `
DROP TABLE IF EXISTS accounts;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE PROGRESS STATS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS skill_stats (
    user_id TEXT NOT NULL,
    module VARCHAR(20) NOT NULL,
    accuracy DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_attempts INTEGER NOT NULL DEFAULT 0,
    correct_answers INTEGER NOT NULL DEFAULT 0,
    streak INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, module),
    CONSTRAINT valid_module CHECK (module IN ('grammar', 'reading', 'listening')),
    CONSTRAINT valid_accuracy CHECK (accuracy >= 0 AND accuracy <= 1),
    CONSTRAINT valid_correct CHECK (correct_answers <= total_attempts)
);

CREATE TABLE IF NOT EXISTS question_type_stats (
    user_id TEXT NOT NULL,
    question_type VARCHAR(40) NOT NULL,
    accuracy DOUBLE PRECISION NOT NULL DEFAULT 0,
    correct_count INTEGER NOT NULL DEFAULT 0,
    wrong_count INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, question_type)
);

CREATE TABLE IF NOT EXISTS topic_progress (
    user_id TEXT NOT NULL,
    topic_id VARCHAR(100) NOT NULL,
    completion_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_lessons INTEGER NOT NULL DEFAULT 0,
    completed_lessons INTEGER NOT NULL DEFAULT 0,
    average_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_active_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, topic_id),
    CONSTRAINT valid_completed CHECK (completed_lessons <= total_lessons)
);

-- Lessons already counted towards a topic; a lesson is counted once.
CREATE TABLE IF NOT EXISTS topic_lesson_passes (
    user_id TEXT NOT NULL,
    topic_id VARCHAR(100) NOT NULL,
    lesson_id VARCHAR(100) NOT NULL,
    passed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, topic_id, lesson_id)
);

-- Submissions already folded into statistics.
CREATE TABLE IF NOT EXISTS processed_submissions (
    submission_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    processed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_processed_submissions_user ON processed_submissions(user_id, processed_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS processed_submissions;
DROP TABLE IF EXISTS topic_lesson_passes;
DROP TABLE IF EXISTS topic_progress;
DROP TABLE IF EXISTS question_type_stats;
DROP TABLE IF EXISTS skill_stats;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE RECOMMENDATIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS recommendations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    type VARCHAR(40) NOT NULL,
    title VARCHAR(200) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    reasoning TEXT NOT NULL DEFAULT '',
    target_skill VARCHAR(20) NOT NULL DEFAULT '',
    target_lesson_id VARCHAR(100) NOT NULL DEFAULT '',
    target_topic_id VARCHAR(100) NOT NULL DEFAULT '',
    target_question_type VARCHAR(40) NOT NULL DEFAULT '',
    generated_content TEXT NOT NULL DEFAULT '',
    priority INTEGER NOT NULL DEFAULT 0,
    is_shown BOOLEAN NOT NULL DEFAULT FALSE,
    is_accepted BOOLEAN,
    is_completed BOOLEAN NOT NULL DEFAULT FALSE,
    is_approved BOOLEAN,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
    shown_at TIMESTAMP WITH TIME ZONE,
    accepted_at TIMESTAMP WITH TIME ZONE,
    completed_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_type CHECK (type IN (
        'practice_skill', 'review_topic', 'practice_question_type', 'retry_lesson', 'next_lesson'
    )),
    CONSTRAINT valid_expiry CHECK (expires_at > created_at)
);

CREATE INDEX IF NOT EXISTS idx_recommendations_active
    ON recommendations(user_id, expires_at) WHERE NOT is_completed;
CREATE INDEX IF NOT EXISTS idx_recommendations_target_lesson
    ON recommendations(user_id, target_lesson_id) WHERE NOT is_completed AND target_lesson_id <> '';
CREATE INDEX IF NOT EXISTS idx_recommendations_stale
    ON recommendations(expires_at) WHERE NOT is_completed;
`

const migration003Down = `
DROP TABLE IF EXISTS recommendations;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: CREATE LESSONS
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
-- Read-only lesson catalog. Questions are stored as the JSON document
-- the grader reads.
CREATE TABLE IF NOT EXISTS lessons (
    id VARCHAR(100) PRIMARY KEY,
    topic_id VARCHAR(100) NOT NULL DEFAULT '',
    module_type VARCHAR(20) NOT NULL,
    title VARCHAR(200) NOT NULL DEFAULT '',
    passing_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    next_lesson_id VARCHAR(100) NOT NULL DEFAULT '',
    topic_lesson_count INTEGER NOT NULL DEFAULT 0,
    questions JSONB NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_lesson_module CHECK (module_type IN ('grammar', 'reading', 'listening'))
);

CREATE INDEX IF NOT EXISTS idx_lessons_topic ON lessons(topic_id);
`

const migration004Down = `
DROP TABLE IF EXISTS lessons;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 005: ADD RECOMMENDATION SOURCE
// ══════════════════════════════════════════════════════════════════════════════

const migration005Up = `
-- The submission whose completion event generated the recommendation.
ALTER TABLE recommendations
    ADD COLUMN IF NOT EXISTS source_submission_id TEXT NOT NULL DEFAULT '',
    ADD COLUMN IF NOT EXISTS source_completed_at TIMESTAMP WITH TIME ZONE;
`

const migration005Down = `
ALTER TABLE recommendations
    DROP COLUMN IF EXISTS source_completed_at,
    DROP COLUMN IF EXISTS source_submission_id;
`
