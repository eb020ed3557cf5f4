// Package command содержит операции записи (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lingvohub/lingvo-engine/internal/domain/grading"
	"github.com/lingvohub/lingvo-engine/internal/domain/level"
	"github.com/lingvohub/lingvo-engine/internal/domain/progress"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
	"github.com/lingvohub/lingvo-engine/pkg/logger"
	"github.com/lingvohub/lingvo-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT LESSON COMMAND
// Оценивает отправку урока, начисляет баллы на счёт ученика и решает
// вопрос о повышении уровня. Статистику и рекомендации асинхронно обновляют
// подписчики LessonCompletedEvent.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitLessonCommand содержит одну отправку ученика.
type SubmitLessonCommand struct {
	// UserID - ученик, отправивший ответы.
	UserID shared.UserID

	// LessonID - урок, на который даются ответы.
	LessonID shared.LessonID

	// Answers - по одному ответу на каждый вопрос урока.
	Answers []grading.SubmittedAnswer

	// CorrelationID для трассировки.
	CorrelationID string
}

// Validate проверяет команду.
func (c SubmitLessonCommand) Validate() error {
	if !c.UserID.IsValid() {
		return fmt.Errorf("%w: user_id must be a UUID", shared.ErrInvalidID)
	}
	if !c.LessonID.IsValid() {
		return fmt.Errorf("%w: lesson_id", shared.ErrInvalidID)
	}
	if len(c.Answers) == 0 {
		return shared.ErrEmptySubmission
	}
	return nil
}

// SubmitLessonResult возвращается ученику.
type SubmitLessonResult struct {
	// Submission - результат оценки.
	Submission *grading.SubmissionResult `json:"submission"`

	// Level - баллы и решение по уровню.
	Level level.UpgradeResult `json:"level"`

	// SubmittedAt - время приёма отправки.
	SubmittedAt time.Time `json:"submitted_at"`
}

// SubmissionGuard отклоняет такую же отправку, пока первая ещё обрабатывается.
type SubmissionGuard interface {
	// Acquire возвращает shared.ErrDuplicateSubmitted для дубликата.
	// Функция release снимает захват и никогда не равна nil.
	Acquire(ctx context.Context, userID shared.UserID, lessonID shared.LessonID, answers []grading.SubmittedAnswer) (release func(), err error)
}

// SkillReader читает статистику ученика по модулю.
type SkillReader interface {
	GetSkillStats(ctx context.Context, userID shared.UserID, module shared.ModuleType) (*progress.SkillStats, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SubmitLessonHandler обрабатывает SubmitLessonCommand.
type SubmitLessonHandler struct {
	catalog        grading.Catalog
	grader         *grading.Grader
	evaluator      *level.Evaluator
	accounts       level.AccountRepository
	skills         SkillReader
	eventPublisher shared.EventPublisher
	guard          SubmissionGuard
	log            *slog.Logger

	casMaxAttempts int
	newID          func() string
	now            func() time.Time
}

// SubmitLessonHandlerConfig - настройки обработчика.
type SubmitLessonHandlerConfig struct {
	// CASMaxAttempts ограничивает число попыток compare-and-swap по счёту.
	CASMaxAttempts int

	// Guard необязателен. nil отключает поиск дубликатов.
	Guard SubmissionGuard

	Logger *slog.Logger
	NewID  func() string
	Now    func() time.Time
}

// DefaultSubmitLessonHandlerConfig возвращает настройки по умолчанию.
func DefaultSubmitLessonHandlerConfig() SubmitLessonHandlerConfig {
	return SubmitLessonHandlerConfig{
		CASMaxAttempts: 5,
		NewID:          uuid.NewString,
		Now:            func() time.Time { return time.Now().UTC() },
	}
}

// NewSubmitLessonHandler создаёт SubmitLessonHandler.
func NewSubmitLessonHandler(
	catalog grading.Catalog,
	grader *grading.Grader,
	evaluator *level.Evaluator,
	accounts level.AccountRepository,
	skills SkillReader,
	eventPublisher shared.EventPublisher,
	config SubmitLessonHandlerConfig,
) *SubmitLessonHandler {
	defaults := DefaultSubmitLessonHandlerConfig()
	if config.CASMaxAttempts <= 0 {
		config.CASMaxAttempts = defaults.CASMaxAttempts
	}
	if config.NewID == nil {
		config.NewID = defaults.NewID
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}

	return &SubmitLessonHandler{
		catalog:        catalog,
		grader:         grader,
		evaluator:      evaluator,
		accounts:       accounts,
		skills:         skills,
		eventPublisher: eventPublisher,
		guard:          config.Guard,
		log:            logger.OrDefault(config.Logger).With(logger.Component("submit_lesson")),
		casMaxAttempts: config.CASMaxAttempts,
		newID:          config.NewID,
		now:            config.Now,
	}
}

// Handle выполняет команду отправки урока.
func (h *SubmitLessonHandler) Handle(ctx context.Context, cmd SubmitLessonCommand) (_ *SubmitLessonResult, err error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("submit_lesson: validation failed: %w", err)
	}

	release := func() {}
	if h.guard != nil {
		var guardErr error
		release, guardErr = h.guard.Acquire(ctx, cmd.UserID, cmd.LessonID, cmd.Answers)
		if guardErr != nil {
			return nil, fmt.Errorf("submit_lesson: %w", guardErr)
		}
	}
	// Отклонённую отправку можно сразу исправить и отправить снова.
	defer func() {
		if err != nil {
			release()
		}
	}()

	lesson, err := h.catalog.GetLesson(ctx, cmd.LessonID)
	if err != nil {
		return nil, fmt.Errorf("submit_lesson: failed to get lesson: %w", err)
	}

	graded, err := h.grader.GradeSubmission(lesson, cmd.Answers)
	if err != nil {
		return nil, fmt.Errorf("submit_lesson: %w", err)
	}
	graded.SubmissionID = h.newID()
	submittedAt := h.now()

	// Владение оценивается по статистике до этой отправки.
	skill, err := h.skills.GetSkillStats(ctx, cmd.UserID, lesson.ModuleType)
	if err != nil {
		return nil, fmt.Errorf("submit_lesson: failed to get skill stats: %w", err)
	}
	rules := h.evaluator.Rules()
	input := level.Input{
		PointsEarned:   graded.PointsEarned(),
		IsPassed:       graded.IsPassed,
		NextLessonID:   lesson.NextLessonID,
		ModuleMastered: skill.HasMastery(rules.MasteryAccuracy, rules.MasteryMinAttempts),
	}

	upgrade, err := h.applyPoints(ctx, cmd.UserID, input)
	if err != nil {
		return nil, err
	}

	h.publish(ctx, cmd, lesson, graded, upgrade, submittedAt)

	h.log.InfoContext(ctx, "lesson submitted",
		logger.UserID(cmd.UserID.String()),
		logger.LessonID(cmd.LessonID.String()),
		logger.SubmissionID(graded.SubmissionID),
		slog.Float64("score_percentage", graded.ScorePercentage),
		slog.Bool("passed", graded.IsPassed),
		slog.Bool("upgraded", upgrade.DidUpgrade),
	)

	return &SubmitLessonResult{
		Submission:  graded,
		Level:       upgrade,
		SubmittedAt: submittedAt,
	}, nil
}

// applyPoints выполняет цикл чтение-оценка-замена по счёту ученика.
func (h *SubmitLessonHandler) applyPoints(ctx context.Context, userID shared.UserID, input level.Input) (level.UpgradeResult, error) {
	retrier := retry.ConflictRetrier(h.casMaxAttempts).With(
		retry.WithRetryIf(shared.IsConcurrencyConflict),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			h.log.DebugContext(ctx, "account changed concurrently, retrying",
				logger.UserID(userID.String()), slog.Int("attempt", attempt))
		}),
	)

	var upgrade level.UpgradeResult
	err := retrier.Do(ctx, func(ctx context.Context) error {
		account, err := h.accounts.GetOrCreate(ctx, userID)
		if err != nil {
			return err
		}
		next, result, err := h.evaluator.Evaluate(account, input)
		if err != nil {
			return retry.Permanent(err)
		}
		next.UpdatedAt = h.now()
		if err := h.accounts.CompareAndSwap(ctx, next, account.Version); err != nil {
			return err
		}
		upgrade = result
		return nil
	})
	switch {
	case err == nil:
		return upgrade, nil
	case retry.IsExhausted(err):
		return level.UpgradeResult{}, fmt.Errorf("submit_lesson: %w", shared.ErrRetriesExhausted)
	default:
		return level.UpgradeResult{}, fmt.Errorf("submit_lesson: failed to update account: %w", err)
	}
}

// publish передаёт события в шину. Баллы к этому моменту сохранены, ошибка
// публикации только логируется и не отменяет отправку.
func (h *SubmitLessonHandler) publish(
	ctx context.Context,
	cmd SubmitLessonCommand,
	lesson *grading.Lesson,
	graded *grading.SubmissionResult,
	upgrade level.UpgradeResult,
	at time.Time,
) {
	completed := shared.NewLessonCompletedEvent(graded.SubmissionID, cmd.UserID, lesson.ID, lesson.ModuleType, at)
	completed.TopicID = lesson.TopicID
	completed.TopicLessonCount = lesson.TopicLessonCount
	completed.NextLessonID = lesson.NextLessonID
	completed.ScorePercentage = graded.ScorePercentage
	completed.IsPassed = graded.IsPassed
	completed.Outcomes = graded.Outcomes()
	if cmd.CorrelationID != "" {
		completed.BaseEvent = completed.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}

	events := []shared.Event{completed}
	if upgrade.DidUpgrade && upgrade.NewLevel != nil {
		upgraded := shared.NewLevelUpgradedEvent(cmd.UserID, graded.SubmissionID, upgrade.PreviousLevel, *upgrade.NewLevel, upgrade.TotalPoints, at)
		if cmd.CorrelationID != "" {
			upgraded.BaseEvent = upgraded.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		}
		events = append(events, upgraded)
	}

	for _, e := range events {
		if err := h.eventPublisher.Publish(ctx, e); err != nil {
			h.log.ErrorContext(ctx, "failed to publish event",
				logger.EventType(string(e.EventType())),
				logger.SubmissionID(graded.SubmissionID),
				logger.Err(err))
		}
	}
}
