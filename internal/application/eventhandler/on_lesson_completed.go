// Package eventhandler содержит обработчики доменных событий.
// Обработчики вызываются шиной асинхронно, вне запроса пользователя;
// их ошибки повторяются диспетчером и никогда не возвращаются отправителю.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lingvohub/lingvo-engine/internal/domain/progress"
	"github.com/lingvohub/lingvo-engine/internal/domain/recommendation"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
	"github.com/lingvohub/lingvo-engine/pkg/logger"
)

// Имена обработчиков для регистрации в диспетчере.
const (
	StatsAggregatorName       = "stats_aggregator"
	RecommendationManagerName = "recommendation_manager"
	LevelAuditName            = "level_audit"
)

// errUnexpectedEvent - событие не того типа; повтор не поможет.
var errUnexpectedEvent = errors.New("unexpected event type")

// lessonCompleted извлекает LessonCompletedEvent из события шины.
func lessonCompleted(event shared.Event) (shared.LessonCompletedEvent, error) {
	switch e := event.(type) {
	case shared.LessonCompletedEvent:
		return e, nil
	case *shared.LessonCompletedEvent:
		if e != nil {
			return *e, nil
		}
	}
	return shared.LessonCompletedEvent{}, fmt.Errorf("%w: %s", errUnexpectedEvent, event.EventType())
}

// ═══════════════════════════════════════════════════════════════════════════
// STATS AGGREGATOR
// Применяет событие завершения урока к статистике пользователя:
// навык модуля, точность по типам вопросов, прогресс темы.
//
// Все изменения одного события сохраняются вместе. Повторная доставка
// того же события распознаётся по SubmissionID и ничего не меняет.
// ═══════════════════════════════════════════════════════════════════════════

// StatsAggregator обрабатывает LessonCompletedEvent для статистики.
type StatsAggregator struct {
	store  progress.Store
	logger *slog.Logger
}

// NewStatsAggregator создаёт агрегатор статистики.
func NewStatsAggregator(store progress.Store, log *slog.Logger) *StatsAggregator {
	return &StatsAggregator{
		store:  store,
		logger: logger.OrDefault(log).With(logger.Component(StatsAggregatorName)),
	}
}

// Handle реализует shared.EventHandler.
func (h *StatsAggregator) Handle(ctx context.Context, event shared.Event) error {
	e, err := lessonCompleted(event)
	if err != nil {
		h.logger.WarnContext(ctx, "skipping event", logger.Err(err))
		return nil
	}

	start := time.Now()
	err = h.store.Apply(ctx, e.SubmissionID, progress.KeyFor(e), func(snap *progress.Snapshot) error {
		snap.ApplyCompletion(e)
		return nil
	})
	switch {
	case errors.Is(err, shared.ErrSubmissionAlreadyApplied):
		// Повторная доставка: статистика уже учитывает отправку.
		h.logger.DebugContext(ctx, "submission already applied",
			logger.SubmissionID(e.SubmissionID), logger.UserID(e.UserID.String()))
		return nil
	case err != nil:
		return fmt.Errorf("apply submission %s: %w", e.SubmissionID, err)
	}

	h.logger.DebugContext(ctx, "stats updated",
		logger.SubmissionID(e.SubmissionID),
		logger.UserID(e.UserID.String()),
		slog.Int("answers", len(e.Outcomes)),
		logger.Latency(time.Since(start)),
	)
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// RECOMMENDATION LISTENER
// Закрывает рекомендации, ведущие на пройденный урок, и создаёт новые
// по статистике после события. Работает независимо от агрегатора:
// сбой одного не задерживает другого.
// ═══════════════════════════════════════════════════════════════════════════

// RecommendationListener обрабатывает LessonCompletedEvent для рекомендаций.
type RecommendationListener struct {
	manager *recommendation.Manager
	logger  *slog.Logger
}

// NewRecommendationListener создаёт обработчик.
func NewRecommendationListener(manager *recommendation.Manager, log *slog.Logger) *RecommendationListener {
	return &RecommendationListener{
		manager: manager,
		logger:  logger.OrDefault(log).With(logger.Component(RecommendationManagerName)),
	}
}

// Handle реализует shared.EventHandler.
func (h *RecommendationListener) Handle(ctx context.Context, event shared.Event) error {
	e, err := lessonCompleted(event)
	if err != nil {
		h.logger.WarnContext(ctx, "skipping event", logger.Err(err))
		return nil
	}

	out, err := h.manager.OnLessonCompleted(ctx, e)
	if err != nil {
		return fmt.Errorf("recommendations for submission %s: %w", e.SubmissionID, err)
	}

	if out.Completed > 0 || len(out.Created) > 0 {
		h.logger.InfoContext(ctx, "recommendations updated",
			logger.UserID(e.UserID.String()),
			logger.SubmissionID(e.SubmissionID),
			slog.Int("completed", out.Completed),
			slog.Int("created", len(out.Created)),
			slog.Int("skipped", out.Skipped),
		)
	}
	return nil
}
