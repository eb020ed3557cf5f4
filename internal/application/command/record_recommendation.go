package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lingvohub/lingvo-engine/internal/domain/recommendation"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
	"github.com/lingvohub/lingvo-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD RECOMMENDATION COMMAND
// Переводит рекомендацию по однонаправленному жизненному циклу:
// shown -> accepted -> completed. Повтор перехода ничего не меняет.
// ══════════════════════════════════════════════════════════════════════════════

// Transition - шаг жизненного цикла рекомендации.
type Transition string

const (
	// TransitionShown - рекомендация показана ученику.
	TransitionShown Transition = "shown"

	// TransitionAccepted - ученик решил ей следовать.
	TransitionAccepted Transition = "accepted"

	// TransitionCompleted - ученик её выполнил.
	TransitionCompleted Transition = "completed"
)

// ParseTransition переводит сегмент пути в Transition.
func ParseTransition(s string) (Transition, error) {
	switch t := Transition(s); t {
	case TransitionShown, TransitionAccepted, TransitionCompleted:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown transition %q", shared.ErrInvalidInput, s)
	}
}

// RecordRecommendationCommand содержит один переход жизненного цикла.
type RecordRecommendationCommand struct {
	UserID           shared.UserID
	RecommendationID string
	Transition       Transition
}

// Validate проверяет команду.
func (c RecordRecommendationCommand) Validate() error {
	if !c.UserID.IsValid() {
		return fmt.Errorf("%w: user_id must be a UUID", shared.ErrInvalidID)
	}
	if c.RecommendationID == "" {
		return fmt.Errorf("%w: recommendation_id is required", shared.ErrInvalidID)
	}
	if _, err := ParseTransition(string(c.Transition)); err != nil {
		return err
	}
	return nil
}

// RecordRecommendationHandler обрабатывает RecordRecommendationCommand.
type RecordRecommendationHandler struct {
	manager *recommendation.Manager
	log     *slog.Logger
}

// NewRecordRecommendationHandler создаёт RecordRecommendationHandler.
func NewRecordRecommendationHandler(manager *recommendation.Manager, log *slog.Logger) *RecordRecommendationHandler {
	return &RecordRecommendationHandler{
		manager: manager,
		log:     logger.OrDefault(log).With(logger.Component("record_recommendation")),
	}
}

// Handle выполняет переход и возвращает обновлённую рекомендацию.
func (h *RecordRecommendationHandler) Handle(ctx context.Context, cmd RecordRecommendationCommand) (*recommendation.Recommendation, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_recommendation: validation failed: %w", err)
	}

	var (
		rec *recommendation.Recommendation
		err error
	)
	switch cmd.Transition {
	case TransitionShown:
		rec, err = h.manager.RecordShown(ctx, cmd.UserID, cmd.RecommendationID)
	case TransitionAccepted:
		rec, err = h.manager.RecordAccepted(ctx, cmd.UserID, cmd.RecommendationID)
	case TransitionCompleted:
		rec, err = h.manager.RecordCompleted(ctx, cmd.UserID, cmd.RecommendationID)
	}
	if err != nil {
		return nil, fmt.Errorf("record_recommendation: %s: %w", cmd.Transition, err)
	}

	h.log.DebugContext(ctx, "recommendation transition recorded",
		logger.UserID(cmd.UserID.String()),
		logger.RecommendationID(rec.ID),
		slog.String("transition", string(cmd.Transition)))
	return rec, nil
}
