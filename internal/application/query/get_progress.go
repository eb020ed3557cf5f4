// Package query содержит операции чтения (CQRS - Queries).
package query

import (
	"context"
	"fmt"

	"github.com/lingvohub/lingvo-engine/internal/domain/level"
	"github.com/lingvohub/lingvo-engine/internal/domain/progress"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Сводка прогресса пользователя: очки и уровень, статистика по навыкам,
// типам вопросов и темам. Статистика обновляется асинхронно, поэтому
// последняя отправка может появиться в ней с небольшой задержкой.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery содержит параметры запроса сводки.
type GetProgressQuery struct {
	// UserID - пользователь, чью сводку запрашивают.
	UserID shared.UserID
}

// Validate проверяет корректность параметров.
func (q GetProgressQuery) Validate() error {
	if !q.UserID.IsValid() {
		return fmt.Errorf("%w: user_id must be a UUID", shared.ErrInvalidID)
	}
	return nil
}

// ProgressDTO - сводка прогресса.
type ProgressDTO struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Уровень
	// ─────────────────────────────────────────────────────────────────────────

	UserID      shared.UserID `json:"user_id"`
	TotalPoints int           `json:"total_points"`
	Level       string        `json:"level"`

	// NextLevel - следующий уровень; пусто на C2.
	NextLevel string `json:"next_level,omitempty"`

	// PointsToNextLevel - сколько очков осталось до полного порога
	// следующего уровня (без учёта скидки за владение модулем).
	PointsToNextLevel int `json:"points_to_next_level,omitempty"`

	// ─────────────────────────────────────────────────────────────────────────
	// Статистика
	// ─────────────────────────────────────────────────────────────────────────

	Skills        []progress.SkillStats         `json:"skills"`
	QuestionTypes []progress.QuestionTypeStats  `json:"question_types"`
	Topics        []progress.TopicProgressStats `json:"topics"`
}

// AccountReader - чтение аккаунта пользователя.
type AccountReader interface {
	GetOrCreate(ctx context.Context, userID shared.UserID) (*level.Account, error)
}

// OverviewReader - чтение всей статистики пользователя.
type OverviewReader interface {
	GetOverview(ctx context.Context, userID shared.UserID) (*progress.Overview, error)
}

// GetProgressHandler обрабатывает запрос сводки прогресса.
type GetProgressHandler struct {
	accounts AccountReader
	stats    OverviewReader
	rules    level.Rules
}

// NewGetProgressHandler создаёт обработчик.
func NewGetProgressHandler(accounts AccountReader, stats OverviewReader, rules level.Rules) *GetProgressHandler {
	return &GetProgressHandler{
		accounts: accounts,
		stats:    stats,
		rules:    rules,
	}
}

// Handle выполняет запрос.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*ProgressDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_progress: validation failed: %w", err)
	}

	account, err := h.accounts.GetOrCreate(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_progress: failed to get account: %w", err)
	}
	overview, err := h.stats.GetOverview(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_progress: failed to get stats: %w", err)
	}

	dto := &ProgressDTO{
		UserID:        q.UserID,
		TotalPoints:   account.TotalPoints,
		Level:         account.Level.String(),
		Skills:        nonNil(overview.Skills),
		QuestionTypes: nonNil(overview.QuestionTypes),
		Topics:        nonNil(overview.Topics),
	}
	if !account.Level.IsMax() {
		next := account.Level.Next()
		dto.NextLevel = next.String()
		if threshold, ok := h.rules.Thresholds[next]; ok && threshold > account.TotalPoints {
			dto.PointsToNextLevel = threshold - account.TotalPoints
		}
	}
	return dto, nil
}

// nonNil превращает nil в пустой срез, чтобы в JSON был [] вместо null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
