package query

import (
	"context"
	"fmt"
	"time"

	"github.com/lingvohub/lingvo-engine/internal/domain/recommendation"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST RECOMMENDATIONS QUERY
// Активные рекомендации пользователя: сначала с большим приоритетом,
// при равном приоритете - более новые. Истёкшие и выполненные не попадают
// в выдачу, даже если фоновая задача ещё их не посчитала.
// ══════════════════════════════════════════════════════════════════════════════

// ListRecommendationsQuery содержит параметры запроса.
type ListRecommendationsQuery struct {
	UserID shared.UserID

	// Limit - максимум элементов (0 = все).
	Limit int
}

// Validate проверяет корректность параметров.
func (q ListRecommendationsQuery) Validate() error {
	if !q.UserID.IsValid() {
		return fmt.Errorf("%w: user_id must be a UUID", shared.ErrInvalidID)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: limit", shared.ErrNegativeValue)
	}
	return nil
}

// ListRecommendationsResult - результат запроса.
type ListRecommendationsResult struct {
	Recommendations []*recommendation.Recommendation `json:"recommendations"`
	Total           int                              `json:"total"`
	GeneratedAt     time.Time                        `json:"generated_at"`
}

// ListRecommendationsHandler обрабатывает запрос активных рекомендаций.
type ListRecommendationsHandler struct {
	manager *recommendation.Manager
	now     func() time.Time
}

// NewListRecommendationsHandler создаёт обработчик. now по умолчанию time.Now.
func NewListRecommendationsHandler(manager *recommendation.Manager, now func() time.Time) *ListRecommendationsHandler {
	if now == nil {
		now = time.Now
	}
	return &ListRecommendationsHandler{manager: manager, now: now}
}

// Handle выполняет запрос.
func (h *ListRecommendationsHandler) Handle(ctx context.Context, q ListRecommendationsQuery) (*ListRecommendationsResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("list_recommendations: validation failed: %w", err)
	}

	now := h.now()
	recs, err := h.manager.ListActive(ctx, q.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("list_recommendations: %w", err)
	}

	total := len(recs)
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}
	return &ListRecommendationsResult{
		Recommendations: nonNil(recs),
		Total:           total,
		GeneratedAt:     now,
	}, nil
}
