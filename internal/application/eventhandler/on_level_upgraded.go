package eventhandler

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
	"github.com/lingvohub/lingvo-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// LEVEL AUDIT
// Записывает каждое повышение уровня в журнал и считает повышения
// по уровням для /metrics.
// ═══════════════════════════════════════════════════════════════════════════

// LevelAudit обрабатывает LevelUpgradedEvent.
type LevelAudit struct {
	logger *slog.Logger
	counts [7]atomic.Int64
}

// NewLevelAudit создаёт обработчик.
func NewLevelAudit(log *slog.Logger) *LevelAudit {
	return &LevelAudit{
		logger: logger.OrDefault(log).With(logger.Component(LevelAuditName)),
	}
}

// Handle реализует shared.EventHandler.
func (h *LevelAudit) Handle(ctx context.Context, event shared.Event) error {
	var e shared.LevelUpgradedEvent
	switch v := event.(type) {
	case shared.LevelUpgradedEvent:
		e = v
	case *shared.LevelUpgradedEvent:
		if v == nil {
			return nil
		}
		e = *v
	default:
		h.logger.WarnContext(ctx, "skipping event", logger.EventType(string(event.EventType())))
		return nil
	}

	if e.NewLevel.IsValid() {
		h.counts[e.NewLevel].Add(1)
	}
	h.logger.InfoContext(ctx, "level upgraded",
		logger.UserID(e.UserID.String()),
		logger.SubmissionID(e.SubmissionID),
		slog.String("from", e.PreviousLevel.String()),
		slog.String("to", e.NewLevel.String()),
		slog.Int("total_points", e.TotalPoints),
	)
	return nil
}

// Snapshot возвращает число повышений по целевому уровню.
func (h *LevelAudit) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(shared.AllLevels()))
	for _, l := range shared.AllLevels()[1:] {
		out[l.String()] = h.counts[l].Load()
	}
	return out
}
