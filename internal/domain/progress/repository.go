package progress

import (
	"context"

	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// MutateFunc изменяет загруженный снимок внутри транзакции.
type MutateFunc func(snap *Snapshot) error

// Store - хранилище статистики с атомарным применением событий.
type Store interface {
	// Apply загружает записи ключа под блокировкой, вызывает mutate и сохраняет
	// все записи вместе с отметкой о submissionID одной транзакцией.
	// Возвращает shared.ErrSubmissionAlreadyApplied, если отправка уже учтена.
	Apply(ctx context.Context, submissionID string, key Key, mutate MutateFunc) error

	// Load возвращает текущие записи ключа без блокировки и признак того,
	// что отправка уже учтена.
	Load(ctx context.Context, submissionID string, key Key) (snap *Snapshot, applied bool, err error)

	// GetSkillStats возвращает статистику навыка или пустую запись.
	GetSkillStats(ctx context.Context, userID shared.UserID, module shared.ModuleType) (*SkillStats, error)

	// GetOverview возвращает всю статистику пользователя.
	GetOverview(ctx context.Context, userID shared.UserID) (*Overview, error)
}
