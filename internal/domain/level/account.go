// Package level отвечает за очки пользователя и уровень владения языком (CEFR).
// Запись аккаунта обновляется оптимистично: каждое изменение проверяет версию.
package level

import (
	"context"
	"time"

	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT
// ══════════════════════════════════════════════════════════════════════════════

// Account - накопленные очки и уровень пользователя.
type Account struct {
	// UserID - идентификатор пользователя.
	UserID shared.UserID `json:"user_id"`

	// TotalPoints - сумма очков за все отправки.
	TotalPoints int `json:"total_points"`

	// Level - текущий уровень; никогда не понижается.
	Level shared.Level `json:"level"`

	// Version - версия записи для compare-and-swap.
	Version int64 `json:"version"`

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAccount создаёт аккаунт нового пользователя на уровне A1.
func NewAccount(userID shared.UserID, now time.Time) *Account {
	return &Account{
		UserID:    userID,
		Level:     shared.LevelA1,
		UpdatedAt: now,
	}
}

// Clone возвращает копию аккаунта.
func (a *Account) Clone() *Account {
	c := *a
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// AccountRepository - хранилище аккаунтов.
type AccountRepository interface {
	// GetOrCreate возвращает аккаунт, создавая запись A1/0 при первом обращении.
	GetOrCreate(ctx context.Context, userID shared.UserID) (*Account, error)

	// CompareAndSwap сохраняет аккаунт, если версия в хранилище равна
	// expectedVersion, и увеличивает версию. Иначе возвращает
	// shared.ErrVersionConflict.
	CompareAndSwap(ctx context.Context, account *Account, expectedVersion int64) error
}
