package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lingvohub/lingvo-engine/internal/domain/level"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AccountRepository implements level.AccountRepository for PostgreSQL.
type AccountRepository struct {
	conn *Connection
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(conn *Connection) *AccountRepository {
	return &AccountRepository{conn: conn}
}

// GetOrCreate inserts an A1 account on first access and returns the stored row.
func (r *AccountRepository) GetOrCreate(ctx context.Context, userID shared.UserID) (*level.Account, error) {
	query := `
		INSERT INTO accounts (user_id, total_points, level, version, updated_at)
		VALUES ($1, 0, $2, 0, $3)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING user_id, total_points, level, version, updated_at
	`

	var (
		acc   level.Account
		uid   string
		lvl   int16
		stamp time.Time
	)
	err := r.conn.QueryRow(ctx, query, userID.String(), int16(shared.LevelA1), time.Now().UTC()).
		Scan(&uid, &acc.TotalPoints, &lvl, &acc.Version, &stamp)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create account: %w", err)
	}

	acc.UserID = shared.UserID(uid)
	acc.Level = shared.Level(lvl)
	acc.UpdatedAt = stamp.UTC()
	return &acc, nil
}

// CompareAndSwap writes the account only if the stored version still equals
// expectedVersion.
func (r *AccountRepository) CompareAndSwap(ctx context.Context, account *level.Account, expectedVersion int64) error {
	query := `
		UPDATE accounts SET
			total_points = $1,
			level = $2,
			version = version + 1,
			updated_at = $3
		WHERE user_id = $4 AND version = $5
	`

	now := time.Now().UTC()
	tag, err := r.conn.Exec(ctx, query,
		account.TotalPoints,
		int16(account.Level),
		now,
		account.UserID.String(),
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE user_id = $1)`, account.UserID.String()).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check account: %w", err)
		}
		if !exists {
			return shared.ErrAccountNotFound
		}
		return shared.ErrVersionConflict
	}

	account.Version = expectedVersion + 1
	account.UpdatedAt = now
	return nil
}
