package memory

import (
	"context"
	"sync"
	"time"

	"github.com/lingvohub/lingvo-engine/internal/domain/level"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// AccountRepository implements level.AccountRepository with version checks.
type AccountRepository struct {
	mu       sync.Mutex
	accounts map[shared.UserID]level.Account
	now      func() time.Time
}

// NewAccountRepository creates an empty account repository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		accounts: make(map[shared.UserID]level.Account),
		now:      time.Now,
	}
}

// GetOrCreate implements level.AccountRepository.
func (r *AccountRepository) GetOrCreate(ctx context.Context, userID shared.UserID) (*level.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[userID]
	if !ok {
		acc = *level.NewAccount(userID, r.now())
		r.accounts[userID] = acc
	}
	return &acc, nil
}

// CompareAndSwap implements level.AccountRepository.
func (r *AccountRepository) CompareAndSwap(ctx context.Context, account *level.Account, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.accounts[account.UserID]
	if !ok {
		return shared.ErrAccountNotFound
	}
	if current.Version != expectedVersion {
		return shared.ErrVersionConflict
	}

	account.Version = expectedVersion + 1
	account.UpdatedAt = r.now()
	r.accounts[account.UserID] = *account
	return nil
}
