package accounts

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-bank/meridian/internal/shared"
)

// Guard validates prospective debits against balance, overdraft settings and
// account status. The guard is strictly read-only: overdraft headroom is a
// floor the balance may not cross, never a limit that gets consumed.
type Guard struct {
	store Store
}

// NewGuard constructs a Guard over the given store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// HasSufficientFunds reports whether the account could cover the debit.
func (g *Guard) HasSufficientFunds(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (bool, error) {
	if amount.Sign() <= 0 {
		return false, shared.ErrInvalidAmount
	}
	account, err := g.store.Get(ctx, accountID)
	if err != nil {
		return false, err
	}
	return !account.AvailableFunds().LessThan(amount), nil
}

// ValidateWithdrawal fails when the debit would breach the account's floor:
// zero without overdraft protection, -overdraftLimit with it. Frozen and
// closed accounts fail with their own errors, never ErrInsufficientFunds.
func (g *Guard) ValidateWithdrawal(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return shared.ErrInvalidAmount
	}
	account, err := g.store.Get(ctx, accountID)
	if err != nil {
		return err
	}
	return account.CheckDebit(amount)
}
