package accounts

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-bank/meridian/internal/shared"
)

// Security gate: frozen and closed accounts reject every mutating operation
// while reads stay available. Each transition persists, audits and notifies.

// Freeze puts the account into FROZEN. Closed accounts stay closed.
func (s *Service) Freeze(ctx context.Context, id uuid.UUID) (*Account, error) {
	account, err := s.mutate(ctx, id, func(a *Account) error {
		if a.Status == StatusClosed {
			return shared.ErrAccountClosed
		}
		a.Status = StatusFrozen
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, id, "ACCOUNT_STATUS", "frozen", nil)
	s.sendNotification(ctx, id, "Account frozen")
	return account, nil
}

// Unfreeze returns a frozen account to ACTIVE.
func (s *Service) Unfreeze(ctx context.Context, id uuid.UUID) (*Account, error) {
	account, err := s.mutate(ctx, id, func(a *Account) error {
		if a.Status == StatusClosed {
			return shared.ErrAccountClosed
		}
		a.Status = StatusActive
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, id, "ACCOUNT_STATUS", "unfrozen", nil)
	s.sendNotification(ctx, id, "Account unfrozen")
	return account, nil
}

// Close transitions the account to CLOSED. Closure is a status change, never
// row deletion: transaction history keeps its references.
func (s *Service) Close(ctx context.Context, id uuid.UUID) (*Account, error) {
	account, err := s.mutate(ctx, id, func(a *Account) error {
		if a.Status == StatusClosed {
			return shared.ErrAccountClosed
		}
		a.Status = StatusClosed
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, id, "ACCOUNT_STATUS", "closed", nil)
	s.sendNotification(ctx, id, "Account closed")
	return account, nil
}

// IsLocked reports whether the account currently rejects mutations.
func (s *Service) IsLocked(ctx context.Context, id uuid.UUID) (bool, error) {
	account, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return account.Status == StatusFrozen, nil
}

// SetTransactionLimit sets the per-operation debit ceiling. Zero disables it.
func (s *Service) SetTransactionLimit(ctx context.Context, id uuid.UUID, limit decimal.Decimal) (*Account, error) {
	if limit.Sign() < 0 {
		return nil, shared.ErrInvalidAmount
	}
	account, err := s.mutate(ctx, id, func(a *Account) error {
		if err := a.CanMutate(); err != nil {
			return err
		}
		a.TransactionLimit = limit
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, id, "TRANSACTION_LIMIT", "set to "+limit.String(), nil)
	s.sendNotification(ctx, id, "Transaction limit set to "+limit.String())
	return account, nil
}

// SetOverdraftProtection enables or disables overdraft with the given limit.
// Disabling resets the limit to zero.
func (s *Service) SetOverdraftProtection(ctx context.Context, id uuid.UUID, enabled bool, limit decimal.Decimal) (*Account, error) {
	if enabled && limit.Sign() < 0 {
		return nil, shared.ErrInvalidAmount
	}
	account, err := s.mutate(ctx, id, func(a *Account) error {
		if err := a.CanMutate(); err != nil {
			return err
		}
		a.OverdraftProtection = enabled
		if enabled {
			a.OverdraftLimit = limit
		} else {
			a.OverdraftLimit = decimal.Zero
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	detail := "disabled"
	if enabled {
		detail = "enabled, limit " + limit.String()
	}
	s.recordEvent(ctx, id, "OVERDRAFT_PROTECTION", detail, nil)
	s.sendNotification(ctx, id, "Overdraft protection "+detail)
	return account, nil
}

// ChangeType switches the account product. Only the checking/savings pair is
// convertible; anything else is rejected.
func (s *Service) ChangeType(ctx context.Context, id uuid.UUID, next AccountType) (*Account, error) {
	if !next.Valid() {
		return nil, shared.ErrInvalidAccountTypeChange
	}
	account, err := s.mutate(ctx, id, func(a *Account) error {
		if err := a.CanMutate(); err != nil {
			return err
		}
		if !TypeChangePermitted(a.Type, next) {
			return shared.ErrInvalidAccountTypeChange
		}
		a.Type = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, id, "ACCOUNT_TYPE", "changed to "+string(next), nil)
	return account, nil
}

// AddHolder registers a joint holder after resolving the customer.
func (s *Service) AddHolder(ctx context.Context, id, customerID uuid.UUID) (*Account, error) {
	if _, err := s.directory.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	account, err := s.mutate(ctx, id, func(a *Account) error {
		if err := a.CanMutate(); err != nil {
			return err
		}
		a.AddHolder(customerID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, id, "ACCOUNT_HOLDER", "holder added", map[string]any{"customer_id": customerID.String()})
	return account, nil
}

// RemoveHolder drops a joint holder.
func (s *Service) RemoveHolder(ctx context.Context, id, customerID uuid.UUID) (*Account, error) {
	account, err := s.mutate(ctx, id, func(a *Account) error {
		if err := a.CanMutate(); err != nil {
			return err
		}
		a.RemoveHolder(customerID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, id, "ACCOUNT_HOLDER", "holder removed", map[string]any{"customer_id": customerID.String()})
	return account, nil
}
