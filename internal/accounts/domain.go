// Package accounts owns Account rows: balances, overdraft settings, status
// and holders. All mutations go through the Service; the Transfer
// orchestrator persists through the same Store so optimistic versioning
// covers every writer.
package accounts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-bank/meridian/internal/shared"
)

// AccountType enumerates supported account products.
type AccountType string

const (
	TypeChecking AccountType = "CHECKING"
	TypeSavings  AccountType = "SAVINGS"
	TypeBusiness AccountType = "BUSINESS"
	TypeStudent  AccountType = "STUDENT"
)

// Valid reports whether the type is one of the known products.
func (t AccountType) Valid() bool {
	switch t {
	case TypeChecking, TypeSavings, TypeBusiness, TypeStudent:
		return true
	}
	return false
}

// AccountStatus enumerates account lifecycle states.
type AccountStatus string

const (
	StatusActive AccountStatus = "ACTIVE"
	StatusFrozen AccountStatus = "FROZEN"
	StatusClosed AccountStatus = "CLOSED"
)

// Account model. Balance and limits are exact decimals, never floats.
// Version is the optimistic concurrency counter checked on every save.
type Account struct {
	ID                  uuid.UUID
	CustomerID          uuid.UUID
	Name                string
	Number              string
	Type                AccountType
	Status              AccountStatus
	Balance             decimal.Decimal
	OverdraftProtection bool
	OverdraftLimit      decimal.Decimal
	TransactionLimit    decimal.Decimal
	Holders             []uuid.UUID
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CanMutate rejects mutating operations on frozen or closed accounts.
// Read operations stay available in both states.
func (a *Account) CanMutate() error {
	switch a.Status {
	case StatusFrozen:
		return shared.ErrAccountLocked
	case StatusClosed:
		return shared.ErrAccountClosed
	}
	return nil
}

// AvailableFunds returns the balance plus overdraft headroom when overdraft
// protection is enabled. The overdraft limit itself is never consumed; it is
// a floor, not a balance.
func (a *Account) AvailableFunds() decimal.Decimal {
	if a.OverdraftProtection {
		return a.Balance.Add(a.OverdraftLimit)
	}
	return a.Balance
}

// CheckDebit validates a prospective debit against status, the per-operation
// transaction limit, and available funds. Read-only.
func (a *Account) CheckDebit(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return shared.ErrInvalidAmount
	}
	if err := a.CanMutate(); err != nil {
		return err
	}
	if a.TransactionLimit.Sign() > 0 && amount.GreaterThan(a.TransactionLimit) {
		return shared.ErrTransactionLimitExceeded
	}
	if a.AvailableFunds().LessThan(amount) {
		return shared.ErrInsufficientFunds
	}
	return nil
}

// AddHolder records a joint holder. Holders behave as a set.
func (a *Account) AddHolder(customerID uuid.UUID) {
	for _, h := range a.Holders {
		if h == customerID {
			return
		}
	}
	a.Holders = append(a.Holders, customerID)
}

// RemoveHolder drops a joint holder if present.
func (a *Account) RemoveHolder(customerID uuid.UUID) {
	for i, h := range a.Holders {
		if h == customerID {
			a.Holders = append(a.Holders[:i], a.Holders[i+1:]...)
			return
		}
	}
}

// TypeChangePermitted reports whether switching between two products is
// allowed. Only the checking/savings pair converts in either direction.
func TypeChangePermitted(current, next AccountType) bool {
	if current == TypeChecking && next == TypeSavings {
		return true
	}
	if current == TypeSavings && next == TypeChecking {
		return true
	}
	return false
}

// CreateAccountInput carries the fields needed to open an account.
type CreateAccountInput struct {
	CustomerID uuid.UUID
	Name       string
	Type       AccountType
}
