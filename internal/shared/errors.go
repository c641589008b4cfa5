// Package shared holds cross-cutting pieces: the error taxonomy, the audit
// logger, and the idempotency store.
package shared

import "errors"

// Client errors. No retry, no mutation was applied.
var (
	// ErrAccountNotFound indicates the account id does not resolve.
	ErrAccountNotFound = errors.New("account not found")
	// ErrCustomerNotFound indicates the owning customer does not resolve.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrTransactionNotFound indicates the ledger record does not resolve.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInvalidAmount rejects non-positive or missing amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrSelfTransfer rejects transfers where sender and receiver are the same account.
	ErrSelfTransfer = errors.New("sender and receiver accounts must differ")
	// ErrInsufficientFunds indicates available funds (including overdraft
	// headroom, when enabled) do not cover the debit.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAccountLocked indicates a frozen account rejected a mutating operation.
	ErrAccountLocked = errors.New("account is frozen")
	// ErrAccountClosed indicates a closed account rejected a mutating operation.
	ErrAccountClosed = errors.New("account is closed")
	// ErrTransactionLimitExceeded indicates the debit exceeds the per-operation limit.
	ErrTransactionLimitExceeded = errors.New("transaction limit exceeded")
	// ErrInvalidStateTransition rejects status changes on terminal transactions.
	ErrInvalidStateTransition = errors.New("transaction is already in a terminal state")
	// ErrInvalidAccountTypeChange rejects type changes outside the permitted matrix.
	ErrInvalidAccountTypeChange = errors.New("account type change not allowed")
	// ErrIdempotencyConflict indicates a request key was already processed.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
)

// Conflict and infrastructure errors.
var (
	// ErrVersionConflict indicates an optimistic-version mismatch on save.
	// Retryable: reload, revalidate, reapply.
	ErrVersionConflict = errors.New("account was modified concurrently")
	// ErrTransientStorage surfaces after bounded retries against storage exhaust.
	ErrTransientStorage = errors.New("storage temporarily unavailable")
	// ErrUnreconciledTransfer is escalated when a compensating reversal fails
	// after balances moved. Recorded durably for manual reconciliation.
	ErrUnreconciledTransfer = errors.New("transfer could not be reconciled")
)

// UserSafeMessage maps an error to text safe to show externally. Internal
// details never leave the process; unknown errors collapse to a generic line.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrCustomerNotFound),
		errors.Is(err, ErrTransactionNotFound),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSelfTransfer),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrAccountLocked),
		errors.Is(err, ErrAccountClosed),
		errors.Is(err, ErrTransactionLimitExceeded),
		errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, ErrInvalidAccountTypeChange),
		errors.Is(err, ErrIdempotencyConflict),
		errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrTransientStorage),
		errors.Is(err, ErrUnreconciledTransfer):
		return err.Error()
	default:
		return "an unexpected error occurred"
	}
}
