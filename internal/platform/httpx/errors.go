// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-bank/meridian/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrAccountNotFound):
		Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(err), "account_not_found")
	case errors.Is(err, shared.ErrCustomerNotFound):
		Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(err), "customer_not_found")
	case errors.Is(err, shared.ErrTransactionNotFound):
		Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(err), "transaction_not_found")
	case errors.Is(err, shared.ErrInvalidAmount), errors.Is(err, shared.ErrSelfTransfer):
		Problem(w, http.StatusBadRequest, "Validation Failed", shared.UserSafeMessage(err), "invalid_request")
	case errors.Is(err, shared.ErrInsufficientFunds):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Funds", shared.UserSafeMessage(err), "insufficient_funds")
	case errors.Is(err, shared.ErrAccountLocked):
		Problem(w, http.StatusUnprocessableEntity, "Account Locked", shared.UserSafeMessage(err), "account_locked")
	case errors.Is(err, shared.ErrAccountClosed):
		Problem(w, http.StatusUnprocessableEntity, "Account Closed", shared.UserSafeMessage(err), "account_closed")
	case errors.Is(err, shared.ErrTransactionLimitExceeded):
		Problem(w, http.StatusUnprocessableEntity, "Transaction Limit Exceeded", shared.UserSafeMessage(err), "transaction_limit_exceeded")
	case errors.Is(err, shared.ErrInvalidAccountTypeChange):
		Problem(w, http.StatusUnprocessableEntity, "Invalid Account Type Change", shared.UserSafeMessage(err), "invalid_account_type_change")
	case errors.Is(err, shared.ErrInvalidStateTransition):
		Problem(w, http.StatusConflict, "Invalid State Transition", shared.UserSafeMessage(err), "invalid_state_transition")
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", shared.UserSafeMessage(err), "duplicate_request")
	case errors.Is(err, shared.ErrVersionConflict):
		Problem(w, http.StatusConflict, "Conflict", shared.UserSafeMessage(err), "conflict")
	case errors.Is(err, shared.ErrTransientStorage):
		Problem(w, http.StatusServiceUnavailable, "Storage Unavailable", shared.UserSafeMessage(err), "storage_unavailable")
	case errors.Is(err, shared.ErrUnreconciledTransfer):
		Problem(w, http.StatusInternalServerError, "Unreconciled Transfer", shared.UserSafeMessage(err), "unreconciled_transfer")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "", "internal_error")
	}
}

// BadRequest responds with a generic validation problem.
func BadRequest(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusBadRequest, "Validation Failed", detail, "invalid_request")
}
