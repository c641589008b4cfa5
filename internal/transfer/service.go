// Package transfer implements the money-movement core: validate both
// accounts, apply debit and credit atomically, record the movement in the
// transaction ledger, and reverse the balances when that recording fails.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-bank/meridian/internal/accounts"
	"github.com/meridian-bank/meridian/internal/ledger"
	"github.com/meridian-bank/meridian/internal/shared"
)

// AccountStore is the slice of the account store the orchestrator needs.
// SavePair must apply both version-checked updates in one atomic unit.
type AccountStore interface {
	Get(ctx context.Context, id uuid.UUID) (*accounts.Account, error)
	SavePair(ctx context.Context, a, b *accounts.Account) error
}

// LedgerClient records transfers in the transaction ledger. The call is
// synchronous; a failure here after balances moved is the consistency risk
// the reversal path exists for. Delete disposes of a PENDING record whose
// transfer was reversed, so nobody can later cancel-compensate it.
type LedgerClient interface {
	Create(ctx context.Context, input ledger.CreateTransactionInput) (*ledger.Transaction, error)
	Complete(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Notifier delivers fire-and-forget notifications.
type Notifier interface {
	Notify(ctx context.Context, accountID uuid.UUID, message string) error
}

// IdempotencyGuard rejects replayed request keys.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Escalator durably queues a failed reversal for manual reconciliation.
type Escalator interface {
	EscalateUnreconciled(ctx context.Context, fromID, toID uuid.UUID, amount decimal.Decimal, reason string) error
}

const (
	// saveAttempts bounds optimistic-concurrency retries of the whole
	// load-validate-mutate-persist sequence.
	saveAttempts = 3
	// reverseAttempts bounds the compensating reversal. Exhausting these
	// escalates the transfer as unreconciled.
	reverseAttempts = 3

	idempotencyModule = "transfer"
)

// Request describes one transfer.
type Request struct {
	FromAccountID  uuid.UUID
	ToAccountID    uuid.UUID
	Amount         decimal.Decimal
	Description    string
	InitiatedBy    *uuid.UUID
	IdempotencyKey string
}

// Service is the transfer orchestrator.
type Service struct {
	logger      *slog.Logger
	store       AccountStore
	ledger      LedgerClient
	audit       shared.AuditSink
	notifier    Notifier
	idempotency IdempotencyGuard
	escalator   Escalator
	balances    *accounts.BalanceCache
	backoff     time.Duration
}

// NewService builds a Service instance. audit, notifier, idempotency,
// escalator and balances may be nil; the corresponding side effects are
// skipped.
func NewService(logger *slog.Logger, store AccountStore, ledgerClient LedgerClient, audit shared.AuditSink, notifier Notifier, idempotency IdempotencyGuard, escalator Escalator, balances *accounts.BalanceCache) *Service {
	return &Service{
		logger:      logger,
		store:       store,
		ledger:      ledgerClient,
		audit:       audit,
		notifier:    notifier,
		idempotency: idempotency,
		escalator:   escalator,
		balances:    balances,
		backoff:     25 * time.Millisecond,
	}
}

// TransferFunds moves amount between two accounts and records the movement.
//
// Validation failures return before any mutation. Version conflicts retry
// the whole sequence against fresh rows, so two concurrent transfers from
// the same account can never both pass the balance guard against a stale
// balance. A ledger failure after the balances moved triggers the
// compensating reversal; if the reversal itself fails the transfer is
// escalated as unreconciled.
func (s *Service) TransferFunds(ctx context.Context, req Request) (*ledger.Transaction, error) {
	if req.FromAccountID == uuid.Nil || req.ToAccountID == uuid.Nil {
		return nil, shared.ErrAccountNotFound
	}
	if req.Amount.Sign() <= 0 {
		return nil, shared.ErrInvalidAmount
	}
	if req.FromAccountID == req.ToAccountID {
		return nil, shared.ErrSelfTransfer
	}

	if req.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, req.IdempotencyKey, idempotencyModule); err != nil {
			return nil, err
		}
	}

	record, err := s.run(ctx, req)
	if err != nil && req.IdempotencyKey != "" && s.idempotency != nil && !mutated(err) {
		// Nothing moved; let the caller retry with the same key.
		if derr := s.idempotency.Delete(ctx, req.IdempotencyKey); derr != nil {
			s.logger.Warn("release idempotency key", slog.Any("error", derr))
		}
	}
	return record, err
}

func (s *Service) run(ctx context.Context, req Request) (*ledger.Transaction, error) {
	from, to, err := s.applyBalances(ctx, req)
	if err != nil {
		return nil, err
	}

	record, err := s.ledger.Create(ctx, ledger.CreateTransactionInput{
		SenderAccountID:   req.FromAccountID,
		ReceiverAccountID: req.ToAccountID,
		Amount:            req.Amount,
		Type:              ledger.TypeTransfer,
		PaymentMethod:     ledger.MethodInternal,
		Description:       req.Description,
		InitiatedBy:       req.InitiatedBy,
	})
	if err != nil {
		return nil, s.rollback(ctx, req, err, uuid.Nil)
	}
	completed, err := s.ledger.Complete(ctx, record.ID)
	if err != nil {
		return nil, s.rollback(ctx, req, err, record.ID)
	}

	s.recordEvent(ctx, req.FromAccountID, "FUNDS_TRANSFER", "transfer completed", map[string]any{
		"to_account_id":  req.ToAccountID.String(),
		"amount":         req.Amount.String(),
		"transaction_id": completed.ID.String(),
		"reference_id":   completed.ReferenceID,
	})
	s.notify(ctx, from.ID, fmt.Sprintf("Transfer of %s sent, new balance %s", req.Amount, from.Balance))
	s.notify(ctx, to.ID, fmt.Sprintf("Transfer of %s received, new balance %s", req.Amount, to.Balance))
	return completed, nil
}

// rollback handles a ledger failure after the balances moved: reverse them,
// then dispose of any PENDING record left behind so a later Cancel cannot
// compensate a transfer that was already undone.
func (s *Service) rollback(ctx context.Context, req Request, cause error, recordID uuid.UUID) error {
	s.logger.Error("ledger recording failed, reversing transfer",
		slog.String("from", req.FromAccountID.String()),
		slog.String("to", req.ToAccountID.String()),
		slog.String("amount", req.Amount.String()),
		slog.Any("error", cause))

	if revErr := s.reverse(ctx, req); revErr != nil {
		s.escalate(ctx, req, cause)
		return fmt.Errorf("transfer: reversal after ledger failure: %w", shared.ErrUnreconciledTransfer)
	}

	if recordID != uuid.Nil {
		if derr := s.ledger.Delete(ctx, recordID); derr != nil {
			// Balances are consistent but the PENDING record survives; flag
			// it durably so it gets voided before anyone cancels it.
			s.logger.Error("discard orphaned ledger record",
				slog.String("transaction_id", recordID.String()), slog.Any("error", derr))
			s.recordEvent(ctx, req.FromAccountID, "ORPHANED_LEDGER_RECORD", "pending record left after reversal, void manually", map[string]any{
				"transaction_id": recordID.String(),
				"to_account_id":  req.ToAccountID.String(),
				"amount":         req.Amount.String(),
			})
		}
	}

	return ledgerFault(cause)
}

// ledgerFault keeps the ledger's own classification for errors the API maps
// as client problems; everything else surfaces as a transient storage fault.
func ledgerFault(err error) error {
	for _, known := range []error{
		shared.ErrAccountNotFound,
		shared.ErrInvalidAmount,
		shared.ErrTransactionNotFound,
		shared.ErrInvalidStateTransition,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("transfer: ledger record: %w", shared.ErrTransientStorage)
}

// applyBalances runs load -> gate -> guard -> mutate -> persist under the
// optimistic version counter, retrying on conflicts.
func (s *Service) applyBalances(ctx context.Context, req Request) (*accounts.Account, *accounts.Account, error) {
	for attempt := 1; ; attempt++ {
		from, err := s.store.Get(ctx, req.FromAccountID)
		if err != nil {
			return nil, nil, err
		}
		to, err := s.store.Get(ctx, req.ToAccountID)
		if err != nil {
			return nil, nil, err
		}

		// A frozen party fails with AccountLocked, never InsufficientFunds.
		if err := to.CanMutate(); err != nil {
			return nil, nil, err
		}
		if err := from.CheckDebit(req.Amount); err != nil {
			return nil, nil, err
		}

		from.Balance = from.Balance.Sub(req.Amount)
		to.Balance = to.Balance.Add(req.Amount)

		err = s.store.SavePair(ctx, from, to)
		if err == nil {
			s.invalidateBalances(ctx, from.ID, to.ID)
			return from, to, nil
		}
		if !errors.Is(err, shared.ErrVersionConflict) {
			return nil, nil, err
		}
		if attempt >= saveAttempts {
			return nil, nil, shared.ErrVersionConflict
		}
		if err := s.wait(ctx, attempt); err != nil {
			return nil, nil, err
		}
	}
}

// reverse re-credits the sender and re-debits the receiver. The adjustment
// is forced: it bypasses the balance guard, because the money being returned
// was taken by this very transfer.
func (s *Service) reverse(ctx context.Context, req Request) error {
	for attempt := 1; ; attempt++ {
		from, err := s.store.Get(ctx, req.FromAccountID)
		if err != nil {
			return err
		}
		to, err := s.store.Get(ctx, req.ToAccountID)
		if err != nil {
			return err
		}

		from.Balance = from.Balance.Add(req.Amount)
		to.Balance = to.Balance.Sub(req.Amount)

		err = s.store.SavePair(ctx, from, to)
		if err == nil {
			s.invalidateBalances(ctx, from.ID, to.ID)
			s.recordEvent(ctx, req.FromAccountID, "TRANSFER_REVERSED", "transfer reversed after ledger failure", map[string]any{
				"to_account_id": req.ToAccountID.String(),
				"amount":        req.Amount.String(),
			})
			return nil
		}
		if !errors.Is(err, shared.ErrVersionConflict) {
			return err
		}
		if attempt >= reverseAttempts {
			return shared.ErrVersionConflict
		}
		if err := s.wait(ctx, attempt); err != nil {
			return err
		}
	}
}

func (s *Service) escalate(ctx context.Context, req Request, cause error) {
	s.recordEvent(ctx, req.FromAccountID, "UNRECONCILED_TRANSFER", "reversal failed, manual reconciliation required", map[string]any{
		"to_account_id": req.ToAccountID.String(),
		"amount":        req.Amount.String(),
		"cause":         cause.Error(),
	})
	if s.escalator == nil {
		return
	}
	if err := s.escalator.EscalateUnreconciled(ctx, req.FromAccountID, req.ToAccountID, req.Amount, cause.Error()); err != nil {
		s.logger.Error("escalate unreconciled transfer", slog.Any("error", err))
	}
}

// mutated reports whether balances may have changed when err was returned.
// Those keys must stay claimed so the client cannot replay the movement.
func mutated(err error) bool {
	return errors.Is(err, shared.ErrUnreconciledTransfer) || errors.Is(err, shared.ErrTransientStorage)
}

// invalidateBalances drops cached balances after a persisted mutation so
// balance reads never serve a pre-transfer value for the cache TTL.
func (s *Service) invalidateBalances(ctx context.Context, ids ...uuid.UUID) {
	if err := s.balances.Invalidate(ctx, ids...); err != nil {
		s.logger.Warn("invalidate balance cache", slog.Any("error", err))
	}
}

func (s *Service) wait(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(attempt) * s.backoff):
		return nil
	}
}

func (s *Service) recordEvent(ctx context.Context, accountID uuid.UUID, eventType, details string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditEvent{
		AccountID: accountID,
		EventType: eventType,
		Details:   details,
		Meta:      meta,
		At:        time.Now(),
	})
	if err != nil {
		s.logger.Error("record audit event", slog.String("event", eventType), slog.Any("error", err))
	}
}

func (s *Service) notify(ctx context.Context, accountID uuid.UUID, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, accountID, message); err != nil {
		s.logger.Warn("send notification", slog.String("account_id", accountID.String()), slog.Any("error", err))
	}
}
