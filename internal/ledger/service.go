package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-bank/meridian/internal/shared"
)

// RepositoryPort defines data access for ledger records. UpdateStatus is a
// compare-and-set: it only moves a record out of the expected prior status,
// which makes terminal states immutable even under concurrent updates.
type RepositoryPort interface {
	Create(ctx context.Context, t *Transaction) (*Transaction, error)
	Get(ctx context.Context, id uuid.UUID) (*Transaction, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to TransactionStatus) (*Transaction, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListForAccount(ctx context.Context, accountID uuid.UUID) ([]Transaction, error)
}

// AccountsGateway is the Account collaborator used for validation and for
// compensating balance adjustments on cancellation.
type AccountsGateway interface {
	AccountExists(ctx context.Context, id uuid.UUID) (bool, error)
	AddFunds(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
	DeductFunds(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
}

// ReconciliationQueue durably records a compensation that failed half-way,
// for manual reconciliation.
type ReconciliationQueue interface {
	EscalateUnreconciled(ctx context.Context, fromID, toID uuid.UUID, amount decimal.Decimal, reason string) error
}

// Service implements the transaction status state machine.
type Service struct {
	logger    *slog.Logger
	repo      RepositoryPort
	accounts  AccountsGateway
	reconcile ReconciliationQueue
}

// NewService builds a Service instance. reconcile may be nil; escalations
// then only reach the log.
func NewService(logger *slog.Logger, repo RepositoryPort, accounts AccountsGateway, reconcile ReconciliationQueue) *Service {
	return &Service{logger: logger, repo: repo, accounts: accounts, reconcile: reconcile}
}

// Create records a movement as PENDING and returns the stored record,
// including the generated id and external reference.
func (s *Service) Create(ctx context.Context, input CreateTransactionInput) (*Transaction, error) {
	if input.Amount.Sign() <= 0 {
		return nil, shared.ErrInvalidAmount
	}
	if !input.Type.Valid() {
		return nil, fmt.Errorf("ledger: unknown transaction type %q", input.Type)
	}
	for _, id := range []uuid.UUID{input.SenderAccountID, input.ReceiverAccountID} {
		found, err := s.accounts.AccountExists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, shared.ErrAccountNotFound
		}
	}

	method := input.PaymentMethod
	if method == "" {
		method = MethodInternal
	}
	now := time.Now()
	record := &Transaction{
		ID:                uuid.New(),
		SenderAccountID:   input.SenderAccountID,
		ReceiverAccountID: input.ReceiverAccountID,
		Amount:            input.Amount,
		Type:              input.Type,
		Status:            StatusPending,
		PaymentMethod:     method,
		Description:       input.Description,
		ReferenceID:       newReferenceID(now),
		InitiatedBy:       input.InitiatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	return s.repo.Create(ctx, record)
}

// Get returns a ledger record by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.repo.Get(ctx, id)
}

// ListForAccount returns records where the account is sender or receiver.
func (s *Service) ListForAccount(ctx context.Context, accountID uuid.UUID) ([]Transaction, error) {
	return s.repo.ListForAccount(ctx, accountID)
}

// Complete moves a PENDING record to COMPLETED. Terminal records are
// rejected with ErrInvalidStateTransition.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.transition(ctx, id, StatusCompleted)
}

// Cancel moves a PENDING record to CANCELLED. For transfers, the
// compensating adjustment runs before the status flips: a failure
// mid-compensation leaves the record PENDING so the cancel can be retried.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status.Terminal() {
		return nil, shared.ErrInvalidStateTransition
	}

	if record.Type == TypeTransfer {
		if err := s.accounts.AddFunds(ctx, record.SenderAccountID, record.Amount); err != nil {
			return nil, fmt.Errorf("ledger: cancel %s: re-credit sender: %w", id, err)
		}
		if err := s.accounts.DeductFunds(ctx, record.ReceiverAccountID, record.Amount); err != nil {
			// The sender was already re-credited. Undo that credit so a
			// retried cancel starts from the pre-cancel balances.
			if undoErr := s.accounts.DeductFunds(ctx, record.SenderAccountID, record.Amount); undoErr != nil {
				s.logger.Error("undo partial cancel compensation",
					slog.String("transaction_id", id.String()), slog.Any("error", undoErr))
				s.escalateCancel(ctx, record, undoErr)
				return nil, fmt.Errorf("ledger: cancel %s: %w", id, shared.ErrUnreconciledTransfer)
			}
			return nil, fmt.Errorf("ledger: cancel %s: re-debit receiver: %w", id, err)
		}
	}

	return s.transition(ctx, id, StatusCancelled)
}

// UpdateStatus is the generic setter guarded by the same immutability rule:
// any change on a COMPLETED or CANCELLED record is rejected.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status TransactionStatus) (*Transaction, error) {
	switch status {
	case StatusCompleted:
		return s.Complete(ctx, id)
	case StatusCancelled:
		return s.Cancel(ctx, id)
	case StatusPending:
		return nil, shared.ErrInvalidStateTransition
	default:
		return nil, fmt.Errorf("ledger: unknown status %q", status)
	}
}

// Delete removes a record without reversing balances. Used administratively
// and to dispose of a PENDING record whose transfer was already reversed;
// cancellation is the operation that compensates.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// escalateCancel hands a half-undone compensation to the reconciliation
// queue so it survives the process. The record itself stays PENDING.
func (s *Service) escalateCancel(ctx context.Context, record *Transaction, cause error) {
	if s.reconcile == nil {
		return
	}
	reason := fmt.Sprintf("cancel compensation for %s left balances inconsistent: %v", record.ID, cause)
	if err := s.reconcile.EscalateUnreconciled(ctx, record.SenderAccountID, record.ReceiverAccountID, record.Amount, reason); err != nil {
		s.logger.Error("escalate unreconciled cancel",
			slog.String("transaction_id", record.ID.String()), slog.Any("error", err))
	}
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to TransactionStatus) (*Transaction, error) {
	record, err := s.repo.UpdateStatus(ctx, id, StatusPending, to)
	if err != nil {
		return nil, err
	}
	s.logger.Info("transaction status changed",
		slog.String("transaction_id", id.String()),
		slog.String("status", string(to)))
	return record, nil
}

// newReferenceID derives the unique external reference from the creation
// instant plus random bits.
func newReferenceID(at time.Time) string {
	return fmt.Sprintf("TXN-%s-%s", at.UTC().Format("20060102150405"), uuid.NewString()[:8])
}
