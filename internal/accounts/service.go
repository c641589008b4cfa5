package accounts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-bank/meridian/internal/customers"
	"github.com/meridian-bank/meridian/internal/shared"
)

// Store defines data access for accounts. Save and SavePair check the
// optimistic version and increment it on success.
type Store interface {
	Create(ctx context.Context, a *Account) (*Account, error)
	Get(ctx context.Context, id uuid.UUID) (*Account, error)
	Save(ctx context.Context, a *Account) error
	SavePair(ctx context.Context, a, b *Account) error
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]Account, error)
}

// Notifier delivers fire-and-forget account notifications. Implementations
// must not block the calling operation on delivery.
type Notifier interface {
	Notify(ctx context.Context, accountID uuid.UUID, message string) error
}

// saveAttempts bounds version-conflict retries on single-account mutations.
const saveAttempts = 3

// Service handles account business logic.
type Service struct {
	logger    *slog.Logger
	store     Store
	directory customers.Directory
	audit     shared.AuditSink
	notifier  Notifier
	numbers   *NumberGenerator
	balances  *BalanceCache
}

// NewService builds a Service instance.
func NewService(logger *slog.Logger, store Store, directory customers.Directory, audit shared.AuditSink, notifier Notifier, balances *BalanceCache) *Service {
	return &Service{
		logger:    logger,
		store:     store,
		directory: directory,
		audit:     audit,
		notifier:  notifier,
		numbers:   NewNumberGenerator(),
		balances:  balances,
	}
}

// Create opens a new account with balance zero for an existing customer.
func (s *Service) Create(ctx context.Context, input CreateAccountInput) (*Account, error) {
	if input.CustomerID == uuid.Nil {
		return nil, shared.ErrCustomerNotFound
	}
	if !input.Type.Valid() {
		return nil, shared.ErrInvalidAccountTypeChange
	}
	if _, err := s.directory.GetCustomer(ctx, input.CustomerID); err != nil {
		return nil, err
	}

	account := &Account{
		ID:               uuid.New(),
		CustomerID:       input.CustomerID,
		Name:             input.Name,
		Number:           s.numbers.Generate(input.Type),
		Type:             input.Type,
		Status:           StatusActive,
		Balance:          decimal.Zero,
		OverdraftLimit:   decimal.Zero,
		TransactionLimit: decimal.Zero,
		Holders:          []uuid.UUID{input.CustomerID},
	}
	created, err := s.store.Create(ctx, account)
	if err != nil {
		return nil, err
	}

	s.recordEvent(ctx, created.ID, "CREATE_ACCOUNT", "new account opened", nil)
	s.sendNotification(ctx, created.ID, "Your account has been opened")
	return created, nil
}

// Get returns an account by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.store.Get(ctx, id)
}

// GetBalance returns the current balance, serving from the cache when warm.
func (s *Service) GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	if bal, ok := s.balances.Get(ctx, id); ok {
		return bal, nil
	}
	account, err := s.store.Get(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.balances.Set(ctx, id, account.Balance); err != nil {
		s.logger.Warn("cache balance", slog.Any("error", err))
	}
	return account.Balance, nil
}

// ListByCustomer returns accounts owned or co-held by the customer.
func (s *Service) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]Account, error) {
	if _, err := s.directory.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return s.store.ListByCustomer(ctx, customerID)
}

// AddFunds credits the account. Also the compensation entry point used by
// the transaction ledger when cancelling a transfer.
func (s *Service) AddFunds(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Account, error) {
	if amount.Sign() <= 0 {
		return nil, shared.ErrInvalidAmount
	}
	account, err := s.mutate(ctx, id, func(a *Account) error {
		if err := a.CanMutate(); err != nil {
			return err
		}
		a.Balance = a.Balance.Add(amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, id, "ADD_FUNDS", "funds credited", map[string]any{"amount": amount.String()})
	s.sendNotification(ctx, id, "Funds credited: "+amount.String())
	return account, nil
}

// DeductFunds debits the account after running the balance guard. Also the
// compensation entry point for cancelling a transfer on the receiver side.
func (s *Service) DeductFunds(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Account, error) {
	account, err := s.mutate(ctx, id, func(a *Account) error {
		if err := a.CheckDebit(amount); err != nil {
			return err
		}
		a.Balance = a.Balance.Sub(amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, id, "DEDUCT_FUNDS", "funds debited", map[string]any{"amount": amount.String()})
	s.sendNotification(ctx, id, "Funds debited: "+amount.String())
	return account, nil
}

// AccountExists reports whether the id resolves to an account.
func (s *Service) AccountExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.store.Exists(ctx, id)
}

// mutate runs a load-modify-save cycle, retrying on version conflicts and
// invalidating the balance cache once the write lands.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(*Account) error) (*Account, error) {
	for attempt := 1; attempt <= saveAttempts; attempt++ {
		account, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(account); err != nil {
			return nil, err
		}
		err = s.store.Save(ctx, account)
		if err == nil {
			if cerr := s.balances.Invalidate(ctx, id); cerr != nil {
				s.logger.Warn("invalidate balance cache", slog.String("account_id", id.String()), slog.Any("error", cerr))
			}
			return account, nil
		}
		if !errors.Is(err, shared.ErrVersionConflict) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
		}
	}
	return nil, shared.ErrVersionConflict
}

func (s *Service) recordEvent(ctx context.Context, id uuid.UUID, eventType, details string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditEvent{
		AccountID: id,
		EventType: eventType,
		Details:   details,
		Meta:      meta,
		At:        time.Now(),
	})
	if err != nil {
		s.logger.Error("record audit event", slog.String("event", eventType), slog.Any("error", err))
	}
}

func (s *Service) sendNotification(ctx context.Context, id uuid.UUID, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, id, message); err != nil {
		s.logger.Warn("send notification", slog.String("account_id", id.String()), slog.Any("error", err))
	}
}
