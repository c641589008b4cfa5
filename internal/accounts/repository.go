package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-bank/meridian/internal/platform/db"
	"github.com/meridian-bank/meridian/internal/shared"
)

// Repository provides PostgreSQL backed persistence for accounts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const accountColumns = `id, customer_id, name, number, account_type, status, balance,
	overdraft_protection, overdraft_limit, transaction_limit, holders, version, created_at, updated_at`

// Create inserts a new account row with version 1.
func (r *Repository) Create(ctx context.Context, a *Account) (*Account, error) {
	query := `
		INSERT INTO accounts (
			id, customer_id, name, number, account_type, status, balance,
			overdraft_protection, overdraft_limit, transaction_limit, holders,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, NOW(), NOW())
		RETURNING version, created_at, updated_at`

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, query,
		a.ID,
		a.CustomerID,
		a.Name,
		a.Number,
		string(a.Type),
		string(a.Status),
		a.Balance.String(),
		a.OverdraftProtection,
		a.OverdraftLimit.String(),
		a.TransactionLimit.String(),
		a.Holders,
	).Scan(&a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("accounts: create: %w", err)
	}
	return a, nil
}

// Get retrieves an account by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	return scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// Exists reports whether an account row exists.
func (r *Repository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var found bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("accounts: exists: %w", err)
	}
	return found, nil
}

// ListByCustomer returns accounts where the customer is owner or holder.
func (r *Repository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]Account, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE customer_id = $1 OR $1 = ANY(holders)
		 ORDER BY created_at`, customerID)
	if err != nil {
		return nil, fmt.Errorf("accounts: list by customer: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Save persists an account, checking and incrementing the optimistic
// version. A stale version yields ErrVersionConflict.
func (r *Repository) Save(ctx context.Context, a *Account) error {
	tag, err := r.pool.Exec(ctx, saveQuery, saveArgs(a)...)
	if err != nil {
		return fmt.Errorf("accounts: save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMissedWrite(ctx, a.ID)
	}
	a.Version++
	a.UpdatedAt = time.Now()
	return nil
}

// SavePair persists two accounts within a single transaction so no reader
// ever observes one leg of a transfer without the other. Either both version
// checks pass or the whole unit rolls back.
func (r *Repository) SavePair(ctx context.Context, a, b *Account) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, acct := range []*Account{a, b} {
			tag, err := tx.Exec(ctx, saveQuery, saveArgs(acct)...)
			if err != nil {
				return fmt.Errorf("accounts: save pair: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return r.classifyMissedWrite(ctx, acct.ID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	now := time.Now()
	a.Version++
	b.Version++
	a.UpdatedAt = now
	b.UpdatedAt = now
	return nil
}

const saveQuery = `
	UPDATE accounts SET
		name = $3, account_type = $4, status = $5, balance = $6,
		overdraft_protection = $7, overdraft_limit = $8, transaction_limit = $9,
		holders = $10, version = version + 1, updated_at = NOW()
	WHERE id = $1 AND version = $2`

func saveArgs(a *Account) []any {
	return []any{
		a.ID,
		a.Version,
		a.Name,
		string(a.Type),
		string(a.Status),
		a.Balance.String(),
		a.OverdraftProtection,
		a.OverdraftLimit.String(),
		a.TransactionLimit.String(),
		a.Holders,
	}
}

// classifyMissedWrite distinguishes a missing row from a stale version.
func (r *Repository) classifyMissedWrite(ctx context.Context, id uuid.UUID) error {
	found, err := r.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return shared.ErrAccountNotFound
	}
	return shared.ErrVersionConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		a                         Account
		accountType, status      string
		balance, odLimit, txLimit pgtype.Numeric
	)
	err := row.Scan(
		&a.ID, &a.CustomerID, &a.Name, &a.Number, &accountType, &status,
		&balance, &a.OverdraftProtection, &odLimit, &txLimit, &a.Holders,
		&a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("accounts: scan: %w", err)
	}
	a.Type = AccountType(accountType)
	a.Status = AccountStatus(status)
	a.Balance = numericToDecimal(balance)
	a.OverdraftLimit = numericToDecimal(odLimit)
	a.TransactionLimit = numericToDecimal(txLimit)
	return &a, nil
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.NaN || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
