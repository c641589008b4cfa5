package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-bank/meridian/internal/shared"
)

// Repository provides PostgreSQL backed persistence for ledger records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const transactionColumns = `id, sender_account_id, receiver_account_id, amount, transaction_type,
	status, payment_method, description, reference_id, initiated_by, processed_by, created_at, updated_at`

// Create inserts a new ledger record.
func (r *Repository) Create(ctx context.Context, t *Transaction) (*Transaction, error) {
	query := `
		INSERT INTO transactions (
			id, sender_account_id, receiver_account_id, amount, transaction_type,
			status, payment_method, description, reference_id, initiated_by,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		t.ID,
		t.SenderAccountID,
		t.ReceiverAccountID,
		t.Amount.String(),
		string(t.Type),
		string(t.Status),
		string(t.PaymentMethod),
		t.Description,
		t.ReferenceID,
		t.InitiatedBy,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ledger: create: %w", err)
	}
	return t, nil
}

// Get retrieves a record by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

// UpdateStatus flips status from the expected prior value in one statement.
// Zero rows means either the record is gone or it already left the expected
// status; the two map to different errors.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to TransactionStatus) (*Transaction, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE transactions SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return nil, fmt.Errorf("ledger: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, shared.ErrInvalidStateTransition
	}
	return r.Get(ctx, id)
}

// Delete removes a record.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ledger: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrTransactionNotFound
	}
	return nil
}

// ListForAccount returns records where the account appears on either side,
// newest first.
func (r *Repository) ListForAccount(ctx context.Context, accountID uuid.UUID) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE sender_account_id = $1 OR receiver_account_id = $1
		 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list for account: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var (
		t                        Transaction
		amount                   pgtype.Numeric
		txType, status, method   string
		initiatedBy, processedBy *uuid.UUID
	)
	err := row.Scan(
		&t.ID, &t.SenderAccountID, &t.ReceiverAccountID, &amount, &txType,
		&status, &method, &t.Description, &t.ReferenceID, &initiatedBy,
		&processedBy, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: scan: %w", err)
	}
	t.Amount = numericToDecimal(amount)
	t.Type = TransactionType(txType)
	t.Status = TransactionStatus(status)
	t.PaymentMethod = PaymentMethod(method)
	t.InitiatedBy = initiatedBy
	t.ProcessedBy = processedBy
	return &t, nil
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.NaN || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
