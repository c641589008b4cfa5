// Package ledger is the system of record for money movements. It owns
// Transaction rows exclusively; account balances are only touched through
// the accounts collaborator during compensating cancellation.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType enumerates ledger record types.
type TransactionType string

const (
	TypeTransfer   TransactionType = "TRANSFER"
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
	TypePayment    TransactionType = "PAYMENT"
)

// Valid reports whether the type is known.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeTransfer, TypeDeposit, TypeWithdrawal, TypePayment:
		return true
	}
	return false
}

// TransactionStatus enumerates the state machine. The only transitions are
// PENDING -> COMPLETED and PENDING -> CANCELLED; terminal records are
// immutable.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusCancelled TransactionStatus = "CANCELLED"
)

// Terminal reports whether the status accepts no further changes.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// PaymentMethod enumerates how a movement was settled.
type PaymentMethod string

const (
	MethodInternal     PaymentMethod = "INTERNAL"
	MethodWireTransfer PaymentMethod = "WIRE_TRANSFER"
	MethodCard         PaymentMethod = "CARD"
)

// Transaction is the durable ledger record. It is retained indefinitely;
// it is the audit trail.
type Transaction struct {
	ID                uuid.UUID
	SenderAccountID   uuid.UUID
	ReceiverAccountID uuid.UUID
	Amount            decimal.Decimal
	Type              TransactionType
	Status            TransactionStatus
	PaymentMethod     PaymentMethod
	Description       string
	ReferenceID       string
	InitiatedBy       *uuid.UUID
	ProcessedBy       *uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CreateTransactionInput carries the fields needed to record a movement.
type CreateTransactionInput struct {
	SenderAccountID   uuid.UUID
	ReceiverAccountID uuid.UUID
	Amount            decimal.Decimal
	Type              TransactionType
	PaymentMethod     PaymentMethod
	Description       string
	InitiatedBy       *uuid.UUID
}
