package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEvent represents a record stored in account_audit_events. Every state
// change on an account or transfer writes one, keyed by the account id.
type AuditEvent struct {
	AccountID uuid.UUID
	EventType string
	Details   string
	Meta      map[string]any
	At        time.Time
}

// AuditSink records account events. Failures must never abort the operation
// that produced the event.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// AuditLogger writes records into account_audit_events.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the event.
func (l *AuditLogger) Record(ctx context.Context, event AuditEvent) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if event.AccountID == uuid.Nil || event.EventType == "" {
		return errors.New("audit event requires account_id/event_type")
	}
	metaJSON, err := json.Marshal(event.Meta)
	if err != nil {
		return err
	}
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO account_audit_events (account_id, event_type, details, meta, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
		event.AccountID, event.EventType, event.Details, metaJSON, at)
	return err
}
