// Package jobs wires background work through Asynq: notification dispatch,
// the reconcile queue for failed reversals, and periodic maintenance.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-bank/meridian/internal/notify"
	"github.com/meridian-bank/meridian/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeNotifyAccount dispatches one account notification.
	TaskTypeNotifyAccount = "notify:account"
	// TaskTypeReconcileTransfer records a transfer whose reversal failed.
	TaskTypeReconcileTransfer = "transfer:reconcile"
	// TaskTypeLedgerScan surfaces stale PENDING transactions.
	TaskTypeLedgerScan = "ledger:scan_pending"
	// TaskTypeIdempotencyCleanup prunes expired idempotency keys.
	TaskTypeIdempotencyCleanup = "idempotency:cleanup"
)

// NotifyAccountPayload describes one notification dispatch.
type NotifyAccountPayload struct {
	AccountID uuid.UUID `json:"account_id"`
	Message   string    `json:"message"`
}

// NewNotifyAccountTask constructs an Asynq task.
func NewNotifyAccountTask(payload NotifyAccountPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotifyAccount, data), nil
}

// NewNotifyAccountHandler processes TaskTypeNotifyAccount tasks by
// publishing to the notification exchange.
func NewNotifyAccountHandler(publisher notify.Publisher, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload NotifyAccountPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		err := publisher.Publish(ctx, "account.notification", notify.Event{
			AccountID: payload.AccountID.String(),
			Message:   payload.Message,
		})
		if err != nil {
			logger.Warn("publish notification", slog.Any("error", err))
			return err
		}
		return nil
	}
}

// ReconcileTransferPayload records a transfer pending manual reconciliation.
type ReconcileTransferPayload struct {
	FromAccountID uuid.UUID `json:"from_account_id"`
	ToAccountID   uuid.UUID `json:"to_account_id"`
	Amount        string    `json:"amount"`
	Reason        string    `json:"reason"`
}

// NewReconcileTransferTask constructs an Asynq task.
func NewReconcileTransferTask(payload ReconcileTransferPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeReconcileTransfer, data), nil
}

// NewReconcileTransferHandler persists the unreconciled transfer so
// operators can work the queue even across restarts.
func NewReconcileTransferHandler(pool *pgxpool.Pool, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReconcileTransferPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		_, err := pool.Exec(ctx,
			`INSERT INTO unreconciled_transfers (from_account_id, to_account_id, amount, reason, recorded_at)
			 VALUES ($1, $2, $3, $4, NOW())`,
			payload.FromAccountID, payload.ToAccountID, payload.Amount, payload.Reason)
		if err != nil {
			return err
		}
		logger.Error("unreconciled transfer recorded",
			slog.String("from", payload.FromAccountID.String()),
			slog.String("to", payload.ToAccountID.String()),
			slog.String("amount", payload.Amount))
		return nil
	}
}

// NewLedgerScanTask constructs the cron task that surfaces stale work.
func NewLedgerScanTask() *asynq.Task {
	return asynq.NewTask(TaskTypeLedgerScan, nil)
}

// NewLedgerScanHandler reports PENDING transactions older than the
// threshold and open unreconciled transfers.
func NewLedgerScanHandler(pool *pgxpool.Pool, logger *slog.Logger, pendingAfter time.Duration) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		cutoff := time.Now().Add(-pendingAfter)

		var stale int
		if err := pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM transactions WHERE status = 'PENDING' AND created_at < $1`,
			cutoff).Scan(&stale); err != nil {
			return err
		}
		var open int
		if err := pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM unreconciled_transfers WHERE resolved_at IS NULL`).Scan(&open); err != nil {
			return err
		}

		if stale > 0 || open > 0 {
			logger.Warn("ledger scan found work",
				slog.Int("stale_pending", stale),
				slog.Int("unreconciled_open", open))
		}
		return nil
	}
}

// NewIdempotencyCleanupTask constructs the cron task for key pruning.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeIdempotencyCleanup, nil)
}

// NewIdempotencyCleanupHandler prunes keys older than retention.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, retention time.Duration) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		return store.Cleanup(ctx, retention)
	}
}
