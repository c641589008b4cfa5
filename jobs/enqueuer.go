package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

// Enqueuer is the injected task-queue handle the services use for deferred
// work. It is owned by the process lifecycle and passed down explicitly;
// there is no package-level scheduler.
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer constructs an Enqueuer around an Asynq client.
func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

// Notify queues one account notification for asynchronous dispatch.
func (e *Enqueuer) Notify(ctx context.Context, accountID uuid.UUID, message string) error {
	if e == nil || e.client == nil {
		return nil
	}
	task, err := NewNotifyAccountTask(NotifyAccountPayload{AccountID: accountID, Message: message})
	if err != nil {
		return fmt.Errorf("jobs: build notify task: %w", err)
	}
	_, err = e.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(5))
	if err != nil {
		return fmt.Errorf("jobs: enqueue notify: %w", err)
	}
	return nil
}

// EscalateUnreconciled queues a failed reversal for manual reconciliation.
func (e *Enqueuer) EscalateUnreconciled(ctx context.Context, fromID, toID uuid.UUID, amount decimal.Decimal, reason string) error {
	if e == nil || e.client == nil {
		return fmt.Errorf("jobs: enqueuer not configured")
	}
	task, err := NewReconcileTransferTask(ReconcileTransferPayload{
		FromAccountID: fromID,
		ToAccountID:   toID,
		Amount:        amount.String(),
		Reason:        reason,
	})
	if err != nil {
		return fmt.Errorf("jobs: build reconcile task: %w", err)
	}
	_, err = e.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(10))
	if err != nil {
		return fmt.Errorf("jobs: enqueue reconcile: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (e *Enqueuer) Close() error {
	if e == nil || e.client == nil {
		return nil
	}
	return e.client.Close()
}
