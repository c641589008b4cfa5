package ledger

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-bank/meridian/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]Transaction
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[uuid.UUID]Transaction)}
}

func (m *memoryRepo) Create(_ context.Context, t *Transaction) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[t.ID] = *t
	cp := *t
	return &cp, nil
}

func (m *memoryRepo) Get(_ context.Context, id uuid.UUID) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, shared.ErrTransactionNotFound
	}
	cp := rec
	return &cp, nil
}

func (m *memoryRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to TransactionStatus) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, shared.ErrTransactionNotFound
	}
	if rec.Status != from {
		return nil, shared.ErrInvalidStateTransition
	}
	rec.Status = to
	m.records[id] = rec
	cp := rec
	return &cp, nil
}

func (m *memoryRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return shared.ErrTransactionNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *memoryRepo) ListForAccount(_ context.Context, accountID uuid.UUID) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for _, rec := range m.records {
		if rec.SenderAccountID == accountID || rec.ReceiverAccountID == accountID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// fakeGateway tracks per-account deltas applied through compensation, and can
// fail the receiver-side debit to exercise the partial-compensation path.
type fakeGateway struct {
	mu          sync.Mutex
	known       map[uuid.UUID]bool
	deltas      map[uuid.UUID]decimal.Decimal
	failDeduct  map[uuid.UUID]error
	deductCalls []uuid.UUID
}

func newFakeGateway(ids ...uuid.UUID) *fakeGateway {
	g := &fakeGateway{
		known:      make(map[uuid.UUID]bool),
		deltas:     make(map[uuid.UUID]decimal.Decimal),
		failDeduct: make(map[uuid.UUID]error),
	}
	for _, id := range ids {
		g.known[id] = true
	}
	return g
}

func (g *fakeGateway) AccountExists(_ context.Context, id uuid.UUID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.known[id], nil
}

func (g *fakeGateway) AddFunds(_ context.Context, id uuid.UUID, amount decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deltas[id] = g.deltas[id].Add(amount)
	return nil
}

func (g *fakeGateway) DeductFunds(_ context.Context, id uuid.UUID, amount decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deductCalls = append(g.deductCalls, id)
	if err := g.failDeduct[id]; err != nil {
		return err
	}
	g.deltas[id] = g.deltas[id].Sub(amount)
	return nil
}

func (g *fakeGateway) delta(id uuid.UUID) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deltas[id]
}

// fakeQueue captures reconciliation escalations.
type fakeQueue struct {
	mu      sync.Mutex
	calls   int
	reasons []string
}

func (q *fakeQueue) EscalateUnreconciled(_ context.Context, _, _ uuid.UUID, _ decimal.Decimal, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	q.reasons = append(q.reasons, reason)
	return nil
}

func newLedger(t *testing.T) (*Service, *memoryRepo, *fakeGateway, uuid.UUID, uuid.UUID) {
	t.Helper()
	sender := uuid.New()
	receiver := uuid.New()
	repo := newMemoryRepo()
	gateway := newFakeGateway(sender, receiver)
	return NewService(slog.Default(), repo, gateway, nil), repo, gateway, sender, receiver
}

func mustCreate(t *testing.T, s *Service, sender, receiver uuid.UUID, amount int64) *Transaction {
	t.Helper()
	rec, err := s.Create(context.Background(), CreateTransactionInput{
		SenderAccountID:   sender,
		ReceiverAccountID: receiver,
		Amount:            decimal.NewFromInt(amount),
		Type:              TypeTransfer,
	})
	require.NoError(t, err)
	return rec
}

func TestCreateTransaction(t *testing.T) {
	svc, _, _, sender, receiver := newLedger(t)
	ctx := context.Background()

	rec := mustCreate(t, svc, sender, receiver, 100)
	require.Equal(t, StatusPending, rec.Status)
	require.Equal(t, MethodInternal, rec.PaymentMethod)
	require.NotEmpty(t, rec.ReferenceID)
	require.Regexp(t, `^TXN-\d{14}-[0-9a-f]{8}$`, rec.ReferenceID)

	_, err := svc.Create(ctx, CreateTransactionInput{
		SenderAccountID:   sender,
		ReceiverAccountID: receiver,
		Amount:            decimal.Zero,
		Type:              TypeTransfer,
	})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = svc.Create(ctx, CreateTransactionInput{
		SenderAccountID:   uuid.New(),
		ReceiverAccountID: receiver,
		Amount:            decimal.NewFromInt(10),
		Type:              TypeTransfer,
	})
	require.ErrorIs(t, err, shared.ErrAccountNotFound)

	_, err = svc.Create(ctx, CreateTransactionInput{
		SenderAccountID:   sender,
		ReceiverAccountID: receiver,
		Amount:            decimal.NewFromInt(10),
		Type:              TransactionType("REFUND"),
	})
	require.Error(t, err)
}

func TestStatusStateMachine(t *testing.T) {
	svc, _, _, sender, receiver := newLedger(t)
	ctx := context.Background()

	rec := mustCreate(t, svc, sender, receiver, 100)

	completed, err := svc.Complete(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)

	// Terminal records reject every further transition.
	_, err = svc.Complete(ctx, rec.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	_, err = svc.Cancel(ctx, rec.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	_, err = svc.UpdateStatus(ctx, rec.ID, StatusPending)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	_, err = svc.Complete(ctx, uuid.New())
	require.ErrorIs(t, err, shared.ErrTransactionNotFound)
}

func TestCancelReversesTransfer(t *testing.T) {
	svc, _, gateway, sender, receiver := newLedger(t)
	ctx := context.Background()

	rec := mustCreate(t, svc, sender, receiver, 100)

	cancelled, err := svc.Cancel(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	// Sender re-credited, receiver re-debited.
	require.True(t, gateway.delta(sender).Equal(decimal.NewFromInt(100)))
	require.True(t, gateway.delta(receiver).Equal(decimal.NewFromInt(-100)))

	// A second cancel finds a terminal record and must not compensate again.
	_, err = svc.Cancel(ctx, rec.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	require.True(t, gateway.delta(sender).Equal(decimal.NewFromInt(100)))
}

func TestCancelNonTransferSkipsCompensation(t *testing.T) {
	svc, _, gateway, sender, receiver := newLedger(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateTransactionInput{
		SenderAccountID:   sender,
		ReceiverAccountID: receiver,
		Amount:            decimal.NewFromInt(40),
		Type:              TypePayment,
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.True(t, gateway.delta(sender).IsZero())
	require.True(t, gateway.delta(receiver).IsZero())
}

func TestCancelPartialCompensationUndone(t *testing.T) {
	svc, repo, gateway, sender, receiver := newLedger(t)
	ctx := context.Background()

	rec := mustCreate(t, svc, sender, receiver, 100)

	// Receiver debit fails; the sender credit must be undone and the record
	// stays PENDING so the cancel can be retried.
	gateway.failDeduct[receiver] = shared.ErrInsufficientFunds

	_, err := svc.Cancel(ctx, rec.ID)
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)

	require.True(t, gateway.delta(sender).IsZero())
	require.True(t, gateway.delta(receiver).IsZero())

	stored, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)

	// Retry succeeds once the receiver can cover the debit.
	gateway.failDeduct = map[uuid.UUID]error{}
	cancelled, err := svc.Cancel(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.True(t, gateway.delta(sender).Equal(decimal.NewFromInt(100)))
	require.True(t, gateway.delta(receiver).Equal(decimal.NewFromInt(-100)))
}

func TestCancelDoubleFailureEscalates(t *testing.T) {
	svc, repo, gateway, sender, receiver := newLedger(t)
	queue := &fakeQueue{}
	svc.reconcile = queue
	ctx := context.Background()

	rec := mustCreate(t, svc, sender, receiver, 100)

	// Both the receiver debit and the undo of the sender credit fail:
	// balances are known-inconsistent and the failure must reach the
	// reconciliation queue, not just the log.
	gateway.failDeduct[receiver] = shared.ErrInsufficientFunds
	gateway.failDeduct[sender] = shared.ErrAccountLocked

	_, err := svc.Cancel(ctx, rec.ID)
	require.ErrorIs(t, err, shared.ErrUnreconciledTransfer)

	queue.mu.Lock()
	require.Equal(t, 1, queue.calls)
	require.Contains(t, queue.reasons[0], rec.ID.String())
	queue.mu.Unlock()

	// The record stays PENDING for the manual retry.
	stored, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
}

func TestListAndDelete(t *testing.T) {
	svc, _, _, sender, receiver := newLedger(t)
	ctx := context.Background()

	first := mustCreate(t, svc, sender, receiver, 10)
	second := mustCreate(t, svc, receiver, sender, 20)

	listed, err := svc.ListForAccount(ctx, sender)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	require.NoError(t, svc.Delete(ctx, first.ID))
	_, err = svc.Get(ctx, first.ID)
	require.ErrorIs(t, err, shared.ErrTransactionNotFound)

	listed, err = svc.ListForAccount(ctx, sender)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, second.ID, listed[0].ID)
}
