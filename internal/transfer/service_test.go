package transfer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-bank/meridian/internal/accounts"
	"github.com/meridian-bank/meridian/internal/ledger"
	"github.com/meridian-bank/meridian/internal/shared"
)

// memStore mirrors the persistent store's optimistic versioning: every save
// checks the version and bumps it, and SavePair applies both rows or neither.
type memStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]accounts.Account
	failSave error
}

func newMemStore() *memStore {
	return &memStore{accounts: make(map[uuid.UUID]accounts.Account)}
}

func (m *memStore) put(a accounts.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.Version == 0 {
		a.Version = 1
	}
	m.accounts[a.ID] = a
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.accounts[id]
	if !ok {
		return nil, shared.ErrAccountNotFound
	}
	cp := stored
	return &cp, nil
}

func (m *memStore) SavePair(_ context.Context, a, b *accounts.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	for _, acc := range []*accounts.Account{a, b} {
		stored, ok := m.accounts[acc.ID]
		if !ok {
			return shared.ErrAccountNotFound
		}
		if stored.Version != acc.Version {
			return shared.ErrVersionConflict
		}
	}
	for _, acc := range []*accounts.Account{a, b} {
		acc.Version++
		m.accounts[acc.ID] = *acc
	}
	return nil
}

func (m *memStore) balance(id uuid.UUID) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].Balance
}

// fakeLedger implements LedgerClient with injectable failures.
type fakeLedger struct {
	mu           sync.Mutex
	records      map[uuid.UUID]*ledger.Transaction
	failCreate   error
	failComplete error
	failDelete   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[uuid.UUID]*ledger.Transaction)}
}

func (f *fakeLedger) Create(_ context.Context, input ledger.CreateTransactionInput) (*ledger.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	rec := &ledger.Transaction{
		ID:                uuid.New(),
		SenderAccountID:   input.SenderAccountID,
		ReceiverAccountID: input.ReceiverAccountID,
		Amount:            input.Amount,
		Type:              input.Type,
		Status:            ledger.StatusPending,
		PaymentMethod:     input.PaymentMethod,
		Description:       input.Description,
		ReferenceID:       "TXN-TEST-" + uuid.NewString()[:8],
	}
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeLedger) Complete(_ context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failComplete != nil {
		return nil, f.failComplete
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, shared.ErrTransactionNotFound
	}
	rec.Status = ledger.StatusCompleted
	return rec, nil
}

func (f *fakeLedger) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete != nil {
		return f.failDelete
	}
	if _, ok := f.records[id]; !ok {
		return shared.ErrTransactionNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeLedger) stored() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: make(map[string]bool)}
}

func (f *fakeIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = true
	return nil
}

func (f *fakeIdempotency) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

func (f *fakeIdempotency) claimed(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[key]
}

type recordingSink struct {
	mu     sync.Mutex
	events []shared.AuditEvent
}

func (r *recordingSink) Record(_ context.Context, event shared.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) byType(eventType string) []shared.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.AuditEvent
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeEscalator struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeEscalator) EscalateUnreconciled(_ context.Context, _, _ uuid.UUID, _ decimal.Decimal, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

type transferFixture struct {
	svc       *Service
	store     *memStore
	ledger    *fakeLedger
	idem      *fakeIdempotency
	escalator *fakeEscalator
	from      uuid.UUID
	to        uuid.UUID
}

func newFixture(t *testing.T, fromBalance, toBalance int64) *transferFixture {
	t.Helper()
	store := newMemStore()
	from := accounts.Account{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		Type:       accounts.TypeChecking,
		Status:     accounts.StatusActive,
		Balance:    decimal.NewFromInt(fromBalance),
	}
	to := accounts.Account{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		Type:       accounts.TypeSavings,
		Status:     accounts.StatusActive,
		Balance:    decimal.NewFromInt(toBalance),
	}
	store.put(from)
	store.put(to)

	fl := newFakeLedger()
	idem := newFakeIdempotency()
	esc := &fakeEscalator{}
	svc := NewService(slog.Default(), store, fl, nil, nil, idem, esc, nil)
	svc.backoff = 0
	return &transferFixture{svc: svc, store: store, ledger: fl, idem: idem, escalator: esc, from: from.ID, to: to.ID}
}

func (fx *transferFixture) mutateAccount(t *testing.T, id uuid.UUID, fn func(*accounts.Account)) {
	t.Helper()
	fx.store.mu.Lock()
	defer fx.store.mu.Unlock()
	a, ok := fx.store.accounts[id]
	require.True(t, ok)
	fn(&a)
	fx.store.accounts[id] = a
}

func TestTransferMovesFunds(t *testing.T) {
	fx := newFixture(t, 500, 100)
	ctx := context.Background()

	rec, err := fx.svc.TransferFunds(ctx, Request{
		FromAccountID: fx.from,
		ToAccountID:   fx.to,
		Amount:        decimal.NewFromInt(200),
		Description:   "rent",
	})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusCompleted, rec.Status)
	require.NotEmpty(t, rec.ReferenceID)

	require.True(t, fx.store.balance(fx.from).Equal(decimal.NewFromInt(300)))
	require.True(t, fx.store.balance(fx.to).Equal(decimal.NewFromInt(300)))
}

func TestTransferValidation(t *testing.T) {
	fx := newFixture(t, 500, 0)
	ctx := context.Background()

	_, err := fx.svc.TransferFunds(ctx, Request{ToAccountID: fx.to, Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, shared.ErrAccountNotFound)

	_, err = fx.svc.TransferFunds(ctx, Request{FromAccountID: fx.from, ToAccountID: fx.to, Amount: decimal.Zero})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = fx.svc.TransferFunds(ctx, Request{FromAccountID: fx.from, ToAccountID: fx.from, Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, shared.ErrSelfTransfer)

	_, err = fx.svc.TransferFunds(ctx, Request{FromAccountID: fx.from, ToAccountID: uuid.New(), Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, shared.ErrAccountNotFound)

	// Nothing moved through any of those.
	require.True(t, fx.store.balance(fx.from).Equal(decimal.NewFromInt(500)))
}

func TestTransferBalanceGuard(t *testing.T) {
	fx := newFixture(t, 100, 0)
	ctx := context.Background()

	// The full balance can leave the account.
	_, err := fx.svc.TransferFunds(ctx, Request{FromAccountID: fx.from, ToAccountID: fx.to, Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	require.True(t, fx.store.balance(fx.from).IsZero())

	// One cent more than the balance is rejected.
	_, err = fx.svc.TransferFunds(ctx, Request{FromAccountID: fx.from, ToAccountID: fx.to, Amount: decimal.RequireFromString("0.01")})
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)
}

func TestTransferOverdraftHeadroom(t *testing.T) {
	fx := newFixture(t, 100, 0)
	ctx := context.Background()

	fx.mutateAccount(t, fx.from, func(a *accounts.Account) {
		a.OverdraftProtection = true
		a.OverdraftLimit = decimal.NewFromInt(50)
	})

	_, err := fx.svc.TransferFunds(ctx, Request{FromAccountID: fx.from, ToAccountID: fx.to, Amount: decimal.NewFromInt(150)})
	require.NoError(t, err)
	require.True(t, fx.store.balance(fx.from).Equal(decimal.NewFromInt(-50)))

	// The floor is reached; the limit is never consumed as spendable balance.
	_, err = fx.svc.TransferFunds(ctx, Request{FromAccountID: fx.from, ToAccountID: fx.to, Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)
}

func TestTransferFrozenParties(t *testing.T) {
	fx := newFixture(t, 500, 0)
	ctx := context.Background()

	fx.mutateAccount(t, fx.to, func(a *accounts.Account) { a.Status = accounts.StatusFrozen })

	// A frozen receiver fails with the lock error, not insufficient funds.
	_, err := fx.svc.TransferFunds(ctx, Request{FromAccountID: fx.from, ToAccountID: fx.to, Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, shared.ErrAccountLocked)
	require.True(t, fx.store.balance(fx.from).Equal(decimal.NewFromInt(500)))

	fx.mutateAccount(t, fx.to, func(a *accounts.Account) { a.Status = accounts.StatusActive })
	fx.mutateAccount(t, fx.from, func(a *accounts.Account) { a.Status = accounts.StatusClosed })

	_, err = fx.svc.TransferFunds(ctx, Request{FromAccountID: fx.from, ToAccountID: fx.to, Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, shared.ErrAccountClosed)
}

func TestTransferConservationUnderConcurrency(t *testing.T) {
	fx := newFixture(t, 50, 0)

	var g errgroup.Group
	results := make([]error, 10)
	for i := 0; i < 10; i++ {
		i := i
		g.Go(func() error {
			_, err := fx.svc.TransferFunds(context.Background(), Request{
				FromAccountID: fx.from,
				ToAccountID:   fx.to,
				Amount:        decimal.NewFromInt(10),
			})
			results[i] = err
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		// Losers fail the guard against a fresh balance or exhaust retries.
		if !errors.Is(err, shared.ErrInsufficientFunds) && !errors.Is(err, shared.ErrVersionConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.LessOrEqual(t, succeeded, 5)

	fromBal := fx.store.balance(fx.from)
	toBal := fx.store.balance(fx.to)
	require.True(t, fromBal.Sign() >= 0, "balance went negative: %s", fromBal)
	require.True(t, fromBal.Equal(decimal.NewFromInt(int64(50-succeeded*10))))
	require.True(t, toBal.Equal(decimal.NewFromInt(int64(succeeded*10))))
	// Money is conserved across both accounts.
	require.True(t, fromBal.Add(toBal).Equal(decimal.NewFromInt(50)))
}

func TestLedgerFailureTriggersReversal(t *testing.T) {
	fx := newFixture(t, 500, 100)
	ctx := context.Background()

	fx.ledger.failCreate = errors.New("ledger down")

	_, err := fx.svc.TransferFunds(ctx, Request{
		FromAccountID:  fx.from,
		ToAccountID:    fx.to,
		Amount:         decimal.NewFromInt(200),
		IdempotencyKey: "req-1",
	})
	require.ErrorIs(t, err, shared.ErrTransientStorage)

	// Balances were reversed to their pre-transfer values.
	require.True(t, fx.store.balance(fx.from).Equal(decimal.NewFromInt(500)))
	require.True(t, fx.store.balance(fx.to).Equal(decimal.NewFromInt(100)))

	// Balances moved during the attempt, so the key stays claimed.
	require.True(t, fx.idem.claimed("req-1"))
	require.Equal(t, 0, fx.escalator.calls)
}

func TestCompleteFailureDiscardsPendingRecord(t *testing.T) {
	fx := newFixture(t, 500, 100)
	ctx := context.Background()

	fx.ledger.failComplete = errors.New("ledger down")

	_, err := fx.svc.TransferFunds(ctx, Request{
		FromAccountID: fx.from,
		ToAccountID:   fx.to,
		Amount:        decimal.NewFromInt(200),
	})
	require.ErrorIs(t, err, shared.ErrTransientStorage)

	require.True(t, fx.store.balance(fx.from).Equal(decimal.NewFromInt(500)))
	require.True(t, fx.store.balance(fx.to).Equal(decimal.NewFromInt(100)))

	// The PENDING record is gone, so a later cancel cannot compensate a
	// transfer whose balances were already reversed.
	require.Equal(t, 0, fx.ledger.stored())
}

func TestOrphanedRecordFlaggedWhenDiscardFails(t *testing.T) {
	fx := newFixture(t, 500, 100)
	sink := &recordingSink{}
	fx.svc.audit = sink
	ctx := context.Background()

	fx.ledger.failComplete = errors.New("ledger down")
	fx.ledger.failDelete = errors.New("ledger still down")

	_, err := fx.svc.TransferFunds(ctx, Request{
		FromAccountID: fx.from,
		ToAccountID:   fx.to,
		Amount:        decimal.NewFromInt(200),
	})
	require.ErrorIs(t, err, shared.ErrTransientStorage)

	// Balances are consistent but the record survives; the surviving record
	// must leave a durable trail for manual voiding.
	require.True(t, fx.store.balance(fx.from).Equal(decimal.NewFromInt(500)))
	require.Equal(t, 1, fx.ledger.stored())

	flagged := sink.byType("ORPHANED_LEDGER_RECORD")
	require.Len(t, flagged, 1)
	require.Equal(t, fx.to.String(), flagged[0].Meta["to_account_id"])
}

func TestLedgerFaultKeepsClassification(t *testing.T) {
	fx := newFixture(t, 500, 100)
	ctx := context.Background()

	// The ledger rejecting the receiver as unknown is a client problem, not
	// a storage outage; the caller must see the original sentinel.
	fx.ledger.failCreate = shared.ErrAccountNotFound

	_, err := fx.svc.TransferFunds(ctx, Request{
		FromAccountID:  fx.from,
		ToAccountID:    fx.to,
		Amount:         decimal.NewFromInt(200),
		IdempotencyKey: "req-5",
	})
	require.ErrorIs(t, err, shared.ErrAccountNotFound)
	require.NotErrorIs(t, err, shared.ErrTransientStorage)

	// The reversal succeeded, so nothing net moved and the key is free.
	require.True(t, fx.store.balance(fx.from).Equal(decimal.NewFromInt(500)))
	require.False(t, fx.idem.claimed("req-5"))
}

func TestTransferInvalidatesBalanceCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fx := newFixture(t, 500, 100)
	cache := accounts.NewBalanceCache(client, time.Minute)
	fx.svc.balances = cache
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, fx.from, decimal.NewFromInt(500)))
	require.NoError(t, cache.Set(ctx, fx.to, decimal.NewFromInt(100)))

	_, err := fx.svc.TransferFunds(ctx, Request{
		FromAccountID: fx.from,
		ToAccountID:   fx.to,
		Amount:        decimal.NewFromInt(200),
	})
	require.NoError(t, err)

	// Both sides were dropped; the next balance read goes to the store.
	_, ok := cache.Get(ctx, fx.from)
	require.False(t, ok, "sender balance still cached after transfer")
	_, ok = cache.Get(ctx, fx.to)
	require.False(t, ok, "receiver balance still cached after transfer")
}

func TestReversalFailureEscalates(t *testing.T) {
	fx := newFixture(t, 500, 100)
	ctx := context.Background()

	fx.ledger.failCreate = errors.New("ledger down")
	// After the balances move, every subsequent save fails, so the
	// compensating reversal cannot land.
	done := false
	fx.svc.store = savePairHook{inner: fx.store, after: func() {
		if !done {
			done = true
			fx.store.mu.Lock()
			fx.store.failSave = errors.New("storage down")
			fx.store.mu.Unlock()
		}
	}}

	_, err := fx.svc.TransferFunds(ctx, Request{
		FromAccountID:  fx.from,
		ToAccountID:    fx.to,
		Amount:         decimal.NewFromInt(200),
		IdempotencyKey: "req-2",
	})
	require.ErrorIs(t, err, shared.ErrUnreconciledTransfer)
	require.Equal(t, 1, fx.escalator.calls)

	// The key must stay claimed: replaying could double-move funds.
	require.True(t, fx.idem.claimed("req-2"))
}

// savePairHook runs a callback after each successful SavePair.
type savePairHook struct {
	inner *memStore
	after func()
}

func (h savePairHook) Get(ctx context.Context, id uuid.UUID) (*accounts.Account, error) {
	return h.inner.Get(ctx, id)
}

func (h savePairHook) SavePair(ctx context.Context, a, b *accounts.Account) error {
	err := h.inner.SavePair(ctx, a, b)
	if err == nil && h.after != nil {
		h.after()
	}
	return err
}

func TestIdempotencyReplay(t *testing.T) {
	fx := newFixture(t, 500, 0)
	ctx := context.Background()

	req := Request{
		FromAccountID:  fx.from,
		ToAccountID:    fx.to,
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "req-3",
	}
	_, err := fx.svc.TransferFunds(ctx, req)
	require.NoError(t, err)

	// Replaying a completed request is rejected without moving funds again.
	_, err = fx.svc.TransferFunds(ctx, req)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.True(t, fx.store.balance(fx.from).Equal(decimal.NewFromInt(400)))
}

func TestIdempotencyKeyReleasedWhenNothingMoved(t *testing.T) {
	fx := newFixture(t, 50, 0)
	ctx := context.Background()

	req := Request{
		FromAccountID:  fx.from,
		ToAccountID:    fx.to,
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "req-4",
	}
	_, err := fx.svc.TransferFunds(ctx, req)
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)
	require.False(t, fx.idem.claimed("req-4"))

	// After funding the account the same key goes through.
	fx.mutateAccount(t, fx.from, func(a *accounts.Account) { a.Balance = decimal.NewFromInt(200) })
	_, err = fx.svc.TransferFunds(ctx, req)
	require.NoError(t, err)
}
