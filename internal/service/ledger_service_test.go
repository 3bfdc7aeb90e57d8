package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/internal/core/ports/mocks"
	"settlement-engine/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type ledgerTestDeps struct {
	svc         *LedgerServiceImpl
	balanceRepo *mocks.MockBalanceRepository
	ledgerRepo  *mocks.MockLedgerRepository
	idempCache  *mocks.MockIdempotencyCache
	transactor  *mocks.MockDBTransactor
	ctrl        *gomock.Controller
}

func setupLedgerService(t *testing.T) *ledgerTestDeps {
	ctrl := gomock.NewController(t)
	d := &ledgerTestDeps{
		balanceRepo: mocks.NewMockBalanceRepository(ctrl),
		ledgerRepo:  mocks.NewMockLedgerRepository(ctrl),
		idempCache:  mocks.NewMockIdempotencyCache(ctrl),
		transactor:  mocks.NewMockDBTransactor(ctrl),
		ctrl:        ctrl,
	}
	d.svc = NewLedgerService(d.balanceRepo, d.ledgerRepo, d.idempCache, d.transactor, zerolog.Nop())
	return d
}

// mockTx implements pgx.Tx for testing and counts how it was finished.
type mockTx struct {
	pgx.Tx
	commits   int
	rollbacks int
}

func (m *mockTx) Rollback(_ context.Context) error { m.rollbacks++; return nil }
func (m *mockTx) Commit(_ context.Context) error   { m.commits++; return nil }

func creditRequest(ref string, amount int64) ports.LedgerEntryRequest {
	return ports.LedgerEntryRequest{
		UserID:        "user_1",
		Amount:        amount,
		Direction:     domain.DirectionCredit,
		Reason:        "wallet top-up",
		ReferenceID:   ref,
		ReferenceType: domain.ReferenceOrder,
	}
}

func TestLedgerService_ApplyLedgerEntry_Credit(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	tx := &mockTx{}
	key := domain.BuildLedgerCacheKey(domain.ReferenceOrder, "order_1")

	d.idempCache.EXPECT().Get(ctx, key).Return(nil, nil)
	d.ledgerRepo.EXPECT().GetByReference(ctx, "order_1", domain.ReferenceOrder).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.balanceRepo.EXPECT().Adjust(ctx, tx, "user_1", int64(50000), int64(0)).Return(int64(75000), nil)
	d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ pgx.Tx, e *domain.LedgerTransaction) (*domain.LedgerTransaction, bool, error) {
			return e, true, nil
		})
	d.idempCache.EXPECT().Set(ctx, key, gomock.Any(), idempotencyTTL).Return(nil)

	entry, created, err := d.svc.ApplyLedgerEntry(ctx, creditRequest("order_1", 50000))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.LedgerTransactionID(domain.ReferenceOrder, "order_1"), entry.ID)
	assert.Equal(t, domain.DirectionCredit, entry.Direction)
	assert.Equal(t, int64(50000), entry.Amount)
	assert.Equal(t, int64(75000), entry.ResultingBalance)
	assert.Equal(t, 1, tx.commits)
}

func TestLedgerService_ApplyLedgerEntry_DebitInsufficientFunds(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	tx := &mockTx{}

	req := ports.LedgerEntryRequest{
		UserID:        "user_1",
		Amount:        900,
		Direction:     domain.DirectionDebit,
		ReferenceID:   "c0ffee",
		ReferenceType: domain.ReferenceSessionCharge,
	}

	d.idempCache.EXPECT().Get(ctx, gomock.Any()).Return(nil, nil)
	d.ledgerRepo.EXPECT().GetByReference(ctx, "c0ffee", domain.ReferenceSessionCharge).Return(nil, nil).Times(2)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.balanceRepo.EXPECT().Adjust(ctx, tx, "user_1", int64(-900), int64(0)).Return(int64(0), ports.ErrInsufficientFunds)

	entry, created, err := d.svc.ApplyLedgerEntry(ctx, req)
	assert.Nil(t, entry)
	assert.False(t, created)
	assertAppError(t, err, apperror.CodeInsufficientBalance)
	assert.Zero(t, tx.commits)
}

func TestLedgerService_ApplyLedgerEntry_DebitRaceLostToDuplicate(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	tx := &mockTx{}

	winner := &domain.LedgerTransaction{
		ID:            domain.LedgerTransactionID(domain.ReferenceSessionCharge, "c0ffee"),
		Direction:     domain.DirectionDebit,
		Amount:        900,
		ReferenceID:   "c0ffee",
		ReferenceType: domain.ReferenceSessionCharge,
	}

	d.idempCache.EXPECT().Get(ctx, gomock.Any()).Return(nil, nil)
	gomock.InOrder(
		d.ledgerRepo.EXPECT().GetByReference(ctx, "c0ffee", domain.ReferenceSessionCharge).Return(nil, nil),
		d.ledgerRepo.EXPECT().GetByReference(ctx, "c0ffee", domain.ReferenceSessionCharge).Return(winner, nil),
	)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.balanceRepo.EXPECT().Adjust(ctx, tx, "user_1", int64(-900), int64(0)).Return(int64(0), ports.ErrInsufficientFunds)

	entry, created, err := d.svc.ApplyLedgerEntry(ctx, ports.LedgerEntryRequest{
		UserID:        "user_1",
		Amount:        900,
		Direction:     domain.DirectionDebit,
		ReferenceID:   "c0ffee",
		ReferenceType: domain.ReferenceSessionCharge,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner, entry)
}

func TestLedgerService_ApplyLedgerEntry_RedisHit(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()

	cached := &domain.LedgerTransaction{
		ID:        domain.LedgerTransactionID(domain.ReferenceOrder, "order_1"),
		UserID:    "user_1",
		Direction: domain.DirectionCredit,
		Amount:    50000,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	raw, _ := json.Marshal(cached)

	d.idempCache.EXPECT().Get(ctx, "ORDER:order_1").Return(raw, nil)

	entry, created, err := d.svc.ApplyLedgerEntry(ctx, creditRequest("order_1", 50000))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, cached.ID, entry.ID)
	assert.Equal(t, cached.CreatedAt, entry.CreatedAt)
}

func TestLedgerService_ApplyLedgerEntry_RedisDownDBHit(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()

	existing := &domain.LedgerTransaction{ID: domain.LedgerTransactionID(domain.ReferenceOrder, "order_1"), Amount: 50000}

	d.idempCache.EXPECT().Get(ctx, "ORDER:order_1").Return(nil, errors.New("connection refused"))
	d.ledgerRepo.EXPECT().GetByReference(ctx, "order_1", domain.ReferenceOrder).Return(existing, nil)
	d.idempCache.EXPECT().Set(ctx, "ORDER:order_1", gomock.Any(), idempotencyTTL).Return(errors.New("connection refused"))

	entry, created, err := d.svc.ApplyLedgerEntry(ctx, creditRequest("order_1", 50000))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing, entry)
}

func TestLedgerService_ApplyLedgerEntry_CorruptCacheFallsThrough(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()

	existing := &domain.LedgerTransaction{ID: domain.LedgerTransactionID(domain.ReferenceOrder, "order_1")}

	d.idempCache.EXPECT().Get(ctx, "ORDER:order_1").Return([]byte("{not json"), nil)
	d.ledgerRepo.EXPECT().GetByReference(ctx, "order_1", domain.ReferenceOrder).Return(existing, nil)
	d.idempCache.EXPECT().Set(ctx, "ORDER:order_1", gomock.Any(), idempotencyTTL).Return(nil)

	entry, created, err := d.svc.ApplyLedgerEntry(ctx, creditRequest("order_1", 50000))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing.ID, entry.ID)
}

func TestLedgerService_ApplyLedgerEntry_ConcurrentDuplicateRolledBack(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	tx := &mockTx{}

	winner := &domain.LedgerTransaction{
		ID:               domain.LedgerTransactionID(domain.ReferenceOrder, "order_1"),
		Amount:           50000,
		ResultingBalance: 50000,
	}

	d.idempCache.EXPECT().Get(ctx, gomock.Any()).Return(nil, nil)
	d.ledgerRepo.EXPECT().GetByReference(ctx, "order_1", domain.ReferenceOrder).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.balanceRepo.EXPECT().Adjust(ctx, tx, "user_1", int64(50000), int64(0)).Return(int64(100000), nil)
	d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any()).Return(winner, false, nil)
	d.idempCache.EXPECT().Set(ctx, gomock.Any(), gomock.Any(), idempotencyTTL).Return(nil)

	entry, created, err := d.svc.ApplyLedgerEntry(ctx, creditRequest("order_1", 50000))
	require.NoError(t, err)
	assert.False(t, created, "the winner's entry is not ours")
	assert.Equal(t, winner, entry)
	assert.Zero(t, tx.commits, "the loser must not commit its balance delta")
	assert.GreaterOrEqual(t, tx.rollbacks, 1)
}

func TestLedgerService_ApplyLedgerEntry_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  ports.LedgerEntryRequest
	}{
		{"zero amount", creditRequest("order_1", 0)},
		{"negative amount", creditRequest("order_1", -5)},
		{"unknown direction", func() ports.LedgerEntryRequest {
			r := creditRequest("order_1", 10)
			r.Direction = "SIDEWAYS"
			return r
		}()},
		{"missing reference", creditRequest("", 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupLedgerService(t)
			entry, created, err := d.svc.ApplyLedgerEntry(context.Background(), tt.req)
			assert.Nil(t, entry)
			assert.False(t, created)
			assertAppError(t, err, apperror.CodeInvalidAmount)
		})
	}
}

func TestLedgerService_ApplyLedgerEntry_BeginFails(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()

	d.idempCache.EXPECT().Get(ctx, gomock.Any()).Return(nil, nil)
	d.ledgerRepo.EXPECT().GetByReference(ctx, gomock.Any(), gomock.Any()).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(nil, errors.New("pool exhausted"))

	_, _, err := d.svc.ApplyLedgerEntry(ctx, creditRequest("order_1", 10))
	assertAppError(t, err, apperror.CodeInternal)
}

func TestLedgerService_GetBalance(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()

	d.balanceRepo.EXPECT().Get(ctx, "user_1").Return(&domain.Balance{UserID: "user_1", Amount: 4200}, nil)
	d.balanceRepo.EXPECT().Get(ctx, "user_new").Return(nil, nil)
	d.balanceRepo.EXPECT().Get(ctx, "user_err").Return(nil, errors.New("boom"))

	b, err := d.svc.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(4200), b)

	b, err = d.svc.GetBalance(ctx, "user_new")
	require.NoError(t, err)
	assert.Zero(t, b)

	_, err = d.svc.GetBalance(ctx, "user_err")
	assertAppError(t, err, apperror.CodeInternal)
}

func TestLedgerService_FindEntry(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()

	charge := &domain.LedgerTransaction{ReferenceID: "c0ffee", ReferenceType: domain.ReferenceSessionCharge, Amount: 300}
	d.ledgerRepo.EXPECT().GetByReference(ctx, "c0ffee", domain.ReferenceSessionCharge).Return(charge, nil)
	d.ledgerRepo.EXPECT().GetByReference(ctx, "orphan", domain.ReferenceSessionCharge).Return(nil, nil)
	d.ledgerRepo.EXPECT().GetByReference(ctx, "broken", domain.ReferenceSessionCharge).Return(nil, errors.New("conn reset"))

	entry, err := d.svc.FindEntry(ctx, "c0ffee", domain.ReferenceSessionCharge)
	require.NoError(t, err)
	assert.Equal(t, charge, entry)

	entry, err = d.svc.FindEntry(ctx, "orphan", domain.ReferenceSessionCharge)
	require.NoError(t, err)
	assert.Nil(t, entry)

	_, err = d.svc.FindEntry(ctx, "broken", domain.ReferenceSessionCharge)
	assertAppError(t, err, apperror.CodeInternal)
}

func TestLedgerService_ListTransactions_ClampsLimit(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()

	d.ledgerRepo.EXPECT().ListByUser(ctx, "user_1", defaultHistoryLimit).Return(nil, nil)
	d.ledgerRepo.EXPECT().ListByUser(ctx, "user_1", maxHistoryLimit).Return([]domain.LedgerTransaction{{Amount: 1}}, nil)

	_, err := d.svc.ListTransactions(ctx, "user_1", 0)
	require.NoError(t, err)

	entries, err := d.svc.ListTransactions(ctx, "user_1", 10000)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}
