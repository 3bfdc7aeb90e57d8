package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPaymentOrder(id string) *domain.PaymentOrder {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.PaymentOrder{
		GatewayOrderID: id,
		UserID:         "user_1",
		Amount:         50000,
		Currency:       "INR",
		Status:         domain.PaymentOrderCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func paymentOrderRowColumns() []string {
	return []string{"gateway_order_id", "user_id", "amount", "currency", "status",
		"payment_details", "is_dummy", "created_at", "updated_at"}
}

func paymentOrderRow(o *domain.PaymentOrder, details []byte) *pgxmock.Rows {
	return pgxmock.NewRows(paymentOrderRowColumns()).AddRow(
		o.GatewayOrderID, o.UserID, o.Amount, o.Currency, o.Status,
		details, o.IsDummy, o.CreatedAt, o.UpdatedAt,
	)
}

func TestPaymentOrderRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentOrderRepo(mock)
	o := newTestPaymentOrder("order_N1")

	mock.ExpectExec("INSERT INTO payment_orders").
		WithArgs(o.GatewayOrderID, o.UserID, o.Amount, o.Currency, o.Status,
			[]byte("[]"), o.IsDummy, o.CreatedAt, o.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), o)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentOrderRepo_GetByID_DecodesDetails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentOrderRepo(mock)
	o := newTestPaymentOrder("order_N2")
	o.Status = domain.PaymentOrderPaid
	details := []byte(`[{"source":"webhook","event":"payment.captured","payment_id":"pay_1","received_at":"2026-01-02T03:04:05Z"}]`)

	mock.ExpectQuery("SELECT .+ FROM payment_orders WHERE gateway_order_id").
		WithArgs("order_N2").
		WillReturnRows(paymentOrderRow(o, details))

	got, err := repo.GetByID(context.Background(), "order_N2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.PaymentOrderPaid, got.Status)
	require.Len(t, got.PaymentDetails, 1)
	assert.Equal(t, "pay_1", got.PaymentDetails[0].PaymentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentOrderRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentOrderRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM payment_orders WHERE gateway_order_id").
		WithArgs("order_X").
		WillReturnRows(pgxmock.NewRows(paymentOrderRowColumns()))

	got, err := repo.GetByID(context.Background(), "order_X")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestPaymentOrderRepo_GetByIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentOrderRepo(mock)
	o := newTestPaymentOrder("order_N3")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM payment_orders WHERE gateway_order_id = .+ FOR UPDATE").
		WithArgs("order_N3").
		WillReturnRows(paymentOrderRow(o, []byte("[]")))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	got, err := repo.GetByIDForUpdate(context.Background(), dbTx, "order_N3")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.PaymentDetails)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentOrderRepo_UpdateStatus_AppendsDetails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentOrderRepo(mock)
	details := []domain.PaymentDetail{{Source: "reconcile", Status: "captured", PaymentID: "pay_9"}}
	raw, err := json.Marshal(details)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payment_orders").
		WithArgs("order_N4", domain.PaymentOrderPaid, raw).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.UpdateStatus(context.Background(), dbTx, "order_N4", domain.PaymentOrderPaid, details)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentOrderRepo_UpdateStatus_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentOrderRepo(mock)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payment_orders").
		WithArgs("order_gone", domain.PaymentOrderFailed, []byte("[]")).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.UpdateStatus(context.Background(), dbTx, "order_gone", domain.PaymentOrderFailed, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payment order not found")
}

func TestPaymentOrderRepo_List_WithRange(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentOrderRepo(mock)
	o := newTestPaymentOrder("order_N5")
	from := o.CreatedAt.Add(-time.Hour)
	to := o.CreatedAt.Add(time.Hour)

	mock.ExpectQuery("SELECT .+ FROM payment_orders WHERE user_id = .+ AND created_at >= .+ AND created_at <= .+ LIMIT").
		WithArgs("user_1", from, to, 50).
		WillReturnRows(paymentOrderRow(o, []byte("[]")))

	orders, err := repo.List(context.Background(), ports.PaymentOrderListParams{
		UserID: "user_1", From: &from, To: &to, Limit: 50,
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "order_N5", orders[0].GatewayOrderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentOrderRepo_List_UserOnly(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentOrderRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM payment_orders WHERE user_id = \\$1 ORDER BY created_at DESC LIMIT \\$2").
		WithArgs("user_1", 10).
		WillReturnRows(pgxmock.NewRows(paymentOrderRowColumns()))

	orders, err := repo.List(context.Background(), ports.PaymentOrderListParams{UserID: "user_1", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.NoError(t, mock.ExpectationsWereMet())
}
