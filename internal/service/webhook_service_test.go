package service

import (
	"context"
	"errors"
	"testing"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/internal/core/ports/mocks"
	"settlement-engine/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type webhookTestDeps struct {
	svc    ports.WebhookReconciler
	orders *mocks.MockPaymentOrderService
	dedup  *mocks.MockEventDeduplicator
}

func setupWebhookReconciler(t *testing.T) *webhookTestDeps {
	ctrl := gomock.NewController(t)
	d := &webhookTestDeps{
		orders: mocks.NewMockPaymentOrderService(ctrl),
		dedup:  mocks.NewMockEventDeduplicator(ctrl),
	}
	d.svc = NewWebhookReconciler(d.orders, d.dedup, zerolog.Nop())
	return d
}

func capturedEvent() ports.WebhookEvent {
	return ports.WebhookEvent{
		EventID:        "evt_1",
		EventType:      "payment.captured",
		GatewayOrderID: "order_A",
		PaymentID:      "pay_1",
		Amount:         50000,
		Status:         domain.PaymentOrderPaid,
		RawStatus:      "captured",
		Raw:            []byte(`{"event":"payment.captured"}`),
	}
}

func TestWebhookReconciler_HandleEvent_Applied(t *testing.T) {
	d := setupWebhookReconciler(t)
	ctx := context.Background()

	d.dedup.EXPECT().MarkSeen(ctx, "evt_1", webhookEventTTL).Return(true, nil)
	d.orders.EXPECT().MarkOrderStatus(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, req ports.MarkOrderStatusRequest) (*domain.PaymentOrder, error) {
			assert.Equal(t, "order_A", req.GatewayOrderID)
			assert.Equal(t, domain.PaymentOrderPaid, req.Status)
			require.Len(t, req.PaymentDetails, 1)
			detail := req.PaymentDetails[0]
			assert.Equal(t, "webhook", detail.Source)
			assert.Equal(t, "payment.captured", detail.Event)
			assert.Equal(t, "pay_1", detail.PaymentID)
			assert.Equal(t, "captured", detail.Status)
			assert.Equal(t, int64(50000), detail.Amount)
			return &domain.PaymentOrder{GatewayOrderID: "order_A", Status: domain.PaymentOrderPaid}, nil
		})

	order, err := d.svc.HandleEvent(ctx, capturedEvent())
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentOrderPaid, order.Status)
}

func TestWebhookReconciler_HandleEvent_DuplicateIsNoop(t *testing.T) {
	d := setupWebhookReconciler(t)
	ctx := context.Background()

	d.dedup.EXPECT().MarkSeen(ctx, "evt_1", webhookEventTTL).Return(false, nil)

	order, err := d.svc.HandleEvent(ctx, capturedEvent())
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestWebhookReconciler_HandleEvent_DedupDownStillProcesses(t *testing.T) {
	d := setupWebhookReconciler(t)
	ctx := context.Background()

	d.dedup.EXPECT().MarkSeen(ctx, "evt_1", webhookEventTTL).Return(false, errors.New("redis down"))
	d.orders.EXPECT().MarkOrderStatus(ctx, gomock.Any()).Return(&domain.PaymentOrder{Status: domain.PaymentOrderPaid}, nil)

	order, err := d.svc.HandleEvent(ctx, capturedEvent())
	require.NoError(t, err)
	assert.NotNil(t, order)
}

func TestWebhookReconciler_HandleEvent_DummyOrderIgnored(t *testing.T) {
	d := setupWebhookReconciler(t)

	evt := capturedEvent()
	evt.GatewayOrderID = domain.DummyOrderPrefix + "7a1c"

	order, err := d.svc.HandleEvent(context.Background(), evt)
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestWebhookReconciler_HandleEvent_Failures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		released bool
		code     string
	}{
		{"invalid transition keeps the event id", apperror.ErrInvalidTransition("FAILED", "PAID"), false, apperror.CodeInvalidTransition},
		{"unknown order releases the event id", apperror.ErrUnrecognizedOrder("order_A"), true, apperror.CodeUnrecognizedOrder},
		{"internal failure releases the event id", apperror.InternalError(errors.New("db down")), true, apperror.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupWebhookReconciler(t)
			ctx := context.Background()

			d.dedup.EXPECT().MarkSeen(ctx, "evt_1", webhookEventTTL).Return(true, nil)
			d.orders.EXPECT().MarkOrderStatus(ctx, gomock.Any()).Return(nil, tt.err)
			if tt.released {
				d.dedup.EXPECT().Forget(ctx, "evt_1").Return(nil)
			}

			order, err := d.svc.HandleEvent(ctx, capturedEvent())
			assert.Nil(t, order)
			assertAppError(t, err, tt.code)
		})
	}
}
