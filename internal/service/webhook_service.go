package service

import (
	"context"
	"strings"
	"time"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/pkg/apperror"

	"github.com/rs/zerolog"
)

// webhookEventTTL is how long a processed gateway event id is remembered.
const webhookEventTTL = 24 * time.Hour

// webhookReconciler implements ports.WebhookReconciler.
type webhookReconciler struct {
	orders ports.PaymentOrderService
	dedup  ports.EventDeduplicator
	log    zerolog.Logger
}

// NewWebhookReconciler creates the inbound gateway event handler.
func NewWebhookReconciler(
	orders ports.PaymentOrderService,
	dedup ports.EventDeduplicator,
	log zerolog.Logger,
) ports.WebhookReconciler {
	return &webhookReconciler{
		orders: orders,
		dedup:  dedup,
		log:    log,
	}
}

// HandleEvent applies a verified gateway event to its payment order. It
// returns nil, nil for events that need no work (duplicates, dummy orders).
// When processing fails for a reason a redelivery could fix, the event id is
// released so the gateway's next attempt is processed.
func (s *webhookReconciler) HandleEvent(ctx context.Context, evt ports.WebhookEvent) (*domain.PaymentOrder, error) {
	logger := s.log.With().
		Str("event_id", evt.EventID).
		Str("event", evt.EventType).
		Str("gateway_order_id", evt.GatewayOrderID).
		Logger()

	if strings.HasPrefix(evt.GatewayOrderID, domain.DummyOrderPrefix) {
		logger.Info().Msg("webhook: event for dummy order ignored")
		return nil, nil
	}

	fresh, err := s.dedup.MarkSeen(ctx, evt.EventID, webhookEventTTL)
	if err != nil {
		// MarkOrderStatus is idempotent, so a dedup outage only costs work.
		logger.Warn().Err(err).Msg("webhook: event dedup unavailable, processing anyway")
		fresh = true
	}
	if !fresh {
		logger.Debug().Msg("webhook: duplicate event acknowledged")
		return nil, nil
	}

	order, err := s.orders.MarkOrderStatus(ctx, ports.MarkOrderStatusRequest{
		GatewayOrderID: evt.GatewayOrderID,
		Status:         evt.Status,
		PaymentDetails: []domain.PaymentDetail{{
			Source:     "webhook",
			Event:      evt.EventType,
			PaymentID:  evt.PaymentID,
			Status:     evt.RawStatus,
			Amount:     evt.Amount,
			ReceivedAt: time.Now().UTC(),
			Raw:        evt.Raw,
		}},
	})
	if err != nil {
		switch {
		case apperror.Is(err, apperror.CodeInvalidTransition):
			logger.Warn().Err(err).Msg("webhook: event conflicts with terminal order status")
		case apperror.Is(err, apperror.CodeUnrecognizedOrder):
			logger.Warn().Msg("webhook: event for unknown order")
			s.release(ctx, evt.EventID)
		default:
			logger.Error().Err(err).Msg("webhook: processing failed")
			s.release(ctx, evt.EventID)
		}
		return nil, err
	}

	logger.Info().Str("status", string(order.Status)).Msg("webhook: event applied")
	return order, nil
}

func (s *webhookReconciler) release(ctx context.Context, eventID string) {
	if err := s.dedup.Forget(ctx, eventID); err != nil {
		s.log.Warn().Err(err).Str("event_id", eventID).Msg("webhook: failed to release event id")
	}
}
