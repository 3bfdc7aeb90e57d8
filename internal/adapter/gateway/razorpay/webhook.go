package razorpay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
)

// Webhook event names that resolve an order.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventOrderPaid       = "order.paid"
)

// ErrMissingOrderID is returned for events that carry no order reference.
var ErrMissingOrderID = errors.New("webhook payload has no order id")

type webhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity orderEntity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// StatusForEvent maps a gateway event name onto the local order status.
// Events that do not settle the order map to CREATED.
func StatusForEvent(event string) domain.PaymentOrderStatus {
	switch event {
	case EventPaymentCaptured, EventOrderPaid:
		return domain.PaymentOrderPaid
	case EventPaymentFailed:
		return domain.PaymentOrderFailed
	default:
		return domain.PaymentOrderCreated
	}
}

// ParseWebhookEvent decodes a verified webhook body. When the delivery carries
// no event id header, the body digest stands in for it.
func ParseWebhookEvent(eventID string, body []byte) (ports.WebhookEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return ports.WebhookEvent{}, fmt.Errorf("decode webhook: %w", err)
	}
	if p.Event == "" {
		return ports.WebhookEvent{}, errors.New("webhook payload has no event name")
	}

	evt := ports.WebhookEvent{
		EventID:   eventID,
		EventType: p.Event,
		Status:    StatusForEvent(p.Event),
		Raw:       body,
	}
	if evt.EventID == "" {
		sum := sha256.Sum256(body)
		evt.EventID = hex.EncodeToString(sum[:])
	}

	if pay := p.Payload.Payment; pay != nil {
		evt.GatewayOrderID = pay.Entity.OrderID
		evt.PaymentID = pay.Entity.ID
		evt.Amount = pay.Entity.Amount
		evt.RawStatus = pay.Entity.Status
	}
	if ord := p.Payload.Order; ord != nil {
		if evt.GatewayOrderID == "" {
			evt.GatewayOrderID = ord.Entity.ID
		}
		if evt.Amount == 0 {
			evt.Amount = ord.Entity.AmountPaid
		}
		if evt.RawStatus == "" {
			evt.RawStatus = ord.Entity.Status
		}
	}
	if evt.GatewayOrderID == "" {
		return ports.WebhookEvent{}, ErrMissingOrderID
	}
	return evt, nil
}
