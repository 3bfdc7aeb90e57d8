package domain

import (
	"encoding/json"
	"time"
)

// PaymentOrderStatus is the lifecycle state of a gateway order.
type PaymentOrderStatus string

const (
	PaymentOrderCreated PaymentOrderStatus = "CREATED"
	PaymentOrderPaid    PaymentOrderStatus = "PAID"
	PaymentOrderFailed  PaymentOrderStatus = "FAILED"
)

// DummyOrderPrefix marks orders credited without a gateway round-trip.
const DummyOrderPrefix = "dummy_"

// IsTerminal returns true for PAID and FAILED.
func (s PaymentOrderStatus) IsTerminal() bool {
	return s == PaymentOrderPaid || s == PaymentOrderFailed
}

// IsValid reports whether s is a known status.
func (s PaymentOrderStatus) IsValid() bool {
	return s == PaymentOrderCreated || s.IsTerminal()
}

// PaymentDetail is one gateway payment event observed for an order.
type PaymentDetail struct {
	Source     string          `json:"source"` // webhook, reconcile, dummy
	Event      string          `json:"event,omitempty"`
	PaymentID  string          `json:"payment_id,omitempty"`
	Status     string          `json:"status,omitempty"`
	Amount     int64           `json:"amount,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// PaymentOrder mirrors an order created with the payment gateway.
type PaymentOrder struct {
	GatewayOrderID string             `json:"gateway_order_id"`
	UserID         string             `json:"user_id"`
	Amount         int64              `json:"amount"`
	Currency       string             `json:"currency"`
	Status         PaymentOrderStatus `json:"status"`
	PaymentDetails []PaymentDetail    `json:"payment_details"`
	IsDummy        bool               `json:"is_dummy"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// CanTransitionTo reports whether the order may move to next. Transitions are
// monotonic: CREATED may go anywhere, a terminal status only to itself.
func (o *PaymentOrder) CanTransitionTo(next PaymentOrderStatus) bool {
	if !next.IsValid() {
		return false
	}
	if o.Status.IsTerminal() {
		return o.Status == next
	}
	return true
}
