package dto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"settlement-engine/internal/core/domain"
)

// CreateOrderRequest is the request body for checkout.
type CreateOrderRequest struct {
	Amount  int64 `json:"amount" binding:"required,gt=0"`
	IsDummy bool  `json:"is_dummy"`
}

// CreateConsultationRequest is the request body for booking a session.
type CreateConsultationRequest struct {
	ProviderID string `json:"provider_id" binding:"required,max=100,safe_id"`
	Amount     int64  `json:"amount" binding:"required,gt=0"`
}

// ListOrdersQuery filters GET /orders by creation time (unix seconds).
type ListOrdersQuery struct {
	From  *int64 `form:"from" binding:"omitempty,gte=0"`
	To    *int64 `form:"to" binding:"omitempty,gte=0"`
	Limit int    `form:"limit" binding:"omitempty,gt=0"`
}

// PatchStatusRequest is a JSON-patch style status change:
//
//	{"op":"REPLACE","path":"/status","value":"ACTIVE"}
//	{"op":"REPLACE","path":"/status","value":{"status":"CANCELLED","refund":true}}
type PatchStatusRequest struct {
	Op    string          `json:"op" binding:"required,patch_op"`
	Path  string          `json:"path" binding:"required,eq=/status"`
	Value json.RawMessage `json:"value" binding:"required"`
}

type statusValue struct {
	Status string `json:"status"`
	Refund bool   `json:"refund"`
}

// ErrUnsupportedStatus is returned for a target status no command maps to.
var ErrUnsupportedStatus = errors.New("unsupported target status")

// Command resolves the patch value into a consultation command.
func (r PatchStatusRequest) Command() (domain.ConsultationCommand, error) {
	var v statusValue
	raw := bytes.TrimSpace(r.Value)
	switch {
	case len(raw) > 0 && raw[0] == '"':
		if err := json.Unmarshal(raw, &v.Status); err != nil {
			return nil, fmt.Errorf("decode value: %w", err)
		}
	case len(raw) > 0 && raw[0] == '{':
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode value: %w", err)
		}
	default:
		return nil, errors.New("value must be a status string or object")
	}

	switch domain.ConsultationStatus(strings.ToUpper(strings.TrimSpace(v.Status))) {
	case domain.ConsultationActive:
		return domain.StartConsultation{}, nil
	case domain.ConsultationCompleted:
		return domain.CompleteConsultation{}, nil
	case domain.ConsultationCancelled:
		return domain.CancelConsultation{Refund: v.Refund}, nil
	case domain.ConsultationRefunded:
		return domain.RefundConsultation{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStatus, v.Status)
	}
}

// PaymentOrderResponse is the API view of a payment order.
type PaymentOrderResponse struct {
	GatewayOrderID string                 `json:"gateway_order_id"`
	Amount         int64                  `json:"amount"`
	Currency       string                 `json:"currency"`
	Status         string                 `json:"status"`
	IsDummy        bool                   `json:"is_dummy"`
	PaymentDetails []domain.PaymentDetail `json:"payment_details"`
	CreatedAt      string                 `json:"created_at"`
	UpdatedAt      string                 `json:"updated_at"`
}

// NewPaymentOrderResponse converts a domain order.
func NewPaymentOrderResponse(o *domain.PaymentOrder) PaymentOrderResponse {
	details := o.PaymentDetails
	if details == nil {
		details = []domain.PaymentDetail{}
	}
	return PaymentOrderResponse{
		GatewayOrderID: o.GatewayOrderID,
		Amount:         o.Amount,
		Currency:       o.Currency,
		Status:         string(o.Status),
		IsDummy:        o.IsDummy,
		PaymentDetails: details,
		CreatedAt:      o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      o.UpdatedAt.Format(time.RFC3339),
	}
}

// ConsultationResponse is the API view of a consultation order.
type ConsultationResponse struct {
	ID         string  `json:"id"`
	UserID     string  `json:"user_id"`
	ProviderID string  `json:"provider_id"`
	Amount     int64   `json:"amount"`
	Status     string  `json:"status"`
	StartedAt  *string `json:"started_at,omitempty"`
	EndedAt    *string `json:"ended_at,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// NewConsultationResponse converts a domain consultation order.
func NewConsultationResponse(o *domain.ConsultationOrder) ConsultationResponse {
	return ConsultationResponse{
		ID:         o.ID.String(),
		UserID:     o.UserID,
		ProviderID: o.ProviderID,
		Amount:     o.Amount,
		Status:     string(o.Status),
		StartedAt:  formatTime(o.StartedAt),
		EndedAt:    formatTime(o.EndedAt),
		CreatedAt:  o.CreatedAt.Format(time.RFC3339),
	}
}

// WebhookAck is returned to the gateway for every accepted delivery.
type WebhookAck struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"` // applied, ignored
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
