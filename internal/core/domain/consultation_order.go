package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConsultationStatus is the lifecycle state of a booked session.
type ConsultationStatus string

const (
	ConsultationPending   ConsultationStatus = "PENDING"
	ConsultationActive    ConsultationStatus = "ACTIVE"
	ConsultationCompleted ConsultationStatus = "COMPLETED"
	ConsultationCancelled ConsultationStatus = "CANCELLED"
	ConsultationRefunded  ConsultationStatus = "REFUNDED"
)

// consultationTransitions lists the states each status may be entered from.
var consultationTransitions = map[ConsultationStatus][]ConsultationStatus{
	ConsultationActive:    {ConsultationPending},
	ConsultationCompleted: {ConsultationActive},
	ConsultationCancelled: {ConsultationPending, ConsultationActive},
	ConsultationRefunded:  {ConsultationPending, ConsultationActive},
}

// IsTerminal returns true for COMPLETED, CANCELLED and REFUNDED.
func (s ConsultationStatus) IsTerminal() bool {
	return s == ConsultationCompleted || s == ConsultationCancelled || s == ConsultationRefunded
}

// AllowedFrom returns the statuses from which s can be entered.
func (s ConsultationStatus) AllowedFrom() []ConsultationStatus {
	return consultationTransitions[s]
}

// CanTransitionTo reports whether the state machine permits s -> next.
func (s ConsultationStatus) CanTransitionTo(next ConsultationStatus) bool {
	for _, from := range consultationTransitions[next] {
		if from == s {
			return true
		}
	}
	return false
}

// ConsultationOrder is a paid session between a user and a provider.
// Amount was debited at creation and is what a refund returns.
type ConsultationOrder struct {
	ID         uuid.UUID          `json:"id"`
	UserID     string             `json:"user_id"`
	ProviderID string             `json:"provider_id"`
	Amount     int64              `json:"amount"`
	Status     ConsultationStatus `json:"status"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	EndedAt    *time.Time         `json:"ended_at,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// ConsultationCommand is a status change requested for a consultation order.
// The set of implementations is closed.
type ConsultationCommand interface {
	// Target is the status the command moves the order into.
	Target() ConsultationStatus
	isConsultationCommand()
}

// StartConsultation moves PENDING -> ACTIVE.
type StartConsultation struct{}

// CompleteConsultation moves ACTIVE -> COMPLETED.
type CompleteConsultation struct{}

// CancelConsultation moves PENDING|ACTIVE -> CANCELLED, or to REFUNDED when Refund is set.
type CancelConsultation struct {
	Refund bool
}

// RefundConsultation moves PENDING|ACTIVE -> REFUNDED and returns the charge.
type RefundConsultation struct{}

func (StartConsultation) Target() ConsultationStatus    { return ConsultationActive }
func (CompleteConsultation) Target() ConsultationStatus { return ConsultationCompleted }
func (RefundConsultation) Target() ConsultationStatus   { return ConsultationRefunded }

func (c CancelConsultation) Target() ConsultationStatus {
	if c.Refund {
		return ConsultationRefunded
	}
	return ConsultationCancelled
}

func (StartConsultation) isConsultationCommand()    {}
func (CompleteConsultation) isConsultationCommand() {}
func (CancelConsultation) isConsultationCommand()   {}
func (RefundConsultation) isConsultationCommand()   {}
