package domain

import "time"

// NotificationKind identifies what a user or operator is being told about.
type NotificationKind string

const (
	NotificationWalletCredited       NotificationKind = "wallet_credited"
	NotificationPaymentFailed        NotificationKind = "payment_failed"
	NotificationConsultationBooked   NotificationKind = "consultation_booked"
	NotificationConsultationRefunded NotificationKind = "consultation_refunded"
)

// Notification is a fire-and-forget message for the notification dispatcher.
type Notification struct {
	Kind        NotificationKind  `json:"kind"`
	UserID      string            `json:"user_id"`
	ReferenceID string            `json:"reference_id"`
	Amount      int64             `json:"amount,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// AlertSeverity grades operator alerts.
type AlertSeverity string

const (
	AlertWarning  AlertSeverity = "WARNING"
	AlertCritical AlertSeverity = "CRITICAL"
)

// Alert is an operator-visible event that needs human follow-up.
type Alert struct {
	Severity    AlertSeverity `json:"severity"`
	Code        string        `json:"code"`
	Message     string        `json:"message"`
	ReferenceID string        `json:"reference_id"`
	CreatedAt   time.Time     `json:"created_at"`
}
