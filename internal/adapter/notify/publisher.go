package notify

import (
	"context"
	"encoding/json"
	"time"

	"settlement-engine/internal/core/domain"

	"github.com/rs/zerolog"
)

// Subjects published by the engine.
const (
	NotificationSubjectPrefix = "notifications."
	AlertSubject              = "alerts.settlement"
)

// Publisher is the part of *nats.Conn used for fire-and-forget delivery.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier implements ports.Notifier and ports.Alerter over core NATS.
// Delivery is at-most-once; failures are logged and swallowed.
type NATSNotifier struct {
	pub Publisher
	now func() time.Time
	log zerolog.Logger
}

// NewNATSNotifier creates a notifier publishing through pub.
func NewNATSNotifier(pub Publisher, log zerolog.Logger) *NATSNotifier {
	return &NATSNotifier{pub: pub, now: time.Now, log: log}
}

// Notify publishes n on notifications.<kind>.
func (n *NATSNotifier) Notify(_ context.Context, msg domain.Notification) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = n.now().UTC()
	}
	n.publish(NotificationSubjectPrefix+string(msg.Kind), msg, msg.ReferenceID)
}

// Alert publishes a on the operator alert subject.
func (n *NATSNotifier) Alert(_ context.Context, a domain.Alert) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = n.now().UTC()
	}
	n.publish(AlertSubject, a, a.ReferenceID)
}

func (n *NATSNotifier) publish(subject string, v any, ref string) {
	data, err := json.Marshal(v)
	if err != nil {
		n.log.Error().Err(err).Str("subject", subject).Msg("Failed to encode message")
		return
	}
	if err := n.pub.Publish(subject, data); err != nil {
		n.log.Error().Err(err).Str("subject", subject).Str("reference_id", ref).Msg("Failed to publish message")
		return
	}
	n.log.Debug().Str("subject", subject).Str("reference_id", ref).Msg("Message published")
}

// LogNotifier implements ports.Notifier and ports.Alerter by writing to the
// log only. Used when no NATS URL is configured.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify logs the notification.
func (l *LogNotifier) Notify(_ context.Context, n domain.Notification) {
	l.log.Info().
		Str("kind", string(n.Kind)).
		Str("user_id", n.UserID).
		Str("reference_id", n.ReferenceID).
		Int64("amount", n.Amount).
		Msg("Notification")
}

// Alert logs the alert at a level matching its severity.
func (l *LogNotifier) Alert(_ context.Context, a domain.Alert) {
	ev := l.log.Warn()
	if a.Severity == domain.AlertCritical {
		ev = l.log.Error()
	}
	ev.Str("severity", string(a.Severity)).
		Str("code", a.Code).
		Str("reference_id", a.ReferenceID).
		Msg(a.Message)
}
