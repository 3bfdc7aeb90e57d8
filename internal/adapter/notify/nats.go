package notify

import (
	"context"
	"fmt"

	"settlement-engine/config"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Connect opens a NATS connection with reconnect handling logged through zerolog.
func Connect(cfg config.NATSConfig, log zerolog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, s *nats.Subscription, err error) {
			subject := ""
			if s != nil {
				subject = s.Subject
			}
			log.Error().Err(err).Str("subject", subject).Msg("NATS error")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	log.Info().Str("url", conn.ConnectedUrl()).Msg("NATS connection established")
	return conn, nil
}

// Flusher is the part of *nats.Conn the health check needs.
type Flusher interface {
	FlushWithContext(ctx context.Context) error
}

// HealthCheck implements ports.HealthChecker for NATS.
type HealthCheck struct {
	conn Flusher
}

// NewHealthCheck creates a NATS health checker.
func NewHealthCheck(conn Flusher) *HealthCheck {
	return &HealthCheck{conn: conn}
}

// Ping round-trips a PING to the server.
func (h *HealthCheck) Ping(ctx context.Context) error {
	return h.conn.FlushWithContext(ctx)
}

// Name returns the dependency name.
func (h *HealthCheck) Name() string {
	return "nats"
}
