package redis

import (
	"context"
	"fmt"

	"settlement-engine/config"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewClient connects to the Redis instance that backs the ledger cache,
// webhook dedup, rate limits and the reconcile queue.
func NewClient(ctx context.Context, cfg config.RedisConfig, clientName string, log zerolog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:       cfg.Addr(),
		Password:   cfg.Password,
		DB:         cfg.DB,
		ClientName: clientName,
	})
	if err := ping(ctx, client); err != nil {
		client.Close() //nolint:errcheck
		return nil, err
	}

	log.Info().
		Str("addr", cfg.Addr()).
		Int("db", cfg.DB).
		Str("client_name", clientName).
		Msg("redis connected")
	return client, nil
}

func ping(ctx context.Context, client goredis.UniversalClient) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// HealthCheck implements ports.HealthChecker for Redis.
type HealthCheck struct {
	client goredis.UniversalClient
}

func NewHealthCheck(client goredis.UniversalClient) *HealthCheck {
	return &HealthCheck{client: client}
}

func (h *HealthCheck) Ping(ctx context.Context) error { return ping(ctx, h.client) }

func (h *HealthCheck) Name() string { return "redis" }
