// Package bootstrap assembles the infrastructure and services shared by the
// API server and the reconciliation worker.
package bootstrap

import (
	"context"
	"fmt"

	"settlement-engine/config"
	"settlement-engine/internal/adapter/gateway/razorpay"
	"settlement-engine/internal/adapter/notify"
	pgStorage "settlement-engine/internal/adapter/storage/postgres"
	redisStorage "settlement-engine/internal/adapter/storage/redis"
	"settlement-engine/internal/core/ports"
	"settlement-engine/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// notifierAlerter is what both notifier adapters implement.
type notifierAlerter interface {
	ports.Notifier
	ports.Alerter
}

// Infra holds the external connections of one process.
type Infra struct {
	Pool     *pgxpool.Pool
	Redis    *goredis.Client
	NATS     *nats.Conn // nil when notifications go to the log
	Notifier notifierAlerter
	Queue    *redisStorage.TaskQueue
	Gateway  *razorpay.Client
}

// Open connects to PostgreSQL, Redis and, when configured, NATS.
func Open(ctx context.Context, cfg *config.Config, name string, log zerolog.Logger) (*Infra, error) {
	pool, err := pgStorage.NewPool(ctx, cfg.Database, name, log)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, name, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	infra := &Infra{
		Pool:    pool,
		Redis:   rdb,
		Queue:   redisStorage.NewTaskQueue(rdb, redisStorage.ReconcileQueueKey, cfg.Reconcile.LeaseTimeout, log),
		Gateway: razorpay.NewClient(cfg.Gateway, nil, log),
	}

	if cfg.NATS.URL == "" {
		log.Warn().Msg("NATS URL not set, notifications and alerts go to the log only")
		infra.Notifier = notify.NewLogNotifier(log)
		return infra, nil
	}

	nc, err := notify.Connect(cfg.NATS, log)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("nats: %w", err)
	}
	infra.NATS = nc
	infra.Notifier = notify.NewNATSNotifier(nc, log)
	return infra, nil
}

// HealthCheckers lists a checker for every open connection.
func (i *Infra) HealthCheckers() []ports.HealthChecker {
	checkers := []ports.HealthChecker{
		pgStorage.NewHealthCheck(i.Pool),
		redisStorage.NewHealthCheck(i.Redis),
	}
	if i.NATS != nil {
		checkers = append(checkers, notify.NewHealthCheck(i.NATS))
	}
	return checkers
}

// Close drains NATS and closes Redis and the pool.
func (i *Infra) Close() {
	if i.NATS != nil {
		_ = i.NATS.Drain()
	}
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.Pool != nil {
		i.Pool.Close()
	}
}

// Services is the business layer wired onto Infra.
type Services struct {
	Ledger        *service.LedgerServiceImpl
	Orders        *service.PaymentOrderServiceImpl
	Consultations *service.ConsultationServiceImpl
}

// NewServices wires repositories and services.
func NewServices(infra *Infra, cfg *config.Config, log zerolog.Logger) *Services {
	balanceRepo := pgStorage.NewBalanceRepo(infra.Pool)
	ledgerRepo := pgStorage.NewLedgerRepo(infra.Pool)
	orderRepo := pgStorage.NewPaymentOrderRepo(infra.Pool)
	consultationRepo := pgStorage.NewConsultationOrderRepo(infra.Pool)
	users := pgStorage.NewUserDirectory(infra.Pool)
	transactor := pgStorage.NewTransactor(infra.Pool)
	idempCache := redisStorage.NewIdempotencyCache(infra.Redis)

	ledger := service.NewLedgerService(balanceRepo, ledgerRepo, idempCache, transactor, log)
	orders := service.NewPaymentOrderService(
		users,
		infra.Gateway,
		orderRepo,
		ledger,
		infra.Queue,
		infra.Notifier,
		infra.Notifier,
		transactor,
		service.PaymentOrderOptions{
			Currency:   cfg.Gateway.Currency,
			AllowDummy: cfg.Payments.AllowDummy,
		},
		log,
	)
	consultations := service.NewConsultationService(consultationRepo, ledger, users, infra.Notifier, infra.Notifier, log)

	return &Services{
		Ledger:        ledger,
		Orders:        orders,
		Consultations: consultations,
	}
}

// ReconcileOptions maps the reconcile config section onto the worker options.
func ReconcileOptions(cfg config.ReconcileConfig) service.ReconcileOptions {
	return service.ReconcileOptions{
		MaxAttempts:  cfg.MaxAttempts,
		BaseDelay:    cfg.BaseDelay,
		MaxDelay:     cfg.MaxDelay,
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
	}
}
