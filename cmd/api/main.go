package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"settlement-engine/config"
	apidocs "settlement-engine/docs/api"
	httpHandler "settlement-engine/internal/adapter/http/handler"
	pgStorage "settlement-engine/internal/adapter/storage/postgres"
	redisStorage "settlement-engine/internal/adapter/storage/redis"
	"settlement-engine/internal/bootstrap"
	"settlement-engine/internal/service"
	"settlement-engine/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load(os.Getenv("SETTLE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty, "settlement-api")

	log.Info().
		Str("env", cfg.App.Env).
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Bool("allow_dummy", cfg.Payments.AllowDummy).
		Msg("Starting settlement API")

	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("jwt.secret must be set")
	}
	if cfg.Gateway.WebhookSecret == "" {
		log.Warn().Msg("gateway.webhook_secret is empty, every webhook will be rejected")
	}

	if cfg.Database.MigrateOnStart {
		if err := pgStorage.Migrate(cfg.Database, log); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
		}
	}

	ctx := context.Background()

	infra, err := bootstrap.Open(ctx, cfg, "settlement-api", log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect dependencies")
	}
	defer infra.Close()

	svcs := bootstrap.NewServices(infra, cfg, log)
	reconciler := service.NewWebhookReconciler(svcs.Orders, redisStorage.NewEventDedup(infra.Redis), log)

	httpHandler.SetSwaggerSpec(apidocs.OpenAPI)
	gin.SetMode(cfg.Server.Mode)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		OrderSvc:        svcs.Orders,
		ConsultationSvc: svcs.Consultations,
		Reconciler:      reconciler,
		SigSvc:          service.NewHMACSignatureService(),
		TokenSvc:        service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer),
		WebhookSecret:   cfg.Gateway.WebhookSecret,
		RateLimitStore:  redisStorage.NewRateLimitStore(infra.Redis),
		HealthCheckers:  infra.HealthCheckers(),
		Logger:          log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
