package handler

import (
	"settlement-engine/internal/adapter/http/middleware"
	redisStore "settlement-engine/internal/adapter/storage/redis"
	"settlement-engine/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// maxRequestBody caps every request body.
const maxRequestBody = 1 << 20

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	OrderSvc        ports.PaymentOrderService
	ConsultationSvc ports.ConsultationService
	Reconciler      ports.WebhookReconciler
	SigSvc          ports.SignatureService
	TokenSvc        ports.TokenService
	WebhookSecret   string
	RateLimitStore  *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers  []ports.HealthChecker
	Logger          zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(maxRequestBody))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Gateway callbacks (signature-authenticated) ---
	webhookHandler := NewWebhookHandler(deps.Reconciler, deps.Logger)
	v1.POST("/webhooks/razorpay",
		rl("webhooks"),
		middleware.WebhookSignature(deps.SigSvc, deps.WebhookSecret, deps.Logger),
		webhookHandler.Receive,
	)

	// --- User routes (JWT) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	orderHandler := NewOrderHandler(deps.OrderSvc)
	orders := v1.Group("/orders", jwtAuth)
	{
		orders.POST("", rl("orders_create"), orderHandler.CreateOrder)
		orders.GET("", rl("orders_read"), orderHandler.ListOrders)
		orders.GET("/:gatewayOrderId", rl("orders_read"), orderHandler.GetOrder)
	}

	consultationHandler := NewConsultationHandler(deps.ConsultationSvc)
	consultations := v1.Group("/consultations", jwtAuth)
	{
		consultations.POST("", rl("consultations_create"), consultationHandler.Create)
		consultations.GET("/:id", rl("consultations"), consultationHandler.Get)
		consultations.PATCH("/:id", rl("consultations"), consultationHandler.Patch)
	}

	return r
}
