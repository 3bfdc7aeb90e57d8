package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"settlement-engine/internal/core/ports"
	"settlement-engine/pkg/apperror"
	"settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	// Header names set by the payment gateway on webhook deliveries
	HeaderWebhookSignature = "X-Razorpay-Signature"
	HeaderWebhookEventID   = "X-Razorpay-Event-Id"

	// Context keys
	CtxUserID  = "user_id"
	CtxRawBody = "raw_body"
)

// JWTAuth creates a middleware that validates user bearer tokens.
func JWTAuth(tokenSvc ports.TokenService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			response.Error(c, apperror.ErrInvalidToken())
			c.Abort()
			return
		}

		claims, err := tokenSvc.Validate(authHeader[7:])
		if err != nil {
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("bearer token rejected")
			response.Error(c, apperror.ErrInvalidToken())
			c.Abort()
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Next()
	}
}

// WebhookSignature verifies that the raw body was signed by the gateway with
// the shared webhook secret. The verified body is stored under CtxRawBody and
// restored on the request for downstream readers.
func WebhookSignature(sigSvc ports.SignatureService, secret string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		signature := strings.TrimSpace(c.GetHeader(HeaderWebhookSignature))
		if signature == "" {
			response.Error(c, apperror.ErrInvalidSignature())
			c.Abort()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.Error(c, apperror.Validation("cannot read request body"))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if !sigSvc.Verify(secret, string(body), signature) {
			log.Warn().
				Str("client_ip", c.ClientIP()).
				Str("event_id", c.GetHeader(HeaderWebhookEventID)).
				Msg("webhook signature mismatch")
			response.Error(c, apperror.ErrInvalidSignature())
			c.Abort()
			return
		}

		c.Set(CtxRawBody, body)
		c.Next()
	}
}

// MaxBodySize limits the request body size. Once the limit is exceeded the
// reader returns an error and the request is rejected.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// RequestID tags the request with an id, reusing the inbound header when the
// caller supplied one, and echoes it back.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := response.RequestID(c)
		c.Header(response.HeaderRequestID, id)
		c.Next()
	}
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		if uid := c.GetString(CtxUserID); uid != "" {
			event = event.Str("user_id", uid)
		}
		event.
			Str("request_id", c.GetString(response.RequestIDKey)).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error_code": apperror.CodeInternal,
					"message":    "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
