package handler

import (
	"io"

	"settlement-engine/internal/adapter/gateway/razorpay"
	"settlement-engine/internal/adapter/http/dto"
	"settlement-engine/internal/adapter/http/middleware"
	"settlement-engine/internal/core/ports"
	"settlement-engine/pkg/apperror"
	"settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// WebhookHandler receives gateway payment events.
type WebhookHandler struct {
	reconciler ports.WebhookReconciler
	log        zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(reconciler ports.WebhookReconciler, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, log: log}
}

// Receive handles POST /api/v1/webhooks/razorpay. The signature middleware
// has already verified the body.
//
// Only an unknown order is reported back as an error, so the gateway keeps
// redelivering it. Every other accepted delivery is acknowledged with 200 and
// left to the reconciliation worker if processing failed.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, ok := rawBody(c)
	if !ok {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}

	evt, err := razorpay.ParseWebhookEvent(c.GetHeader(middleware.HeaderWebhookEventID), body)
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	order, err := h.reconciler.HandleEvent(c.Request.Context(), evt)
	switch {
	case err == nil && order == nil:
		response.OK(c, dto.WebhookAck{EventID: evt.EventID, Status: "ignored"})
	case err == nil:
		response.OK(c, dto.WebhookAck{EventID: evt.EventID, Status: "applied"})
	case apperror.Is(err, apperror.CodeUnrecognizedOrder):
		response.Error(c, err)
	default:
		h.log.Warn().Err(err).Str("event_id", evt.EventID).Msg("webhook acknowledged without applying")
		response.OK(c, dto.WebhookAck{EventID: evt.EventID, Status: "ignored"})
	}
}

func rawBody(c *gin.Context) ([]byte, bool) {
	if v, ok := c.Get(middleware.CtxRawBody); ok {
		if b, ok := v.([]byte); ok {
			return b, true
		}
	}
	b, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, false
	}
	return b, true
}
