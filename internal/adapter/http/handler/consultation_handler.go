package handler

import (
	"settlement-engine/internal/adapter/http/dto"
	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/pkg/apperror"
	"settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ConsultationHandler handles consultation order endpoints.
type ConsultationHandler struct {
	consultationSvc ports.ConsultationService
}

// NewConsultationHandler creates a new ConsultationHandler.
func NewConsultationHandler(consultationSvc ports.ConsultationService) *ConsultationHandler {
	return &ConsultationHandler{consultationSvc: consultationSvc}
}

// Create handles POST /api/v1/consultations.
func (h *ConsultationHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateConsultationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	order, err := h.consultationSvc.Create(c.Request.Context(), ports.CreateConsultationRequest{
		UserID:     userID,
		ProviderID: req.ProviderID,
		Amount:     req.Amount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewConsultationResponse(order))
}

// Get handles GET /api/v1/consultations/:id.
func (h *ConsultationHandler) Get(c *gin.Context) {
	order, ok := h.loadParticipant(c)
	if !ok {
		return
	}
	response.OK(c, dto.NewConsultationResponse(order))
}

// Patch handles PATCH /api/v1/consultations/:id. The body is resolved into a
// single command before the service sees it. Only the provider starts and
// completes a session; either side may cancel or refund.
func (h *ConsultationHandler) Patch(c *gin.Context) {
	var req dto.PatchStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	cmd, err := req.Command()
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	order, ok := h.loadParticipant(c)
	if !ok {
		return
	}
	if uid, _ := currentUser(c); providerOnly(cmd) && uid != order.ProviderID {
		response.Error(c, apperror.ErrForbidden("Only the provider can move a session to "+string(cmd.Target())))
		return
	}

	updated, err := h.consultationSvc.Apply(c.Request.Context(), order.ID, cmd)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewConsultationResponse(updated))
}

func providerOnly(cmd domain.ConsultationCommand) bool {
	switch cmd.(type) {
	case domain.StartConsultation, domain.CompleteConsultation:
		return true
	default:
		return false
	}
}

// loadParticipant fetches the order named in the path and checks that the
// caller is its user or provider. It writes the error response itself.
func (h *ConsultationHandler) loadParticipant(c *gin.Context) (*domain.ConsultationOrder, bool) {
	userID, ok := currentUser(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return nil, false
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid consultation id"))
		return nil, false
	}

	order, err := h.consultationSvc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	if order.UserID != userID && order.ProviderID != userID {
		response.Error(c, apperror.ErrNotFound("Consultation order"))
		return nil, false
	}
	return order, true
}
