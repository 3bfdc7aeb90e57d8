package handler

import (
	"time"

	"settlement-engine/internal/adapter/http/dto"
	"settlement-engine/internal/adapter/http/middleware"
	"settlement-engine/internal/core/ports"
	"settlement-engine/pkg/apperror"
	"settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// OrderHandler handles payment order endpoints.
type OrderHandler struct {
	orderSvc ports.PaymentOrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc ports.PaymentOrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// CreateOrder handles POST /api/v1/orders.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	order, err := h.orderSvc.CreatePaymentOrder(c.Request.Context(), ports.CreatePaymentOrderRequest{
		UserID:  userID,
		Amount:  req.Amount,
		IsDummy: req.IsDummy,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewPaymentOrderResponse(order))
}

// GetOrder handles GET /api/v1/orders/:gatewayOrderId.
// Orders owned by someone else are reported as not found.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	order, err := h.orderSvc.GetPaymentOrder(c.Request.Context(), c.Param("gatewayOrderId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if order.UserID != userID {
		response.Error(c, apperror.ErrNotFound("Payment order"))
		return
	}

	response.OK(c, dto.NewPaymentOrderResponse(order))
}

// ListOrders handles GET /api/v1/orders?from=&to=.
func (h *OrderHandler) ListOrders(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var q dto.ListOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	params := ports.PaymentOrderListParams{UserID: userID, Limit: q.Limit}
	if q.From != nil {
		from := time.Unix(*q.From, 0).UTC()
		params.From = &from
	}
	if q.To != nil {
		to := time.Unix(*q.To, 0).UTC()
		params.To = &to
	}

	orders, err := h.orderSvc.ListPaymentOrders(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.PaymentOrderResponse, 0, len(orders))
	for i := range orders {
		items = append(items, dto.NewPaymentOrderResponse(&orders[i]))
	}
	response.OK(c, items)
}

func currentUser(c *gin.Context) (string, bool) {
	uid := c.GetString(middleware.CtxUserID)
	return uid, uid != ""
}
