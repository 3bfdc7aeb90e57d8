package response

import (
	"errors"
	"net/http"
	"time"

	"settlement-engine/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDKey is the gin context key holding the request id.
	RequestIDKey = "request_id"
	// HeaderRequestID carries the request id in and out.
	HeaderRequestID = "X-Request-Id"
)

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// OK sends a 200 response with data.
func OK(c *gin.Context, data interface{}) {
	success(c, http.StatusOK, data)
}

// Created sends a 201 response with data.
func Created(c *gin.Context, data interface{}) {
	success(c, http.StatusCreated, data)
}

// Error sends an error response. An *apperror.AppError anywhere in the chain
// picks the status and code; anything else is a 500 with the internal code
// and no detail.
func Error(c *gin.Context, err error) {
	status, code, msg := http.StatusInternalServerError, apperror.CodeInternal, "Internal server error"

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status, code, msg = appErr.HTTPStatus, appErr.Code, appErr.Message
	}

	c.JSON(status, ErrorResponse{
		ErrorCode: code,
		Message:   msg,
		RequestID: RequestID(c),
		Timestamp: now(),
	})
}

func success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, SuccessResponse{
		Data:      data,
		RequestID: RequestID(c),
		Timestamp: now(),
	})
}

// RequestID returns the id assigned to the request. It falls back to the
// inbound header and then to a fresh id, which is stored for later calls.
func RequestID(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	id := ""
	if c.Request != nil {
		id = c.GetHeader(HeaderRequestID)
	}
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(RequestIDKey, id)
	return id
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
