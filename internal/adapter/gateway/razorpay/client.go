package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"settlement-engine/config"
	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/pkg/apperror"

	"github.com/rs/zerolog"
)

// Razorpay order and payment states.
const (
	orderStatusAttempted = "attempted"
	orderStatusPaid      = "paid"

	paymentStatusCaptured = "captured"
	paymentStatusFailed   = "failed"
)

var errNotFound = errors.New("gateway resource not found")

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements ports.PaymentGateway against the Razorpay REST API.
type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	timeout   time.Duration
	http      HTTPClient
	log       zerolog.Logger
}

// NewClient creates a Razorpay client. Every call is bounded by cfg.Timeout.
func NewClient(cfg config.GatewayConfig, httpClient HTTPClient, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		timeout:   cfg.Timeout,
		http:      httpClient,
		log:       log,
	}
}

type orderEntity struct {
	ID         string            `json:"id"`
	Amount     int64             `json:"amount"`
	AmountPaid int64             `json:"amount_paid"`
	Currency   string            `json:"currency"`
	Receipt    string            `json:"receipt"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	Notes      map[string]string `json:"notes"`
	CreatedAt  int64             `json:"created_at"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	CreatedAt        int64  `json:"created_at"`
}

type paymentCollection struct {
	Count int             `json:"count"`
	Items []paymentEntity `json:"items"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type createOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// CreateOrder registers a new order with the gateway.
func (c *Client) CreateOrder(ctx context.Context, req ports.GatewayOrderRequest) (*ports.GatewayOrder, error) {
	var order orderEntity
	body := createOrderRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	}
	if err := c.do(ctx, http.MethodPost, "/v1/orders", body, &order); err != nil {
		return nil, err
	}

	c.log.Info().
		Str("gateway_order_id", order.ID).
		Int64("amount", order.Amount).
		Str("receipt", order.Receipt).
		Msg("Gateway order created")

	return &ports.GatewayOrder{
		ID:       order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Status:   order.Status,
		Receipt:  order.Receipt,
	}, nil
}

// FetchOrderStatus reads the order and its payments and maps them onto the
// local status set. A paid order or any captured payment is PAID. An attempted
// order whose payments all failed is FAILED. Anything else is CREATED.
func (c *Client) FetchOrderStatus(ctx context.Context, gatewayOrderID string) (*ports.GatewayOrderStatus, error) {
	escaped := url.PathEscape(gatewayOrderID)

	var order orderEntity
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+escaped, nil, &order); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, apperror.ErrUnrecognizedOrder(gatewayOrderID)
		}
		return nil, err
	}

	var payments paymentCollection
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+escaped+"/payments", nil, &payments); err != nil {
		return nil, err
	}

	sort.Slice(payments.Items, func(i, j int) bool {
		return payments.Items[i].CreatedAt < payments.Items[j].CreatedAt
	})

	now := time.Now().UTC()
	details := make([]domain.PaymentDetail, 0, len(payments.Items))
	for _, p := range payments.Items {
		raw, _ := json.Marshal(p)
		details = append(details, domain.PaymentDetail{
			Source:     "reconcile",
			PaymentID:  p.ID,
			Status:     p.Status,
			Amount:     p.Amount,
			ReceivedAt: now,
			Raw:        raw,
		})
	}

	return &ports.GatewayOrderStatus{
		GatewayOrderID: order.ID,
		Status:         resolveOrderStatus(order, payments.Items),
		Details:        details,
	}, nil
}

func resolveOrderStatus(order orderEntity, payments []paymentEntity) domain.PaymentOrderStatus {
	if order.Status == orderStatusPaid {
		return domain.PaymentOrderPaid
	}
	failed := 0
	for _, p := range payments {
		switch p.Status {
		case paymentStatusCaptured:
			return domain.PaymentOrderPaid
		case paymentStatusFailed:
			failed++
		}
	}
	if order.Status == orderStatusAttempted && len(payments) > 0 && failed == len(payments) {
		return domain.PaymentOrderFailed
	}
	return domain.PaymentOrderCreated
}

// do performs one authenticated JSON call. Transport failures, timeouts and
// 5xx answers surface as GatewayUnavailable.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("marshal gateway request: %w", err))
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("create gateway request: %w", err))
	}
	httpReq.SetBasicAuth(c.keyID, c.keySecret)
	httpReq.Header.Set("Accept", "application/json")
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("Gateway request failed")
		return apperror.ErrGatewayUnavailable(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return apperror.ErrGatewayUnavailable(fmt.Errorf("read gateway response: %w", err))
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", httpResp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("Gateway call")

	switch {
	case httpResp.StatusCode >= http.StatusInternalServerError:
		return apperror.ErrGatewayUnavailable(fmt.Errorf("gateway status %d", httpResp.StatusCode))
	case httpResp.StatusCode == http.StatusNotFound:
		return apperror.InternalError(fmt.Errorf("%s %s: %w", method, path, errNotFound))
	case httpResp.StatusCode >= http.StatusBadRequest:
		var apiErr apiError
		_ = json.Unmarshal(respBody, &apiErr)
		return apperror.InternalError(fmt.Errorf("gateway rejected %s %s: status=%d code=%s description=%s",
			method, path, httpResp.StatusCode, apiErr.Error.Code, apiErr.Error.Description))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return apperror.InternalError(fmt.Errorf("unmarshal gateway response: %w", err))
	}
	return nil
}
