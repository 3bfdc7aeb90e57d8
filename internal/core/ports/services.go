package ports

import (
	"context"
	"time"

	"settlement-engine/internal/core/domain"

	"github.com/google/uuid"
)

// --- Outbound collaborators ---

// PaymentGateway is the external payment provider.
// Network errors and timeouts must surface as apperror GatewayUnavailable.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (*GatewayOrder, error)
	FetchOrderStatus(ctx context.Context, gatewayOrderID string) (*GatewayOrderStatus, error)
}

// GatewayOrderRequest holds input for creating a gateway order.
type GatewayOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// GatewayOrder is the gateway's view of a created order.
type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
	Receipt  string
}

// GatewayOrderStatus is the authoritative status of an order, already mapped
// onto the local status set, plus the payment events that justify it.
type GatewayOrderStatus struct {
	GatewayOrderID string
	Status         domain.PaymentOrderStatus
	Details        []domain.PaymentDetail
}

// TaskQueue is the delayed task queue carrying reconciliation tasks.
// Delivery is at-least-once: a claimed task is handed out again once its
// lease expires unless it was acknowledged.
type TaskQueue interface {
	Enqueue(ctx context.Context, task domain.ReconcileTask, delay time.Duration) error
	// Dequeue atomically leases up to limit tasks whose delay has elapsed.
	Dequeue(ctx context.Context, limit int64) ([]domain.ReconcileTask, error)
	// Ack removes a leased task for good.
	Ack(ctx context.Context, task domain.ReconcileTask) error
}

// Notifier dispatches user notifications. Fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

// Alerter raises operator-visible alerts. Fire-and-forget.
type Alerter interface {
	Alert(ctx context.Context, a domain.Alert)
}

// UserDirectory is the user profile store owned by the surrounding system.
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
	IncrementConsultationCount(ctx context.Context, providerID string) error
}

// IdempotencyCache is the Redis-layer ledger idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached entry JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// EventDeduplicator remembers gateway webhook event ids.
type EventDeduplicator interface {
	// MarkSeen returns true if the event id is new.
	MarkSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secret string, payload string) string
	Verify(secret string, payload string, signature string) bool
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(userID string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID string
}

// --- Service Ports (Business Logic) ---

// LedgerService is the only component allowed to mutate balances.
type LedgerService interface {
	// ApplyLedgerEntry returns the entry for the reference and whether this
	// call is the one that recorded it.
	ApplyLedgerEntry(ctx context.Context, req LedgerEntryRequest) (entry *domain.LedgerTransaction, created bool, err error)
	GetBalance(ctx context.Context, userID string) (int64, error)
	// FindEntry returns the entry written for a reference, or nil.
	FindEntry(ctx context.Context, referenceID string, referenceType domain.ReferenceType) (*domain.LedgerTransaction, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]domain.LedgerTransaction, error)
}

// LedgerEntryRequest holds validated input for a balance mutation.
type LedgerEntryRequest struct {
	UserID        string
	Amount        int64
	Direction     domain.Direction
	Reason        string
	ReferenceID   string
	ReferenceType domain.ReferenceType
}

// PaymentOrderService owns PaymentOrder status.
type PaymentOrderService interface {
	CreatePaymentOrder(ctx context.Context, req CreatePaymentOrderRequest) (*domain.PaymentOrder, error)
	MarkOrderStatus(ctx context.Context, req MarkOrderStatusRequest) (*domain.PaymentOrder, error)
	GetPaymentOrder(ctx context.Context, gatewayOrderID string) (*domain.PaymentOrder, error)
	ListPaymentOrders(ctx context.Context, params PaymentOrderListParams) ([]domain.PaymentOrder, error)
}

// CreatePaymentOrderRequest holds validated input for checkout.
type CreatePaymentOrderRequest struct {
	UserID  string
	Amount  int64
	IsDummy bool
}

// MarkOrderStatusRequest is the single way to change a PaymentOrder's status.
type MarkOrderStatusRequest struct {
	GatewayOrderID string
	Status         domain.PaymentOrderStatus
	PaymentDetails []domain.PaymentDetail
}

// ConsultationService owns ConsultationOrder lifecycle.
type ConsultationService interface {
	Create(ctx context.Context, req CreateConsultationRequest) (*domain.ConsultationOrder, error)
	Apply(ctx context.Context, orderID uuid.UUID, cmd domain.ConsultationCommand) (*domain.ConsultationOrder, error)
	Get(ctx context.Context, orderID uuid.UUID) (*domain.ConsultationOrder, error)
}

// CreateConsultationRequest holds validated input for booking a session.
type CreateConsultationRequest struct {
	UserID     string
	ProviderID string
	Amount     int64
}

// WebhookReconciler maps inbound gateway events to order transitions.
type WebhookReconciler interface {
	HandleEvent(ctx context.Context, evt WebhookEvent) (*domain.PaymentOrder, error)
}

// WebhookEvent is a parsed, signature-verified gateway event.
type WebhookEvent struct {
	EventID        string
	EventType      string
	GatewayOrderID string
	PaymentID      string
	Amount         int64
	Status         domain.PaymentOrderStatus
	RawStatus      string
	Raw            []byte
}
