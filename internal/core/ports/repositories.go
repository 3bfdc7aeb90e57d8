package ports

import (
	"context"
	"errors"
	"time"

	"settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrInsufficientFunds is returned by BalanceRepository.Adjust when the
// adjustment would take the balance below the requested floor.
var ErrInsufficientFunds = errors.New("insufficient funds")

// BalanceRepository is the balance half of the ledger store.
type BalanceRepository interface {
	// Get returns nil, nil when the user has never had a ledger operation.
	Get(ctx context.Context, userID string) (*domain.Balance, error)
	// Adjust atomically applies delta if the result stays >= minResulting and
	// returns the new balance. The row stays locked until tx ends.
	Adjust(ctx context.Context, tx pgx.Tx, userID string, delta, minResulting int64) (int64, error)
}

// LedgerRepository is the append-only transaction log.
type LedgerRepository interface {
	// Append inserts entry unless its id exists, in which case the stored
	// entry is returned with created=false.
	Append(ctx context.Context, tx pgx.Tx, entry *domain.LedgerTransaction) (stored *domain.LedgerTransaction, created bool, err error)
	GetByReference(ctx context.Context, referenceID string, referenceType domain.ReferenceType) (*domain.LedgerTransaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.LedgerTransaction, error)
}

// PaymentOrderRepository persists gateway order mirrors.
type PaymentOrderRepository interface {
	Create(ctx context.Context, order *domain.PaymentOrder) error
	GetByID(ctx context.Context, gatewayOrderID string) (*domain.PaymentOrder, error)
	// GetByIDForUpdate locks the row. MUST be called within a transaction.
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, gatewayOrderID string) (*domain.PaymentOrder, error)
	// UpdateStatus sets status and appends details to the existing history.
	UpdateStatus(ctx context.Context, tx pgx.Tx, gatewayOrderID string, status domain.PaymentOrderStatus, details []domain.PaymentDetail) error
	List(ctx context.Context, params PaymentOrderListParams) ([]domain.PaymentOrder, error)
}

// PaymentOrderListParams filters a user's orders by creation time.
type PaymentOrderListParams struct {
	UserID string
	From   *time.Time
	To     *time.Time
	Limit  int
}

// ConsultationOrderRepository persists booked sessions.
type ConsultationOrderRepository interface {
	Create(ctx context.Context, order *domain.ConsultationOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ConsultationOrder, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// Transition moves the order to `to` only if its current status is one of
	// `from`. Returns nil, nil when no row matched.
	Transition(ctx context.Context, id uuid.UUID, to domain.ConsultationStatus, from []domain.ConsultationStatus, at time.Time) (*domain.ConsultationOrder, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
