package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

const paymentOrderColumns = `gateway_order_id, user_id, amount, currency, status, payment_details, is_dummy, created_at, updated_at`

// PaymentOrderRepo implements ports.PaymentOrderRepository.
type PaymentOrderRepo struct {
	pool Pool
}

// NewPaymentOrderRepo creates a new PaymentOrderRepo.
func NewPaymentOrderRepo(pool Pool) *PaymentOrderRepo {
	return &PaymentOrderRepo{pool: pool}
}

// Create inserts a new payment order.
func (r *PaymentOrderRepo) Create(ctx context.Context, o *domain.PaymentOrder) error {
	details, err := marshalDetails(o.PaymentDetails)
	if err != nil {
		return err
	}

	query := `INSERT INTO payment_orders (` + paymentOrderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.pool.Exec(ctx, query,
		o.GatewayOrderID, o.UserID, o.Amount, o.Currency, o.Status,
		details, o.IsDummy, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment order: %w", err)
	}
	return nil
}

// GetByID fetches a payment order by its gateway order id (without locking).
func (r *PaymentOrderRepo) GetByID(ctx context.Context, gatewayOrderID string) (*domain.PaymentOrder, error) {
	query := `SELECT ` + paymentOrderColumns + ` FROM payment_orders WHERE gateway_order_id = $1`

	o, err := scanPaymentOrder(r.pool.QueryRow(ctx, query, gatewayOrderID))
	if err != nil {
		return nil, fmt.Errorf("get payment order: %w", err)
	}
	return o, nil
}

// GetByIDForUpdate fetches a payment order with pessimistic locking.
// This MUST be called within a transaction.
func (r *PaymentOrderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, gatewayOrderID string) (*domain.PaymentOrder, error) {
	query := `SELECT ` + paymentOrderColumns + ` FROM payment_orders WHERE gateway_order_id = $1 FOR UPDATE`

	o, err := scanPaymentOrder(tx.QueryRow(ctx, query, gatewayOrderID))
	if err != nil {
		return nil, fmt.Errorf("get payment order for update: %w", err)
	}
	return o, nil
}

// UpdateStatus sets the status and appends details to the stored history.
func (r *PaymentOrderRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, gatewayOrderID string, status domain.PaymentOrderStatus, details []domain.PaymentDetail) error {
	raw, err := marshalDetails(details)
	if err != nil {
		return err
	}

	query := `UPDATE payment_orders
		SET status = $2, payment_details = payment_details || $3::jsonb, updated_at = NOW()
		WHERE gateway_order_id = $1`

	tag, err := tx.Exec(ctx, query, gatewayOrderID, status, raw)
	if err != nil {
		return fmt.Errorf("update payment order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment order not found: %s", gatewayOrderID)
	}
	return nil
}

// List fetches a user's payment orders, optionally bounded by creation time.
func (r *PaymentOrderRepo) List(ctx context.Context, params ports.PaymentOrderListParams) ([]domain.PaymentOrder, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
	args = append(args, params.UserID)
	argIdx++

	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	query := fmt.Sprintf(`SELECT %s FROM payment_orders WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		paymentOrderColumns, strings.Join(conditions, " AND "), argIdx)
	args = append(args, params.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payment orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.PaymentOrder
	for rows.Next() {
		o, err := scanPaymentOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment order row: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment order rows: %w", err)
	}
	return orders, nil
}

func scanPaymentOrder(row pgx.Row) (*domain.PaymentOrder, error) {
	o := &domain.PaymentOrder{}
	var details []byte
	err := row.Scan(
		&o.GatewayOrderID, &o.UserID, &o.Amount, &o.Currency, &o.Status,
		&details, &o.IsDummy, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &o.PaymentDetails); err != nil {
			return nil, fmt.Errorf("decode payment details: %w", err)
		}
	}
	return o, nil
}

func marshalDetails(details []domain.PaymentDetail) ([]byte, error) {
	if details == nil {
		details = []domain.PaymentDetail{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode payment details: %w", err)
	}
	return raw, nil
}
