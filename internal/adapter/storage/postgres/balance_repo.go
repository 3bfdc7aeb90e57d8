package postgres

import (
	"context"
	"errors"
	"fmt"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// BalanceRepo implements ports.BalanceRepository.
type BalanceRepo struct {
	pool Pool
}

// NewBalanceRepo creates a new BalanceRepo.
func NewBalanceRepo(pool Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool}
}

// Get fetches a user's balance row (non-locking read).
func (r *BalanceRepo) Get(ctx context.Context, userID string) (*domain.Balance, error) {
	query := `SELECT user_id, amount, updated_at FROM balances WHERE user_id = $1`

	b := &domain.Balance{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(&b.UserID, &b.Amount, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

// Adjust applies delta to the user's balance as a single conditional update.
// The guard and the write happen in one statement, so two concurrent debits
// can never both pass the check. This MUST be called within a transaction.
func (r *BalanceRepo) Adjust(ctx context.Context, tx pgx.Tx, userID string, delta, minResulting int64) (int64, error) {
	ensure := `INSERT INTO balances (user_id, amount, updated_at) VALUES ($1, 0, NOW())
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := tx.Exec(ctx, ensure, userID); err != nil {
		return 0, fmt.Errorf("ensure balance row: %w", err)
	}

	query := `UPDATE balances SET amount = amount + $2, updated_at = NOW()
		WHERE user_id = $1 AND amount + $2 >= $3
		RETURNING amount`

	var amount int64
	err := tx.QueryRow(ctx, query, userID, delta, minResulting).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ports.ErrInsufficientFunds
		}
		return 0, fmt.Errorf("adjust balance: %w", err)
	}
	return amount, nil
}
