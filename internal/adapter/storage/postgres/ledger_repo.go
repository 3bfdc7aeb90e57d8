package postgres

import (
	"context"
	"errors"
	"fmt"

	"settlement-engine/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

const ledgerColumns = `id, user_id, direction, amount, resulting_balance, reason, reference_id, reference_type, created_at`

// LedgerRepo implements ports.LedgerRepository.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Append inserts a ledger transaction within a database transaction. If a
// transaction for the same reference already exists the stored row is returned
// and created is false.
func (r *LedgerRepo) Append(ctx context.Context, tx pgx.Tx, e *domain.LedgerTransaction) (*domain.LedgerTransaction, bool, error) {
	query := `INSERT INTO ledger_transactions (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`

	tag, err := tx.Exec(ctx, query,
		e.ID, e.UserID, e.Direction, e.Amount, e.ResultingBalance,
		e.Reason, e.ReferenceID, e.ReferenceType, e.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert ledger transaction: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return e, true, nil
	}

	existing, err := scanLedgerTransaction(tx.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_transactions WHERE reference_id = $1 AND reference_type = $2`,
		e.ReferenceID, e.ReferenceType,
	))
	if err != nil {
		return nil, false, fmt.Errorf("get conflicting ledger transaction: %w", err)
	}
	if existing == nil {
		return nil, false, fmt.Errorf("ledger transaction %s conflicted but was not found", e.ID)
	}
	return existing, false, nil
}

// GetByReference fetches the transaction recorded for a reference, if any.
func (r *LedgerRepo) GetByReference(ctx context.Context, referenceID string, referenceType domain.ReferenceType) (*domain.LedgerTransaction, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_transactions
		WHERE reference_id = $1 AND reference_type = $2`

	e, err := scanLedgerTransaction(r.pool.QueryRow(ctx, query, referenceID, referenceType))
	if err != nil {
		return nil, fmt.Errorf("get ledger transaction by reference: %w", err)
	}
	return e, nil
}

// ListByUser returns a user's most recent transactions, newest first.
func (r *LedgerRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.LedgerTransaction, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_transactions
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger transactions: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerTransaction
	for rows.Next() {
		e := domain.LedgerTransaction{}
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Direction, &e.Amount, &e.ResultingBalance,
			&e.Reason, &e.ReferenceID, &e.ReferenceType, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return entries, nil
}

func scanLedgerTransaction(row pgx.Row) (*domain.LedgerTransaction, error) {
	e := &domain.LedgerTransaction{}
	err := row.Scan(
		&e.ID, &e.UserID, &e.Direction, &e.Amount, &e.ResultingBalance,
		&e.Reason, &e.ReferenceID, &e.ReferenceType, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}
