package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const consultationColumns = `id, user_id, provider_id, amount, status, started_at, ended_at, created_at, updated_at`

// ConsultationOrderRepo implements ports.ConsultationOrderRepository.
type ConsultationOrderRepo struct {
	pool Pool
}

// NewConsultationOrderRepo creates a new ConsultationOrderRepo.
func NewConsultationOrderRepo(pool Pool) *ConsultationOrderRepo {
	return &ConsultationOrderRepo{pool: pool}
}

// Create inserts a new consultation order.
func (r *ConsultationOrderRepo) Create(ctx context.Context, o *domain.ConsultationOrder) error {
	query := `INSERT INTO consultation_orders (` + consultationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		o.ID, o.UserID, o.ProviderID, o.Amount, o.Status,
		o.StartedAt, o.EndedAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert consultation order: %w", err)
	}
	return nil
}

// GetByID fetches a consultation order by id.
func (r *ConsultationOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ConsultationOrder, error) {
	query := `SELECT ` + consultationColumns + ` FROM consultation_orders WHERE id = $1`

	o, err := scanConsultationOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get consultation order: %w", err)
	}
	return o, nil
}

// Delete removes a consultation order. Used only to undo a booking whose
// charge could not be taken.
func (r *ConsultationOrderRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM consultation_orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete consultation order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("consultation order not found: %s", id)
	}
	return nil
}

// Transition is a compare-and-set on status: the row changes only if its
// current status is in from. Returns nil, nil when nothing matched.
func (r *ConsultationOrderRepo) Transition(ctx context.Context, id uuid.UUID, to domain.ConsultationStatus, from []domain.ConsultationStatus, at time.Time) (*domain.ConsultationOrder, error) {
	var startedAt, endedAt *time.Time
	if to == domain.ConsultationActive {
		startedAt = &at
	}
	if to.IsTerminal() {
		endedAt = &at
	}

	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	query := `UPDATE consultation_orders
		SET status = $2,
			started_at = COALESCE($3, started_at),
			ended_at = COALESCE($4, ended_at),
			updated_at = $5
		WHERE id = $1 AND status = ANY($6)
		RETURNING ` + consultationColumns

	o, err := scanConsultationOrder(r.pool.QueryRow(ctx, query, id, to, startedAt, endedAt, at, allowed))
	if err != nil {
		return nil, fmt.Errorf("transition consultation order: %w", err)
	}
	return o, nil
}

func scanConsultationOrder(row pgx.Row) (*domain.ConsultationOrder, error) {
	o := &domain.ConsultationOrder{}
	err := row.Scan(
		&o.ID, &o.UserID, &o.ProviderID, &o.Amount, &o.Status,
		&o.StartedAt, &o.EndedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}
