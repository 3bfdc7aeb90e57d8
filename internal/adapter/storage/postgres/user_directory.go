package postgres

import (
	"context"
	"fmt"
)

// UserDirectory implements ports.UserDirectory over the shared users table.
type UserDirectory struct {
	pool Pool
}

// NewUserDirectory creates a new UserDirectory.
func NewUserDirectory(pool Pool) *UserDirectory {
	return &UserDirectory{pool: pool}
}

// Exists reports whether a user row exists.
func (d *UserDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

// IncrementConsultationCount bumps a provider's completed session counter.
func (d *UserDirectory) IncrementConsultationCount(ctx context.Context, providerID string) error {
	query := `UPDATE users SET consultation_count = consultation_count + 1, updated_at = NOW() WHERE id = $1`

	tag, err := d.pool.Exec(ctx, query, providerID)
	if err != nil {
		return fmt.Errorf("increment consultation count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("provider not found: %s", providerID)
	}
	return nil
}
