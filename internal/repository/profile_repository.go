package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfileRepository reads learner profile fields owned by the platform.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// WalletAddress returns the wallet stored on the learner profile, or "".
func (r *ProfileRepository) WalletAddress(ctx context.Context, studentID string) (string, error) {
	var addr string
	err := r.pool.QueryRow(ctx,
		`SELECT wallet_address FROM learner_profiles WHERE student_id = $1`, studentID,
	).Scan(&addr)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return addr, err
}
