package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnknownUser indicates the session refers to a missing or inactive user.
var ErrUnknownUser = errors.New("identity: unknown user")

// RoleRepository looks up user roles in Postgres.
type RoleRepository struct {
	pool *pgxpool.Pool
}

// NewRoleRepository constructs a RoleRepository.
func NewRoleRepository(pool *pgxpool.Pool) *RoleRepository {
	return &RoleRepository{pool: pool}
}

// RoleOf returns the role of an active user.
func (r *RoleRepository) RoleOf(ctx context.Context, userID string) (Role, error) {
	var role string
	err := r.pool.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 AND is_active`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUnknownUser
		}
		return "", err
	}
	return Role(strings.ToLower(strings.TrimSpace(role))), nil
}
