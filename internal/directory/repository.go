// Package directory resolves display names of clients and users.
package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/contadesk/contadesk/internal/shared"
)

// Repository reads names from the clients and users tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ClientName returns the client's business name.
func (r *Repository) ClientName(ctx context.Context, clientID string) (string, error) {
	return r.name(ctx, `SELECT COALESCE(NULLIF(business_name, ''), name) FROM clients WHERE id = $1`, clientID)
}

// UserName returns the user's full name.
func (r *Repository) UserName(ctx context.Context, userID string) (string, error) {
	return r.name(ctx, `SELECT COALESCE(NULLIF(full_name, ''), email) FROM users WHERE id = $1`, userID)
}

func (r *Repository) name(ctx context.Context, query, id string) (string, error) {
	var name string
	if err := r.pool.QueryRow(ctx, query, id).Scan(&name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", shared.ErrNotFound
		}
		return "", err
	}
	return name, nil
}
