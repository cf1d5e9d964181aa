package activity

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore writes events into activity_logs.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append persists the event.
func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	if s == nil || s.pool == nil {
		return errors.New("activity: store not initialised")
	}
	if err := event.Validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return err
	}
	var at any
	if !event.OccurredAt.IsZero() {
		at = event.OccurredAt
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO activity_logs (user_id, user_name, client_id, client_name, module, action, description, metadata, occurred_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, COALESCE($9, NOW()))`,
		event.UserID, event.UserName, event.ClientID, event.ClientName, event.Module, event.Action, event.Description, metaJSON, at)
	return err
}
