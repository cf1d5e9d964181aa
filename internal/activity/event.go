// Package activity appends user activity events to the firm's activity log.
package activity

import (
	"context"
	"errors"
	"time"
)

// Event is one append-only activity log entry.
type Event struct {
	UserID      string         `json:"user_id"`
	UserName    string         `json:"user_name"`
	ClientID    string         `json:"client_id"`
	ClientName  string         `json:"client_name"`
	Module      string         `json:"module"`
	Action      string         `json:"action"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// ErrInvalidEvent indicates an event missing mandatory fields.
var ErrInvalidEvent = errors.New("activity: event requires user, module and action")

// Validate checks the mandatory fields.
func (e Event) Validate() error {
	if e.UserID == "" || e.Module == "" || e.Action == "" {
		return ErrInvalidEvent
	}
	return nil
}

// Store persists events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
