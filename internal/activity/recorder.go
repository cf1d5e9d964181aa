package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Recorder writes events inline and falls back to the background queue when
// the store is unavailable. Record only fails when both paths fail.
type Recorder struct {
	store  Store
	queue  Enqueuer
	logger *slog.Logger
}

// NewRecorder constructs a Recorder. queue may be nil.
func NewRecorder(store Store, queue Enqueuer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, queue: queue, logger: logger}
}

// Record appends the event.
func (r *Recorder) Record(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	storeErr := r.store.Append(ctx, event)
	if storeErr == nil {
		return nil
	}
	if r.queue == nil {
		return storeErr
	}
	task, err := NewRecordTask(event)
	if err != nil {
		return errors.Join(storeErr, err)
	}
	if _, err := r.queue.EnqueueContext(ctx, task); err != nil {
		return errors.Join(storeErr, fmt.Errorf("activity: enqueue retry: %w", err))
	}
	r.logger.Warn("activity event queued for retry",
		slog.String("module", event.Module),
		slog.String("action", event.Action),
		slog.Any("error", storeErr))
	return nil
}
