package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// TaskRecord replays an activity event that could not be written inline.
	TaskRecord = "activity:record"
	// QueueName is the asynq queue holding activity retries.
	QueueName = "activity"
)

// Enqueuer submits tasks to the background queue.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewRecordTask wraps the event in an asynq task.
func NewRecordTask(event Event) (*asynq.Task, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecord, body, asynq.Queue(QueueName), asynq.MaxRetry(10)), nil
}

// NewTaskHandler returns the worker handler draining queued events into store.
func NewTaskHandler(store Store) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var event Event
		if err := json.Unmarshal(t.Payload(), &event); err != nil {
			return fmt.Errorf("activity: decode task: %v: %w", err, asynq.SkipRetry)
		}
		if err := event.Validate(); err != nil {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return store.Append(ctx, event)
	}
}
