package activity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	events []Event
	err    error
}

func (m *memoryStore) Append(ctx context.Context, event Event) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

type memoryQueue struct {
	tasks []*asynq.Task
	err   error
}

func (q *memoryQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: QueueName}, nil
}

func testEvent() Event {
	return Event{
		UserID:      "u-1",
		UserName:    "Laura",
		ClientID:    "c-1",
		ClientName:  "Delta",
		Module:      "accounting",
		Action:      "imported",
		Description: "Importación de declaración de Enero 2024 para Delta (1 archivos)",
		Metadata:    map[string]any{"import_id": "abc", "iva_balance": "10.00"},
		OccurredAt:  time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC),
	}
}

func newTestRecorder(store Store, queue Enqueuer) *Recorder {
	return NewRecorder(store, queue, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRecorderWritesInline(t *testing.T) {
	store := &memoryStore{}
	queue := &memoryQueue{}
	require.NoError(t, newTestRecorder(store, queue).Record(context.Background(), testEvent()))
	require.Len(t, store.events, 1)
	require.Empty(t, queue.tasks)
}

func TestRecorderFallsBackToQueue(t *testing.T) {
	store := &memoryStore{err: errors.New("activity_logs: relation locked")}
	queue := &memoryQueue{}
	require.NoError(t, newTestRecorder(store, queue).Record(context.Background(), testEvent()))
	require.Len(t, queue.tasks, 1)
	require.Equal(t, TaskRecord, queue.tasks[0].Type())

	var replayed Event
	require.NoError(t, json.Unmarshal(queue.tasks[0].Payload(), &replayed))
	require.Equal(t, "u-1", replayed.UserID)
	require.Equal(t, "abc", replayed.Metadata["import_id"])
	require.True(t, testEvent().OccurredAt.Equal(replayed.OccurredAt))
}

func TestRecorderFailsWhenBothPathsFail(t *testing.T) {
	storeErr := errors.New("store down")
	queueErr := errors.New("redis down")
	err := newTestRecorder(&memoryStore{err: storeErr}, &memoryQueue{err: queueErr}).Record(context.Background(), testEvent())
	require.ErrorIs(t, err, storeErr)
	require.ErrorIs(t, err, queueErr)

	err = newTestRecorder(&memoryStore{err: storeErr}, nil).Record(context.Background(), testEvent())
	require.ErrorIs(t, err, storeErr)
}

func TestRecorderRejectsInvalidEvent(t *testing.T) {
	store := &memoryStore{}
	ev := testEvent()
	ev.Action = ""
	err := newTestRecorder(store, nil).Record(context.Background(), ev)
	require.ErrorIs(t, err, ErrInvalidEvent)
	require.Empty(t, store.events)
}

func TestTaskHandlerReplaysIntoStore(t *testing.T) {
	task, err := NewRecordTask(testEvent())
	require.NoError(t, err)
	store := &memoryStore{}
	require.NoError(t, NewTaskHandler(store)(context.Background(), task))
	require.Len(t, store.events, 1)
	require.Equal(t, "imported", store.events[0].Action)
}

func TestTaskHandlerErrors(t *testing.T) {
	handler := NewTaskHandler(&memoryStore{})
	err := handler(context.Background(), asynq.NewTask(TaskRecord, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = handler(context.Background(), asynq.NewTask(TaskRecord, []byte(`{"user_id":"u-1"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, ErrInvalidEvent)

	storeErr := errors.New("still down")
	task, err := NewRecordTask(testEvent())
	require.NoError(t, err)
	err = NewTaskHandler(&memoryStore{err: storeErr})(context.Background(), task)
	require.ErrorIs(t, err, storeErr)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}
