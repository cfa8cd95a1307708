package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestEnqueueWithRetry(t *testing.T) {
	task := Task{Type: TaskTypePopulate, Payload: []byte(`{"all":true}`)}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		q := &MockQueue{}
		q.On("Enqueue", mock.Anything, task).Return(errors.New("nats: timeout")).Twice()
		q.On("Enqueue", mock.Anything, task).Return(nil).Once()

		err := EnqueueWithRetry(context.Background(), q, task, 3, time.Millisecond)
		assert.NoError(t, err)
		q.AssertNumberOfCalls(t, "Enqueue", 3)
	})

	t.Run("returns last error when attempts run out", func(t *testing.T) {
		q := &MockQueue{}
		q.On("Enqueue", mock.Anything, task).Return(errors.New("nats: no servers"))

		err := EnqueueWithRetry(context.Background(), q, task, 2, time.Millisecond)
		assert.EqualError(t, err, "nats: no servers")
		q.AssertNumberOfCalls(t, "Enqueue", 2)
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		q := &MockQueue{}
		q.On("Enqueue", mock.Anything, task).Return(errors.New("nats: timeout"))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := EnqueueWithRetry(ctx, q, task, 5, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
		q.AssertNumberOfCalls(t, "Enqueue", 1)
	})
}

func TestPopulateTaskRoundTrip(t *testing.T) {
	task, err := NewPopulateTask(PopulateRequest{EntityIDs: []int64{1, 2}})
	assert.NoError(t, err)
	assert.Equal(t, TaskTypePopulate, task.Type)
	assert.JSONEq(t, `{"entity_ids":[1,2]}`, string(task.Payload))

	req, err := DecodePopulate(task)
	assert.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, req.EntityIDs)
}

func TestDecodePopulateRejects(t *testing.T) {
	tests := []struct {
		name string
		task Task
	}{
		{"wrong type", Task{Type: "parse", Payload: []byte(`{"all":true}`)}},
		{"bad json", Task{Type: TaskTypePopulate, Payload: []byte(`{`)}},
		{"empty selection", Task{Type: TaskTypePopulate, Payload: []byte(`{}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePopulate(tt.task)
			assert.Error(t, err)
		})
	}
}

func TestReschedule(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	failure := errors.New("connection reset")

	tests := []struct {
		name         string
		task         Task
		err          error
		wantRequeue  bool
		wantAttempts int
		wantDelay    time.Duration
	}{
		{"first failure", Task{MaxAttempts: 5}, failure, true, 1, 2 * time.Second},
		{"third failure", Task{Attempts: 2, MaxAttempts: 5}, failure, true, 3, 8 * time.Second},
		{"attempts exhausted", Task{Attempts: 4, MaxAttempts: 5}, failure, false, 5, 0},
		{"default max attempts", Task{Attempts: DefaultMaxAttempts - 1}, failure, false, DefaultMaxAttempts, 0},
		{"permanent", Task{MaxAttempts: 5}, Permanent(failure), false, 1, 0},
		{"wrapped permanent", Task{MaxAttempts: 5}, fmt.Errorf("populate: %w", Permanent(failure)), false, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := Reschedule(tt.task, tt.err, time.Second, now)
			assert.Equal(t, tt.wantRequeue, ok)
			assert.Equal(t, tt.wantAttempts, next.Attempts)
			if tt.wantRequeue {
				assert.Equal(t, now.Add(tt.wantDelay), next.NotBefore)
			}
		})
	}
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, Permanent(nil))

	cause := errors.New("violates foreign key")
	err := Permanent(cause)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, cause)
	assert.EqualError(t, err, "violates foreign key")
	assert.False(t, IsPermanent(cause))
}

func TestWaitUntil(t *testing.T) {
	assert.NoError(t, waitUntil(context.Background(), time.Time{}))
	assert.NoError(t, waitUntil(context.Background(), time.Now().Add(5*time.Millisecond)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := waitUntil(ctx, time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHandleDropsPermanentFailure(t *testing.T) {
	q := &natsQueue{log: slog.New(slog.NewTextHandler(io.Discard, nil)), base: time.Millisecond}
	task, err := NewPopulateTask(PopulateRequest{All: true})
	assert.NoError(t, err)
	data, err := json.Marshal(task)
	assert.NoError(t, err)

	calls := 0
	// The queue has no connection, so a redelivery attempt would panic.
	q.handle(context.Background(), data, func(_ context.Context, got Task) error {
		calls++
		assert.Equal(t, task.ID, got.ID)
		return Permanent(errors.New("malformed vector"))
	})
	assert.Equal(t, 1, calls)

	q.handle(context.Background(), []byte("not json"), func(context.Context, Task) error {
		calls++
		return nil
	})
	assert.Equal(t, 1, calls)
}
