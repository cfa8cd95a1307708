package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"person-vectors/internal/retry"
)

// TaskType enumerates supported task categories.
type TaskType string

// TaskTypePopulate asks an indexer to (re)encode people. The payload is a
// JSON PopulateRequest.
const TaskTypePopulate TaskType = "populate"

// PopulateRequest selects the people to index: either explicit ids or all.
type PopulateRequest struct {
	EntityIDs []int64 `json:"entity_ids,omitempty"`
	All       bool    `json:"all,omitempty"`
	BatchSize int     `json:"batch_size,omitempty"`
}

// NewPopulateTask builds a populate task carrying req.
func NewPopulateTask(req PopulateRequest) (Task, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Task{}, err
	}
	return Task{ID: uuid.New(), Type: TaskTypePopulate, Payload: body, MaxAttempts: DefaultMaxAttempts}, nil
}

// DecodePopulate reads the PopulateRequest carried by task.
func DecodePopulate(task Task) (PopulateRequest, error) {
	var req PopulateRequest
	if task.Type != TaskTypePopulate {
		return req, fmt.Errorf("unexpected task type %q", task.Type)
	}
	if err := json.Unmarshal(task.Payload, &req); err != nil {
		return req, fmt.Errorf("decode populate payload: %w", err)
	}
	if !req.All && len(req.EntityIDs) == 0 {
		return req, fmt.Errorf("populate payload selects no people")
	}
	return req, nil
}

// Task represents a unit of work handed to an indexer.
type Task struct {
	ID          uuid.UUID
	Type        TaskType
	Payload     []byte
	Attempts    int
	MaxAttempts int
	NotBefore   time.Time
}

// Handler processes one task. A returned error schedules redelivery unless
// it is wrapped with Permanent.
type Handler func(context.Context, Task) error

// DefaultMaxAttempts bounds deliveries of a task that does not set MaxAttempts.
const DefaultMaxAttempts = 5

// PermanentError marks a handler failure that redelivery cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the queue drops the task instead of redelivering it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Reschedule decides whether a task that failed with handlerErr is delivered
// again. The returned task has Attempts advanced and NotBefore pushed out by
// exponential backoff from base. It reports false for permanent failures and
// once MaxAttempts deliveries have been made.
func Reschedule(task Task, handlerErr error, base time.Duration, now time.Time) (Task, bool) {
	task.Attempts++
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = DefaultMaxAttempts
	}
	if IsPermanent(handlerErr) || task.Attempts >= task.MaxAttempts {
		return task, false
	}
	task.NotBefore = now.Add(retry.ExponentialBackoff(task.Attempts, base))
	return task, true
}

// Queue exposes a minimal contract to enqueue and consume tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Worker(ctx context.Context, taskType TaskType, handler Handler) error
}

// EnqueueWithRetry attempts to enqueue with retries and exponential backoff.
func EnqueueWithRetry(ctx context.Context, q Queue, task Task, attempts int, base time.Duration) error {
	err := retry.Do(ctx, attempts, base, nil, func(ctx context.Context) error {
		return q.Enqueue(ctx, task)
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
