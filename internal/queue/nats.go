package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	subjectPrefix = "tasks."
	groupPrefix   = "workers-"

	// redeliveryBase is the first backoff step between deliveries of a failed task.
	redeliveryBase = time.Second
)

// NewNATS returns a queue on core NATS subjects. Tasks are published to
// tasks.<type> and consumed by the workers-<type> queue group, so each task
// reaches one worker.
func NewNATS(log *slog.Logger, nc *nats.Conn) Queue {
	return &natsQueue{log: log, nc: nc, base: redeliveryBase}
}

type natsQueue struct {
	log  *slog.Logger
	nc   *nats.Conn
	base time.Duration
}

func subject(t TaskType) string { return subjectPrefix + string(t) }

func (q *natsQueue) Enqueue(_ context.Context, task Task) error {
	if task.Type == "" {
		return errors.New("task type required")
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.nc.Publish(subject(task.Type), body)
}

// Worker handles tasks of taskType one at a time until ctx is done.
func (q *natsQueue) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	sub, err := q.nc.QueueSubscribe(subject(taskType), groupPrefix+string(taskType), func(msg *nats.Msg) {
		q.handle(ctx, msg.Data, handler)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

func (q *natsQueue) handle(ctx context.Context, data []byte, handler Handler) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		q.log.Error("failed to decode task", "err", err)
		return
	}
	log := q.log.With("id", task.ID, "type", task.Type, "attempt", task.Attempts)

	if err := waitUntil(ctx, task.NotBefore); err != nil {
		// Shutting down before the task was due; publish it back unchanged
		// so another worker picks it up.
		if err := q.Enqueue(context.WithoutCancel(ctx), task); err != nil {
			log.Error("failed to return task on shutdown", "err", err)
		}
		return
	}

	handlerErr := handler(ctx, task)
	if handlerErr == nil {
		return
	}
	next, ok := Reschedule(task, handlerErr, q.base, time.Now())
	if !ok {
		log.Error("task dropped", "err", handlerErr, "permanent", IsPermanent(handlerErr), "attempts", next.Attempts)
		return
	}
	if err := q.Enqueue(context.WithoutCancel(ctx), next); err != nil {
		log.Error("failed to re-enqueue task after failure", "handler_err", handlerErr, "enqueue_err", err)
		return
	}
	log.Warn("task scheduled for redelivery", "err", handlerErr, "not_before", next.NotBefore)
}

// waitUntil blocks until t or until ctx is done, whichever comes first.
func waitUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
