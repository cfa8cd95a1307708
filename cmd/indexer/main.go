package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"person-vectors/internal/app"
	"person-vectors/internal/httputil"
	"person-vectors/internal/indexer"
	"person-vectors/internal/queue"
	"person-vectors/internal/store"
)

// populator is the part of indexer.Writer the worker drives.
type populator interface {
	PopulateAll(ctx context.Context, batchSize int) (int, error)
	PopulateIDs(ctx context.Context, ids []int64, batchSize int) (int, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, app.Needs{Embedder: true, Queue: true})
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()
	deps.Log.Info("indexer worker starting", "attributes", deps.Writer.Attributes(), "model", deps.Embedder.Model())

	g, ctx := errgroup.WithContext(ctx)

	// Run queue worker
	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypePopulate, populateHandler(deps.Writer, deps.Config.BatchSize, deps.Log))
	})

	// Run health check server
	g.Go(func() error {
		return httputil.ServeHealth(ctx, fmt.Sprintf(":%d", deps.Config.Port), deps.Log)
	})

	if err := g.Wait(); err != nil {
		deps.Log.Error("indexer service stopped", "err", err)
	}
}

// populateHandler runs one populate task. Transient failures are returned
// for redelivery with backoff; failures a rerun cannot fix are returned as
// permanent, and requests that can never succeed are acknowledged.
func populateHandler(w populator, defaultBatch int, log *slog.Logger) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		req, err := queue.DecodePopulate(task)
		if err != nil {
			log.Error("dropping malformed populate task", "id", task.ID, "err", err)
			return nil
		}
		batchSize := req.BatchSize
		if batchSize <= 0 {
			batchSize = defaultBatch
		}
		log := log.With("task_id", task.ID, "attempt", task.Attempts)

		var n int
		if req.All {
			n, err = w.PopulateAll(ctx, batchSize)
		} else {
			n, err = w.PopulateIDs(ctx, req.EntityIDs, batchSize)
		}
		if errors.Is(err, store.ErrEntityNotFound) {
			log.Warn("populate task names no existing people", "ids", req.EntityIDs)
			return nil
		}
		if err != nil {
			if !indexer.Retryable(err) {
				log.Error("populate task failed permanently", "committed", n, "err", err)
				return queue.Permanent(err)
			}
			log.Error("populate task failed", "committed", n, "err", err)
			return err
		}
		log.Info("populate task done", "committed", n, "all", req.All)
		return nil
	}
}
