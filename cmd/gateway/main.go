package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"person-vectors/internal/app"
	"person-vectors/internal/httputil"
	"person-vectors/internal/queue"
)

type indexRequest struct {
	EntityIDs []int64 `json:"entity_ids" validate:"required_without=All,dive,gt=0"`
	All       bool    `json:"all"`
	BatchSize int     `json:"batch_size" validate:"omitempty,min=1,max=10000"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, app.Needs{Queue: true})
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	addr := fmt.Sprintf(":%d", deps.Config.Port)
	deps.Log.Info("gateway listening", "addr", addr)
	if err := httputil.Serve(ctx, addr, newRouter(deps), deps.Log); err != nil {
		deps.Log.Error("server failed", "err", err)
	}
}

func newRouter(deps app.Deps) http.Handler {
	r := httputil.NewRouter(deps.Log)
	r.Post("/api/index", indexHandler(deps))
	r.Get("/api/index/stats", statsHandler(deps))
	r.Post("/api/search", searchHandler(deps))
	r.Get("/healthz", httputil.HealthHandler(deps.Log))
	return r
}

func indexHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req indexRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		switch {
		case req.All && len(req.EntityIDs) > 0:
			httputil.Fail(deps.Log, w, "entity_ids and all are mutually exclusive", nil, http.StatusBadRequest)
			return
		case !req.All && len(req.EntityIDs) == 0:
			httputil.Fail(deps.Log, w, "entity_ids must name at least one person unless all is set", nil, http.StatusBadRequest)
			return
		}

		task, err := queue.NewPopulateTask(queue.PopulateRequest{
			EntityIDs: req.EntityIDs,
			All:       req.All,
			BatchSize: req.BatchSize,
		})
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to build task", err, http.StatusInternalServerError)
			return
		}
		if err := queue.EnqueueWithRetry(r.Context(), deps.Queue, task, 3, 200*time.Millisecond); err != nil {
			httputil.Fail(deps.Log, w, "failed to enqueue populate task; please retry", err, http.StatusServiceUnavailable)
			return
		}

		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"task_id": task.ID.String(),
			"status":  "queued",
		})
	}
}

func statsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts := make(map[string]int, deps.Attributes.Len())
		for _, a := range deps.Attributes.Attributes() {
			n, err := deps.Store.CountVectors(r.Context(), a)
			if err != nil {
				httputil.Fail(deps.Log, w, "failed to count vectors", err, http.StatusInternalServerError)
				return
			}
			counts[string(a)] = n
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"vectors": counts})
	}
}

func searchHandler(deps app.Deps) http.HandlerFunc {
	searchURL := deps.Config.SearchURL
	client := &http.Client{Timeout: 60 * time.Second}

	return func(w http.ResponseWriter, r *http.Request) {
		// Forward request to search service
		req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, searchURL, r.Body)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to create request", err, http.StatusInternalServerError)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			httputil.Fail(deps.Log, w, "search service unavailable", err, http.StatusServiceUnavailable)
			return
		}
		defer resp.Body.Close()

		// Copy response status, headers, and body
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			deps.Log.Error("failed to copy response", "err", err)
		}
	}
}
