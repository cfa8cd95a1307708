package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"person-vectors/internal/app"
	"person-vectors/internal/embeddings"
	"person-vectors/internal/httputil"
	"person-vectors/internal/person"
	"person-vectors/internal/search"
	"person-vectors/internal/store"
)

type searchRequest struct {
	Query     string `json:"query" validate:"required,max=512"`
	Attribute string `json:"attribute" validate:"required,max=64"`
	TopK      int    `json:"top_k"`
}

type result struct {
	person.Entity
	Similarity float64 `json:"similarity"`
	Distance   float64 `json:"distance"`
}

// searcher is the part of search.Engine the handlers need.
type searcher interface {
	Search(ctx context.Context, query, attribute string, topK int) ([]store.ScoredEntity, error)
	Attributes() []person.Attribute
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, app.Needs{Embedder: true})
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	addr := fmt.Sprintf(":%d", deps.Config.Port)
	deps.Log.Info("search service listening", "addr", addr, "attributes", deps.Engine.Attributes())
	if err := httputil.Serve(ctx, addr, newRouter(deps.Engine, deps.Log), deps.Log); err != nil {
		deps.Log.Error("server error", "err", err)
	}
}

func newRouter(engine searcher, log *slog.Logger) http.Handler {
	r := httputil.NewRouter(log)
	r.Post("/api/search", searchHandler(engine, log))
	r.Get("/api/attributes", attributesHandler(engine))
	r.Get("/healthz", httputil.HealthHandler(log))
	return r
}

func searchHandler(engine searcher, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.ValidationError(log, w, err)
			return
		}

		scored, err := engine.Search(r.Context(), req.Query, req.Attribute, req.TopK)
		if err != nil {
			status, message := statusFor(err)
			httputil.Fail(log.With("attribute", req.Attribute), w, message, err, status)
			return
		}

		results := make([]result, len(scored))
		for i, s := range scored {
			results[i] = result{Entity: s.Entity, Similarity: s.Similarity, Distance: s.Distance}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"attribute": req.Attribute,
			"results":   results,
		})
	}
}

func attributesHandler(engine searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"attributes": engine.Attributes()})
	}
}

// statusFor maps typed search errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	var (
		unknown  *person.UnknownAttributeError
		encoding *embeddings.EncodingError
	)
	switch {
	case errors.As(err, &unknown):
		return http.StatusBadRequest, unknown.Error()
	case errors.Is(err, search.ErrInvalidTopK):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &encoding):
		if encoding.Timeout() {
			return http.StatusGatewayTimeout, "embedding provider timed out"
		}
		return http.StatusBadGateway, "embedding provider failed"
	case store.IsTransient(err):
		return http.StatusServiceUnavailable, "store temporarily unavailable"
	}
	return http.StatusInternalServerError, "search failed"
}
