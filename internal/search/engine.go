// Package search ranks people by the cosine distance between a query text
// and one stored attribute vector.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"person-vectors/internal/codec"
	"person-vectors/internal/embeddings"
	"person-vectors/internal/person"
	"person-vectors/internal/retry"
	"person-vectors/internal/store"
)

var ErrInvalidTopK = errors.New("invalid top_k")

// Options bound result sizes and per-call latency.
type Options struct {
	DefaultTopK int
	MaxTopK     int
	Timeout     time.Duration
	RetryBase   time.Duration
}

// Engine answers similarity queries against the person_vectors index.
type Engine struct {
	store    store.Store
	embedder embeddings.Embedder
	codec    codec.Codec
	attrs    person.AllowList
	opts     Options
	log      *slog.Logger
}

func NewEngine(st store.Store, emb embeddings.Embedder, c codec.Codec, attrs person.AllowList, opts Options, log *slog.Logger) (*Engine, error) {
	if attrs.Len() == 0 {
		return nil, person.ErrEmptyAllowList
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = 100
	}
	if opts.DefaultTopK <= 0 || opts.DefaultTopK > opts.MaxTopK {
		return nil, fmt.Errorf("%w: default %d outside [1, %d]", ErrInvalidTopK, opts.DefaultTopK, opts.MaxTopK)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 100 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: st, embedder: emb, codec: c, attrs: attrs, opts: opts, log: log}, nil
}

// Search returns up to topK people whose attribute vector is closest to the
// encoding of query, nearest first with ties broken by ascending person id.
// topK 0 selects the configured default.
func (e *Engine) Search(ctx context.Context, query, attribute string, topK int) ([]store.ScoredEntity, error) {
	attr, err := e.attrs.Resolve(attribute)
	if err != nil {
		return nil, err
	}
	k, err := e.resolveTopK(topK)
	if err != nil {
		return nil, err
	}

	vec, err := e.encode(ctx, query)
	if err != nil {
		return nil, err
	}

	var results []store.ScoredEntity
	// A transient read failure is retried once.
	err = retry.Do(ctx, 2, e.opts.RetryBase, store.IsTransient, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
		var err error
		results, err = e.store.SearchNearest(ctx, attr, vec, k)
		return err
	})
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []store.ScoredEntity{}
	}
	e.log.Debug("search", "attribute", attr, "top_k", k, "results", len(results))
	return results, nil
}

// Attributes lists the searchable attributes.
func (e *Engine) Attributes() []person.Attribute {
	return e.attrs.Attributes()
}

// DefaultTopK is the result count used when a caller passes 0.
func (e *Engine) DefaultTopK() int {
	return e.opts.DefaultTopK
}

func (e *Engine) resolveTopK(topK int) (int, error) {
	switch {
	case topK == 0:
		return e.opts.DefaultTopK, nil
	case topK < 0 || topK > e.opts.MaxTopK:
		return 0, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidTopK, topK, e.opts.MaxTopK)
	}
	return topK, nil
}

func (e *Engine) encode(ctx context.Context, query string) (embeddings.Vector, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, embeddings.NewEncodingError(e.embedder.Model(), 1, err)
	}
	if err := e.codec.Validate(vec); err != nil {
		return nil, err
	}
	return vec, nil
}
