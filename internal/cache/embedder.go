package cache

import (
	"context"
	"log/slog"
	"time"

	"person-vectors/internal/codec"
	"person-vectors/internal/embeddings"
)

// Embedder serves repeated texts from a Cache and forwards only misses to
// the wrapped provider. Cache failures degrade to a provider call.
type Embedder struct {
	next  embeddings.Embedder
	cache Cache
	codec codec.Codec
	ttl   time.Duration
	log   *slog.Logger
}

func NewEmbedder(next embeddings.Embedder, c Cache, vc codec.Codec, ttl time.Duration, log *slog.Logger) *Embedder {
	if log == nil {
		log = slog.Default()
	}
	return &Embedder{next: next, cache: c, codec: vc, ttl: ttl, log: log}
}

func (e *Embedder) Embed(ctx context.Context, text string) (embeddings.Vector, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([]embeddings.Vector, error) {
	if len(texts) == 0 {
		return []embeddings.Vector{}, nil
	}
	model, dim := e.next.Model(), e.next.Dimensions()
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = Key(model, dim, t)
	}

	out := make([]embeddings.Vector, len(texts))
	cached, err := e.cache.GetVectors(ctx, keys)
	if err != nil {
		e.log.Warn("embedding cache lookup failed", "err", err)
		cached = nil
	}

	var missIdx []int
	var missTexts []string
	for i := range texts {
		if i < len(cached) && cached[i] != nil {
			if v, err := e.codec.DecodeBinary(cached[i]); err == nil {
				out[i] = v
				continue
			}
			e.log.Warn("discarding corrupt cache entry", "key", keys[i])
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}
	if len(missIdx) == 0 {
		return out, nil
	}

	fresh, err := e.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, embeddings.NewEncodingError(model, len(missTexts), errCountMismatch(len(fresh), len(missTexts)))
	}

	entries := make(map[string][]byte, len(missIdx))
	for j, i := range missIdx {
		out[i] = fresh[j]
		if b, err := e.codec.EncodeBinary(fresh[j]); err == nil {
			entries[keys[i]] = b
		}
	}
	if err := e.cache.SetVectors(ctx, entries, e.ttl); err != nil {
		e.log.Warn("embedding cache store failed", "err", err)
	}
	return out, nil
}

func (e *Embedder) Model() string   { return e.next.Model() }
func (e *Embedder) Dimensions() int { return e.next.Dimensions() }
func (e *Embedder) Close() error    { return e.next.Close() }

var _ embeddings.Embedder = (*Embedder)(nil)
