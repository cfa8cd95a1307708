package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashModel is the model identifier reported by HashEmbedder.
const HashModel = "hash-trigram-v1"

// HashEmbedder is a deterministic, dependency-free provider that projects word
// tokens and character trigrams into a fixed number of buckets (feature
// hashing), then L2-normalizes the result. Empty or whitespace-only text maps
// to the zero vector. It is meant for development and tests; the
// vectors carry lexical rather than semantic similarity.
type HashEmbedder struct {
	dimensions int
}

func NewHashEmbedder(dimensions int) (*HashEmbedder, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	return &HashEmbedder{dimensions: dimensions}, nil
}

func (h *HashEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make(Vector, h.dimensions)
	for _, feature := range features(text) {
		hasher := fnv.New64a()
		_, _ = hasher.Write([]byte(feature))
		sum := hasher.Sum64()
		idx := int(sum % uint64(h.dimensions))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	return Normalize(vec), nil
}

func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i, text := range texts {
		vec, err := h.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (h *HashEmbedder) Model() string   { return HashModel }
func (h *HashEmbedder) Dimensions() int { return h.dimensions }
func (h *HashEmbedder) Close() error    { return nil }

// features returns "w:<token>" for each word and "t:<trigram>" for each
// character trigram of each padded word.
func features(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, w := range words {
		out = append(out, "w:"+w)
		runes := []rune("^" + w + "$")
		for i := 0; i+3 <= len(runes); i++ {
			out = append(out, "t:"+string(runes[i:i+3]))
		}
	}
	return out
}

var _ Embedder = (*HashEmbedder)(nil)
