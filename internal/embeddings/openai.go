package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"
)

// OpenAIEmbedder calls OpenAI's embeddings API.
type OpenAIEmbedder struct {
	model      openai.EmbeddingModel
	dimensions int
	client     *openai.Client
	limiter    *rate.Limiter
}

const defaultEmbeddingTimeout = 30 * time.Second

// NewOpenAIEmbedder creates a new OpenAI embedder. Requests are throttled to
// rps per second; rps <= 0 disables throttling.
func NewOpenAIEmbedder(apiKey string, model openai.EmbeddingModel, dimensions int, rps float64) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	if model == "" {
		model = openai.EmbeddingModelTextEmbedding3Small
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	// Retries are owned by the callers so that backoff is applied once.
	cli := openai.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))
	return &OpenAIEmbedder{
		model:      model,
		dimensions: dimensions,
		client:     &cli,
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	if e == nil || e.client == nil {
		return nil, fmt.Errorf("nil openai client")
	}
	if len(texts) == 0 {
		return []Vector{}, nil
	}
	// The API rejects empty input; blank texts map to the zero vector.
	out := make([]Vector, len(texts))
	var idx []int
	var inputs []string
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = make(Vector, e.dimensions)
			continue
		}
		idx = append(idx, i)
		inputs = append(inputs, t)
	}
	if len(inputs) == 0 {
		return out, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	reqCtx, cancel := context.WithTimeout(ctx, defaultEmbeddingTimeout)
	defer cancel()

	resp, err := e.client.Embeddings.New(reqCtx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: inputs,
		},
		Model:      e.model,
		Dimensions: openai.Int(int64(e.dimensions)),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("%w: got %d, want %d", errCountMismatch, len(resp.Data), len(inputs))
	}
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(inputs) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		// Convert []float64 to []float32
		vec := make(Vector, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[idx[d.Index]] = vec
	}
	return out, nil
}

func (e *OpenAIEmbedder) Model() string   { return string(e.model) }
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }
func (e *OpenAIEmbedder) Close() error    { return nil }

var _ Embedder = (*OpenAIEmbedder)(nil)
