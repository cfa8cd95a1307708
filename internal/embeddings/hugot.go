package embeddings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

// HugotEmbedder runs a sentence-transformers model (all-MiniLM-L6-v2 by
// default) locally through hugot's pure Go backend. The session is created
// lazily on first use; inference is serialized by mu.
type HugotEmbedder struct {
	modelPath  string
	model      string
	dimensions int

	mu       sync.Mutex
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
}

// NewHugotEmbedder expects modelPath to be an exported ONNX model directory
// containing tokenizer.json.
func NewHugotEmbedder(modelPath, model string, dimensions int) (*HugotEmbedder, error) {
	if _, err := os.Stat(filepath.Join(modelPath, "tokenizer.json")); err != nil {
		return nil, fmt.Errorf("no tokenizer.json in %s: %w", modelPath, err)
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	return &HugotEmbedder{modelPath: modelPath, model: model, dimensions: dimensions}, nil
}

// initialize must be called with mu held.
func (h *HugotEmbedder) initialize() error {
	if h.pipeline != nil {
		return nil
	}
	session, err := hugot.NewGoSession()
	if err != nil {
		return fmt.Errorf("create hugot session: %w", err)
	}
	config := hugot.FeatureExtractionConfig{
		ModelPath: h.modelPath,
		Name:      "person-embeddings",
		Options: []hugot.FeatureExtractionOption{
			pipelines.WithNormalization(),
		},
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		_ = session.Destroy()
		return fmt.Errorf("create feature extraction pipeline: %w", err)
	}
	h.session = session
	h.pipeline = pipeline
	return nil
}

func (h *HugotEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	vecs, err := h.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (h *HugotEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return []Vector{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.initialize(); err != nil {
		return nil, err
	}
	result, err := h.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("run embedding pipeline: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d, want %d", errCountMismatch, len(result.Embeddings), len(texts))
	}
	out := make([]Vector, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vec := make(Vector, len(emb))
		copy(vec, emb)
		out[i] = vec
	}
	return out, nil
}

func (h *HugotEmbedder) Model() string   { return h.model }
func (h *HugotEmbedder) Dimensions() int { return h.dimensions }

// Close releases the hugot session.
func (h *HugotEmbedder) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return nil
	}
	err := h.session.Destroy()
	h.session = nil
	h.pipeline = nil
	return err
}

var _ Embedder = (*HugotEmbedder)(nil)
