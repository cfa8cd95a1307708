package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Vector is a simple float32 slice wrapper.
type Vector []float32

// Embedder maps text to fixed-dimension vectors. Implementations are
// deterministic for a pinned model and safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)
	// Model identifies the model version; vectors are comparable only within one model.
	Model() string
	Dimensions() int
	Close() error
}

// EncodingError reports a provider failure for one or more texts.
type EncodingError struct {
	Model string
	Texts int
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %d text(s) with %s: %v", e.Texts, e.Model, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// Timeout reports whether the provider call ran out of time.
func (e *EncodingError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// NewEncodingError wraps err unless it already is an *EncodingError.
func NewEncodingError(model string, texts int, err error) error {
	var ee *EncodingError
	if errors.As(err, &ee) {
		return err
	}
	return &EncodingError{Model: model, Texts: texts, Err: err}
}

var errCountMismatch = errors.New("embedding count mismatch")

// CosineSimilarity returns dot(a,b)/(|a||b|), or 0 when the lengths differ,
// the vectors are empty, or either has zero magnitude.
func CosineSimilarity(a, b Vector) float32 {
	return float32(1 - CosineDistance(a, b))
}

// CosineDistance returns 1 - cosine similarity in [0, 2]. Zero-magnitude,
// empty or mismatched inputs have distance 1.
func CosineDistance(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		va, vb := float64(a[i]), float64(b[i])
		dot += va * vb
		na += va * va
		nb += vb * vb
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// Normalize scales v to unit length in place. Zero vectors are left unchanged.
func Normalize(v Vector) Vector {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i, f := range v {
		v[i] = float32(float64(f) * inv)
	}
	return v
}
