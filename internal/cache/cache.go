package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Key prefix for cached embeddings
const keyPrefix = "emb:"

// Cache stores encoded embedding vectors keyed by model and text.
type Cache interface {
	// GetVectors returns one entry per key, nil for a miss.
	GetVectors(ctx context.Context, keys []string) ([][]byte, error)

	// SetVectors stores all entries with the same TTL
	SetVectors(ctx context.Context, entries map[string][]byte, ttl time.Duration) error

	// Purge removes every entry written for model
	Purge(ctx context.Context, model string) error

	// Close closes the cache connection
	Close() error
}

// Key derives the cache key for text encoded by model at the given
// dimension. The text itself never appears in the key.
func Key(model string, dimensions int, text string) string {
	h := sha256.New()
	h.Write([]byte(strconv.Itoa(dimensions)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return modelPrefix(model) + hex.EncodeToString(h.Sum(nil))
}

func modelPrefix(model string) string {
	return keyPrefix + model + ":"
}

func errCountMismatch(got, want int) error {
	return fmt.Errorf("provider returned %d vectors for %d texts", got, want)
}
