package cache

import (
	"context"
	"time"
)

// NoOpCache is a cache implementation that does nothing.
// Used as a fallback when Redis is unavailable; every lookup misses.
type NoOpCache struct{}

func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// GetVectors reports a miss for every key
func (c *NoOpCache) GetVectors(ctx context.Context, keys []string) ([][]byte, error) {
	return make([][]byte, len(keys)), nil
}

func (c *NoOpCache) SetVectors(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	return nil
}

func (c *NoOpCache) Purge(ctx context.Context, model string) error {
	return nil
}

func (c *NoOpCache) Close() error {
	return nil
}
