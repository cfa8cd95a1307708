package cache

import (
	"context"
	"testing"
	"time"
)

// TestNoOpCache verifies that NoOpCache always misses and never fails
func TestNoOpCache(t *testing.T) {
	cache := NewNoOpCache()
	ctx := context.Background()

	key := Key("test-model", 4, "Jane Doe")
	err := cache.SetVectors(ctx, map[string][]byte{key: {1, 2, 3, 4}}, time.Hour)
	if err != nil {
		t.Errorf("Expected no error on SetVectors, got %v", err)
	}

	got, err := cache.GetVectors(ctx, []string{key, "other"})
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected one entry per key, got %d", len(got))
	}
	for i, v := range got {
		if v != nil {
			t.Errorf("Expected miss for key %d, got %v", i, v)
		}
	}

	if err := cache.Purge(ctx, "test-model"); err != nil {
		t.Errorf("Expected no error on Purge, got %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Errorf("Expected no error on Close, got %v", err)
	}
}

func TestKey(t *testing.T) {
	a := Key("m", 4, "Jane Doe")
	if a != Key("m", 4, "Jane Doe") {
		t.Error("Expected key to be stable")
	}
	if a == Key("m", 8, "Jane Doe") {
		t.Error("Expected dimension to change the key")
	}
	if a == Key("n", 4, "Jane Doe") {
		t.Error("Expected model to change the key")
	}
	if a[:len("emb:m:")] != "emb:m:" {
		t.Errorf("Expected model prefix, got %s", a)
	}
}
