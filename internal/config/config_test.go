package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Save original env and restore after test
	originalEnv := os.Environ()
	defer func() {
		os.Clearenv()
		for _, env := range originalEnv {
			for i, c := range env {
				if c == '=' {
					os.Setenv(env[:i], env[i+1:])
					break
				}
			}
		}
	}()

	// Clear env to test defaults
	os.Clearenv()

	cfg := Load()

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"Port", cfg.Port, 8080},
		{"LogLevel", cfg.LogLevel, "info"},
		{"StoreProvider", cfg.StoreProvider, "postgres"},
		{"SQLitePath", cfg.SQLitePath, "person_vectors.db"},
		{"QueueProvider", cfg.QueueProvider, "nats"},
		{"EmbeddingProvider", cfg.EmbeddingProvider, "hugot"},
		{"EmbeddingModel", cfg.EmbeddingModel, "sentence-transformers/all-MiniLM-L6-v2"},
		{"EmbeddingDimensions", cfg.EmbeddingDimensions, 384},
		{"BatchSize", cfg.BatchSize, 100},
		{"EncodeWorkers", cfg.EncodeWorkers, 4},
		{"MaxRetries", cfg.MaxRetries, 3},
		{"RetryBaseDelay", cfg.RetryBaseDelay, 200 * time.Millisecond},
		{"OperationTimeout", cfg.OperationTimeout, 30 * time.Second},
		{"SearchTopK", cfg.SearchTopK, 15},
		{"SearchMaxTopK", cfg.SearchMaxTopK, 100},
		{"DistanceMetric", cfg.DistanceMetric, "cosine"},
		{"AllowNonFinite", cfg.AllowNonFinite, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("expected %s=%v, got %v", tt.name, tt.expected, tt.got)
			}
		})
	}

	if len(cfg.VectorAttributes) != 0 {
		t.Errorf("expected no attribute override, got %v", cfg.VectorAttributes)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STORE_PROVIDER", "sqlite")
	t.Setenv("VECTOR_ATTRIBUTES", "FullName,LastName")
	t.Setenv("OPERATION_TIMEOUT", "5s")

	cfg := Load()

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.LogLevel)
	}
	if cfg.StoreProvider != "sqlite" {
		t.Errorf("expected store provider 'sqlite', got %s", cfg.StoreProvider)
	}
	if len(cfg.VectorAttributes) != 2 || cfg.VectorAttributes[1] != "LastName" {
		t.Errorf("expected two attributes, got %v", cfg.VectorAttributes)
	}
	if cfg.OperationTimeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", cfg.OperationTimeout)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{EmbeddingDimensions: 384, BatchSize: 100, SearchTopK: 15, SearchMaxTopK: 100, DistanceMetric: "cosine"}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero dimensions", func(c *Config) { c.EmbeddingDimensions = 0 }, true},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, true},
		{"top k above max", func(c *Config) { c.SearchTopK = 101 }, true},
		{"euclidean metric", func(c *Config) { c.DistanceMetric = "l2" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
