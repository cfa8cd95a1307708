package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration shared by all services.
type Config struct {
	// Server
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Store
	StoreProvider string `env:"STORE_PROVIDER" envDefault:"postgres"` // "postgres" or "sqlite" (embedded, local runs)
	DBURL         string `env:"DB_URL"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"person_vectors.db"`

	// Queue
	QueueProvider string `env:"QUEUE_PROVIDER" envDefault:"nats"`
	QueueURL      string `env:"QUEUE_URL"`

	// Embeddings
	EmbeddingProvider   string  `env:"EMBEDDING_PROVIDER" envDefault:"hugot"` // "hugot", "openai" or "hash"
	EmbeddingModel      string  `env:"EMBEDDING_MODEL" envDefault:"sentence-transformers/all-MiniLM-L6-v2"`
	EmbeddingDimensions int     `env:"EMBEDDING_DIMENSIONS" envDefault:"384"`
	HugotModelPath      string  `env:"HUGOT_MODEL_PATH" envDefault:"./models/all-MiniLM-L6-v2"`
	OpenAIKey           string  `env:"OPENAI_API_KEY"`
	EmbeddingRPS        float64 `env:"EMBEDDING_RPS" envDefault:"5"`
	AllowNonFinite      bool    `env:"ALLOW_NON_FINITE" envDefault:"false"`

	// Indexing
	VectorAttributes []string      `env:"VECTOR_ATTRIBUTES" envSeparator:","`
	BatchSize        int           `env:"BATCH_SIZE" envDefault:"100"`
	EncodeWorkers    int           `env:"ENCODE_WORKERS" envDefault:"4"`
	EncodeChunk      int           `env:"ENCODE_CHUNK" envDefault:"32"`
	MaxRetries       int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"200ms"`
	OperationTimeout time.Duration `env:"OPERATION_TIMEOUT" envDefault:"30s"`

	// Search
	SearchTopK     int    `env:"SEARCH_TOP_K" envDefault:"15"`
	SearchMaxTopK  int    `env:"SEARCH_MAX_TOP_K" envDefault:"100"`
	DistanceMetric string `env:"DISTANCE_METRIC" envDefault:"cosine"`
	SearchURL      string `env:"SEARCH_URL" envDefault:"http://search:8081/api/search"`

	// Cache
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"168h"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	switch {
	case c.EmbeddingDimensions <= 0:
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive, got %d", c.EmbeddingDimensions)
	case c.BatchSize <= 0:
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	case c.SearchTopK <= 0 || c.SearchTopK > c.SearchMaxTopK:
		return fmt.Errorf("SEARCH_TOP_K must be in [1, %d], got %d", c.SearchMaxTopK, c.SearchTopK)
	case c.DistanceMetric != "cosine":
		return fmt.Errorf("invalid DISTANCE_METRIC: %s (valid option: cosine)", c.DistanceMetric)
	}
	return nil
}
