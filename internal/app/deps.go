package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"

	"person-vectors/internal/cache"
	"person-vectors/internal/codec"
	"person-vectors/internal/config"
	"person-vectors/internal/embeddings"
	"person-vectors/internal/indexer"
	"person-vectors/internal/logger"
	"person-vectors/internal/person"
	"person-vectors/internal/queue"
	"person-vectors/internal/search"
	"person-vectors/internal/store"
)

// Needs selects the optional components a service builds.
type Needs struct {
	// Embedder also builds the cache, Writer and Engine.
	Embedder bool
	Queue    bool
	// LogTo redirects JSON logs; stdout when nil.
	LogTo io.Writer
}

// Deps bundles common runtime dependencies for services.
type Deps struct {
	Config     config.Config
	Log        *slog.Logger
	Codec      codec.Codec
	Attributes person.AllowList
	Store      store.Store
	Queue      queue.Queue
	Embedder   embeddings.Embedder
	Cache      cache.Cache
	Writer     *indexer.Writer
	Engine     *search.Engine

	nc *nats.Conn
}

// Build loads env, config, and shared components.
func Build(ctx context.Context, needs Needs) (Deps, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Deps{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)
	if needs.LogTo != nil {
		log = logger.NewWriter(needs.LogTo, cfg.LogLevel)
	}
	return New(ctx, cfg, log, needs)
}

// New wires components from an already loaded configuration. On error,
// everything built so far is closed.
func New(ctx context.Context, cfg config.Config, log *slog.Logger, needs Needs) (deps Deps, err error) {
	if err := cfg.Validate(); err != nil {
		return Deps{}, fmt.Errorf("invalid configuration: %w", err)
	}
	deps = Deps{Config: cfg, Log: log, Codec: codec.New(cfg.EmbeddingDimensions, cfg.AllowNonFinite)}
	defer func() {
		if err != nil {
			_ = deps.Close()
			deps = Deps{}
		}
	}()

	deps.Attributes, err = buildAttributes(cfg)
	if err != nil {
		return deps, err
	}
	deps.Store, err = buildStore(ctx, cfg, deps.Codec, log)
	if err != nil {
		return deps, fmt.Errorf("failed to initialize store: %w", err)
	}
	if needs.Queue {
		deps.nc, deps.Queue, err = buildQueue(cfg, log)
		if err != nil {
			return deps, fmt.Errorf("failed to initialize queue: %w", err)
		}
	}
	if !needs.Embedder {
		return deps, nil
	}

	provider, err := buildEmbedder(cfg, log)
	if err != nil {
		return deps, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	deps.Cache = buildCache(cfg, log)
	deps.Embedder = cache.NewEmbedder(provider, deps.Cache, deps.Codec, cfg.CacheTTL, log)

	deps.Writer, err = indexer.NewWriter(deps.Store, deps.Embedder, deps.Codec, deps.Attributes, indexer.Options{
		Workers:    cfg.EncodeWorkers,
		Chunk:      cfg.EncodeChunk,
		MaxRetries: cfg.MaxRetries,
		RetryBase:  cfg.RetryBaseDelay,
		Timeout:    cfg.OperationTimeout,
	}, log)
	if err != nil {
		return deps, fmt.Errorf("failed to initialize writer: %w", err)
	}
	deps.Engine, err = search.NewEngine(deps.Store, deps.Embedder, deps.Codec, deps.Attributes, search.Options{
		DefaultTopK: cfg.SearchTopK,
		MaxTopK:     cfg.SearchMaxTopK,
		Timeout:     cfg.OperationTimeout,
		RetryBase:   cfg.RetryBaseDelay,
	}, log)
	if err != nil {
		return deps, fmt.Errorf("failed to initialize search engine: %w", err)
	}
	return deps, nil
}

// Close releases the provider, cache, queue connection and store.
func (d Deps) Close() error {
	var errs []error
	if d.Embedder != nil {
		errs = append(errs, d.Embedder.Close())
	}
	if d.Cache != nil {
		errs = append(errs, d.Cache.Close())
	}
	if d.nc != nil {
		errs = append(errs, d.nc.Drain())
	}
	if d.Store != nil {
		errs = append(errs, d.Store.Close())
	}
	return errors.Join(errs...)
}

func buildAttributes(cfg config.Config) (person.AllowList, error) {
	if len(cfg.VectorAttributes) == 0 {
		return person.DefaultAllowList(), nil
	}
	list, err := person.NewAllowList(cfg.VectorAttributes)
	if err != nil {
		return person.AllowList{}, fmt.Errorf("invalid VECTOR_ATTRIBUTES: %w", err)
	}
	return list, nil
}

func buildStore(ctx context.Context, cfg config.Config, c codec.Codec, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreProvider {
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when STORE_PROVIDER=postgres")
		}
		db, err := store.NewPostgres(ctx, cfg.DBURL, c, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		log.Info("using Postgres store")
		return db, nil
	case "sqlite":
		db, err := store.NewSQLite(ctx, cfg.SQLitePath, c, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
		}
		log.Info("using SQLite store", "path", cfg.SQLitePath)
		return db, nil
	default:
		return nil, fmt.Errorf("invalid STORE_PROVIDER: %s (valid options: postgres, sqlite)", cfg.StoreProvider)
	}
}

func buildQueue(cfg config.Config, log *slog.Logger) (*nats.Conn, queue.Queue, error) {
	switch cfg.QueueProvider {
	case "nats":
		if cfg.QueueURL == "" {
			return nil, nil, fmt.Errorf("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
		nc, err := nats.Connect(cfg.QueueURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("using NATS queue")
		return nc, queue.NewNATS(log, nc), nil
	default:
		return nil, nil, fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid option: nats)", cfg.QueueProvider)
	}
}

func buildEmbedder(cfg config.Config, log *slog.Logger) (embeddings.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "hugot":
		embedder, err := embeddings.NewHugotEmbedder(cfg.HugotModelPath, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize hugot embedder: %w", err)
		}
		log.Info("using hugot embedder", "model", cfg.EmbeddingModel, "path", cfg.HugotModelPath)
		return embedder, nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when EMBEDDING_PROVIDER=openai")
		}
		embedder, err := embeddings.NewOpenAIEmbedder(cfg.OpenAIKey, openai.EmbeddingModel(cfg.EmbeddingModel), cfg.EmbeddingDimensions, cfg.EmbeddingRPS)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI embedder: %w", err)
		}
		log.Info("using OpenAI embedder", "model", cfg.EmbeddingModel)
		return embedder, nil
	case "hash":
		embedder, err := embeddings.NewHashEmbedder(cfg.EmbeddingDimensions)
		if err != nil {
			return nil, err
		}
		log.Warn("using hash embedder; similarity is lexical only")
		return embedder, nil
	default:
		return nil, fmt.Errorf("invalid EMBEDDING_PROVIDER: %s (valid options: hugot, openai, hash)", cfg.EmbeddingProvider)
	}
}

// buildCache falls back to a no-op cache when Redis is not configured or unreachable.
func buildCache(cfg config.Config, log *slog.Logger) cache.Cache {
	if cfg.RedisAddr == "" {
		return cache.NewNoOpCache()
	}
	c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Warn("redis unavailable, embedding cache disabled", "err", err)
		return cache.NewNoOpCache()
	}
	log.Info("using Redis embedding cache", "addr", cfg.RedisAddr)
	return c
}
