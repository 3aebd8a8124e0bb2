package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/dossier/internal/embedding"
	"github.com/starford/dossier/internal/index"
	"github.com/starford/dossier/internal/ingest"
	"github.com/starford/dossier/internal/llm"
	"github.com/starford/dossier/internal/observability"
	"github.com/starford/dossier/internal/storage"
	"github.com/starford/dossier/internal/writer"
)

// components is everything a command needs, built once from the config.
type components struct {
	cfg      *Config
	logger   *slog.Logger
	store    *storage.FS
	db       *index.DB
	index    index.ChunkIndex
	ingester *ingest.Ingester
	client   llm.Client
	closers  []func() error
}

// Close releases resources in reverse order of acquisition.
func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// build wires storage, persistence, search and the model client. The index is
// loaded from the chunk store before build returns.
func (a *application) build(ctx context.Context) (*components, error) {
	cfg := a.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sources_dir", cfg.Sources.Dir),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("embedding", cfg.Embedding.Provider),
		slog.String("llm_model", cfg.LLM.Model),
		slog.Bool("postgres", cfg.Postgres.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c := &components{cfg: cfg, logger: logger}
	fail := func(err error) (*components, error) {
		_ = c.Close()
		return nil, err
	}

	shutdownTracing, err := observability.Init(ctx, cfg.Tracing, a.version, a.logOutput, logger)
	if err != nil {
		return fail(err)
	}
	c.closers = append(c.closers, func() error { return shutdownTracing(context.Background()) })

	if err := os.MkdirAll(cfg.Sources.Dir, 0o755); err != nil {
		return fail(fmt.Errorf("create sources dir: %w", err))
	}
	if c.store, err = storage.NewFS(cfg.Sources.Dir); err != nil {
		return fail(fmt.Errorf("init storage: %w", err))
	}

	if c.db, err = index.Open(cfg.SQLite.Path); err != nil {
		return fail(fmt.Errorf("init chunk store: %w", err))
	}
	c.closers = append(c.closers, c.db.Close)

	emb, err := newEmbedder(cfg.Embedding, logger)
	if err != nil {
		return fail(err)
	}

	if cfg.Postgres.Enabled {
		pg, err := index.OpenPG(ctx, cfg.Postgres.DSN, cfg.Postgres.Dimensions, emb)
		if err != nil {
			return fail(fmt.Errorf("init pgvector index: %w", err))
		}
		c.closers = append(c.closers, func() error { pg.Close(); return nil })
		c.index = pg
	} else {
		c.index = index.NewMemory(emb)
	}

	c.ingester = ingest.New(c.store, c.db, c.index, emb, logger,
		ingest.WithChunker(cfg.Ingest.Chunker),
		ingest.WithWorkers(cfg.Ingest.Workers))
	if err := c.ingester.Load(ctx); err != nil {
		return fail(fmt.Errorf("load index: %w", err))
	}

	ollama, err := llm.NewOllama(cfg.LLM.Host, cfg.LLM.Model)
	if err != nil {
		return fail(err)
	}
	c.client = ollama
	if cfg.LLM.RequestsPerSecond > 0 {
		c.client = llm.NewRateLimited(ollama, cfg.LLM.RequestsPerSecond, cfg.LLM.Burst)
	}
	return c, nil
}

func newEmbedder(cfg EmbeddingConfig, logger *slog.Logger) (embedding.Embedder, error) {
	switch cfg.Provider {
	case EmbeddingOllama:
		e, err := embedding.NewOllama(embedding.OllamaConfig{
			Host:       cfg.Host,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init embedder: %w", err)
		}
		return e, nil
	default:
		return embedding.NewHashing(cfg.Dimensions), nil
	}
}

// service builds the writer service on top of c. notifier may be nil.
func (c *components) service(ctx context.Context, notifier writer.Notifier) *writer.Service {
	return writer.NewService(ctx, writer.Deps{
		Store:    c.store,
		DB:       c.db,
		Index:    c.index,
		Ingester: c.ingester,
		Client:   c.client,
		Defaults: writer.Defaults{
			Retrieval:  c.cfg.Retrieval,
			Generation: c.cfg.Generation,
		},
		Notifier: notifier,
		Logger:   c.logger,
	})
}
