package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host       string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Ollama computes embeddings through an Ollama server.
type Ollama struct {
	client     *api.Client
	model      string
	timeout    time.Duration
	maxRetries int
	logger     *slog.Logger
}

// NewOllama creates an Ollama embedder. An empty host falls back to OLLAMA_HOST.
func NewOllama(cfg OllamaConfig, logger *slog.Logger) (*Ollama, error) {
	hostURL := envconfig.Host()
	if cfg.Host != "" {
		u, err := url.Parse(cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("embedding: parse host: %w", err)
		}
		hostURL = u
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ollama{
		client:     api.NewClient(hostURL, http.DefaultClient),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}, nil
}

// Embed implements Embedder. Failed calls are retried with a linear backoff.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	var err error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			o.logger.Warn("embedding: retrying",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		var vec []float32
		vec, err = o.embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("embedding: failed after %d retries: %w", o.maxRetries, err)
}

func (o *Ollama) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:   o.model,
		Prompt:  text,
		Options: map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: ollama: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("embedding: ollama returned an empty vector")
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
