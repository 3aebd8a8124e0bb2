package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/dossier/internal/generation"
	"github.com/starford/dossier/internal/ingest"
	"github.com/starford/dossier/internal/observability"
	"github.com/starford/dossier/internal/retrieval"
)

// Embedding providers.
const (
	EmbeddingHashing = "hashing"
	EmbeddingOllama  = "ollama"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig    `yaml:"app"`
	Sources    SourcesConfig        `yaml:"sources"`
	SQLite     SQLiteConfig         `yaml:"sqlite"`
	Postgres   PostgresConfig       `yaml:"postgres"`
	Embedding  EmbeddingConfig      `yaml:"embedding"`
	LLM        LLMConfig            `yaml:"llm"`
	Retrieval  retrieval.Config     `yaml:"retrieval"`
	Generation generation.Config    `yaml:"generation"`
	Ingest     IngestConfig         `yaml:"ingest"`
	Tracing    observability.Config `yaml:"tracing"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"app", c.App.Validate},
		{"sources", c.Sources.Validate},
		{"sqlite", c.SQLite.Validate},
		{"postgres", c.Postgres.Validate},
		{"embedding", c.Embedding.Validate},
		{"llm", c.LLM.Validate},
		{"retrieval", c.Retrieval.Validate},
		{"generation", c.Generation.Validate},
		{"ingest", c.Ingest.Validate},
		{"tracing", c.Tracing.Validate},
	}
	for _, chk := range checks {
		if err := chk.fn(); err != nil {
			return fmt.Errorf("%s: %w", chk.name, err)
		}
	}
	if c.Postgres.Enabled && c.Postgres.Dimensions != c.Embedding.Dimensions {
		return fmt.Errorf("postgres: dimensions %d do not match embedding dimensions %d",
			c.Postgres.Dimensions, c.Embedding.Dimensions)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SourcesConfig points at the directory of source documents.
type SourcesConfig struct {
	Dir string `yaml:"dir"`
	// Watch re-ingests sources edited on disk while the server runs.
	Watch bool `yaml:"watch"`
}

// Validate validates the sources configuration.
func (c *SourcesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// SQLiteConfig holds the chunk store database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// PostgresConfig enables the pgvector search index. When disabled, the index
// lives in memory and is rebuilt from SQLite at startup.
type PostgresConfig struct {
	Enabled    bool   `yaml:"enabled"`
	DSN        string `yaml:"dsn"`
	Dimensions int    `yaml:"dimensions"`
}

// Validate validates the Postgres configuration.
func (c *PostgresConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.Dimensions, validation.Required, validation.Min(1)),
	)
}

// EmbeddingConfig selects the embedder.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	Host       string        `yaml:"host"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// Validate validates the embedding configuration.
func (c *EmbeddingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(EmbeddingHashing, EmbeddingOllama)),
		validation.Field(&c.Model, validation.When(c.Provider == EmbeddingOllama, validation.Required)),
		validation.Field(&c.Dimensions, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxRetries, validation.Min(0)),
	)
}

// LLMConfig configures the text generation model.
type LLMConfig struct {
	Model             string  `yaml:"model"`
	Host              string  `yaml:"host"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Validate validates the LLM configuration.
func (c *LLMConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.RequestsPerSecond, validation.Min(0.0)),
		validation.Field(&c.Burst, validation.Min(0)),
	)
}

// IngestConfig controls chunking and embedding fan-out.
type IngestConfig struct {
	Chunker ingest.Chunker `yaml:",inline"`
	Workers int            `yaml:"workers"`
}

// Validate validates the ingest configuration.
func (c *IngestConfig) Validate() error {
	if err := c.Chunker.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Min(0), validation.Max(64)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Sources: SourcesConfig{
			Dir:   "./sources",
			Watch: true,
		},
		SQLite: SQLiteConfig{
			Path: "./dossier.db",
		},
		Postgres: PostgresConfig{
			Dimensions: 384,
		},
		Embedding: EmbeddingConfig{
			Provider:   EmbeddingHashing,
			Dimensions: 384,
			Timeout:    30 * time.Second,
			MaxRetries: 2,
		},
		LLM: LLMConfig{
			Model:             "llama3.1",
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Retrieval:  retrieval.DefaultConfig(),
		Generation: generation.DefaultConfig(),
		Ingest: IngestConfig{
			Chunker: ingest.DefaultChunker(),
			Workers: 4,
		},
		Tracing: observability.DefaultConfig(),
	}
}
