package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/dossier/pkg/config"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestConfig_EmbeddingProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Embedding.Provider = "openai"
	err := cfg.Validate()
	if err == nil || !strings.HasPrefix(err.Error(), "embedding:") {
		t.Fatalf("expected embedding error, got %v", err)
	}

	cfg = NewDefaultConfig()
	cfg.Embedding.Provider = EmbeddingOllama
	if err := cfg.Validate(); err == nil {
		t.Fatal("ollama embeddings without a model should fail")
	}
	cfg.Embedding.Model = "nomic-embed-text"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("ollama embeddings with a model should pass: %v", err)
	}
}

func TestConfig_PostgresDimensions(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Postgres.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled postgres without dsn should fail")
	}
	cfg.Postgres.DSN = "postgres://localhost/dossier"
	cfg.Postgres.Dimensions = 768
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "do not match") {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	cfg.Embedding.Dimensions = 768
	if err := cfg.Validate(); err != nil {
		t.Fatalf("matching dimensions should pass: %v", err)
	}
}

func TestConfig_GenerationBounds(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Generation.MaxConcurrency = 0
	if err := cfg.Validate(); err == nil {
		t.Error("max_concurrency 0 should fail")
	}

	cfg = NewDefaultConfig()
	cfg.Generation.ReferencesPolicy = "inline"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown references policy should fail")
	}

	cfg = NewDefaultConfig()
	cfg.Ingest.Chunker.Overlap = cfg.Ingest.Chunker.Size
	if err := cfg.Validate(); err == nil {
		t.Error("overlap equal to chunk size should fail")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("DOSSIER_TEST_MODEL", "qwen2.5")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  http:
    port: 9090
sources:
  dir: /data/sources
llm:
  model: ${DOSSIER_TEST_MODEL}
retrieval:
  top_k: 8
  per_source_cap: 3
generation:
  max_concurrency: 2
  generate_containers: true
  synthesis:
    call_timeout: 45s
ingest:
  chunk_size: 800
  chunk_overlap: 100
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTP.Port != 9090 || cfg.Sources.Dir != "/data/sources" {
		t.Errorf("app/sources = %+v %+v", cfg.App, cfg.Sources)
	}
	if cfg.LLM.Model != "qwen2.5" {
		t.Errorf("llm model = %q, want env expansion", cfg.LLM.Model)
	}
	if cfg.Retrieval.TopK != 8 || cfg.Retrieval.PerSourceCap != 3 {
		t.Errorf("retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Generation.MaxConcurrency != 2 || !cfg.Generation.GenerateContainers {
		t.Errorf("generation = %+v", cfg.Generation)
	}
	if cfg.Generation.Synthesis.CallTimeout != 45*time.Second {
		t.Errorf("call_timeout = %v", cfg.Generation.Synthesis.CallTimeout)
	}
	if cfg.Generation.Synthesis.MaxRetries != 2 {
		t.Errorf("unset max_retries should keep default, got %d", cfg.Generation.Synthesis.MaxRetries)
	}
	if cfg.Ingest.Chunker.Size != 800 || cfg.Ingest.Chunker.Overlap != 100 {
		t.Errorf("chunker = %+v", cfg.Ingest.Chunker)
	}
	if cfg.SQLite.Path != "./dossier.db" {
		t.Errorf("unset sqlite path should keep default, got %q", cfg.SQLite.Path)
	}
}
