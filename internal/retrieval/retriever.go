// Package retrieval finds grounding passages for a section.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/index"
	"github.com/starford/dossier/internal/models"
)

// Config controls how many passages a section receives.
type Config struct {
	TopK         int `yaml:"top_k" json:"top_k"`
	PerSourceCap int `yaml:"per_source_cap" json:"per_source_cap"`
	// Overfetch multiplies TopK for the raw index query so the cap does not starve the result.
	Overfetch int `yaml:"overfetch" json:"overfetch"`
	// Exclude lists source ids that are out of scope for the run.
	Exclude []string `yaml:"exclude" json:"exclude,omitempty"`
}

// DefaultConfig returns the retrieval defaults.
func DefaultConfig() Config {
	return Config{TopK: 6, PerSourceCap: 2, Overfetch: 3}
}

// Validate validates the retrieval configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TopK, validation.Required, validation.Min(1), validation.Max(50)),
		validation.Field(&c.PerSourceCap, validation.Required, validation.Min(1)),
		validation.Field(&c.Overfetch, validation.Min(0), validation.Max(20)),
	)
}

// Retriever queries the index for a section and applies the per-source cap.
type Retriever struct {
	index  index.ChunkIndex
	cfg    Config
	logger *slog.Logger
}

// New creates a Retriever.
func New(idx index.ChunkIndex, cfg Config, logger *slog.Logger) *Retriever {
	if cfg.Overfetch < 1 {
		cfg.Overfetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{index: idx, cfg: cfg, logger: logger}
}

// Query builds the similarity query for a section title and its ancestry.
func Query(title, hierarchy string) string {
	title = strings.TrimSpace(title)
	hierarchy = strings.TrimSpace(hierarchy)
	if hierarchy == "" {
		return title
	}
	return title + " (" + hierarchy + ")"
}

// Retrieve returns at most TopK passages for the section, never more than
// PerSourceCap from one source. An empty index yields an empty slice.
func (r *Retriever) Retrieve(ctx context.Context, title, hierarchy string) ([]models.RetrievedPassage, error) {
	var exclude map[string]struct{}
	if len(r.cfg.Exclude) > 0 {
		exclude = make(map[string]struct{}, len(r.cfg.Exclude))
		for _, id := range r.cfg.Exclude {
			exclude[id] = struct{}{}
		}
	}

	raw, err := r.index.Query(ctx, Query(title, hierarchy), r.cfg.TopK*r.cfg.Overfetch, exclude)
	if errors.Is(err, apperr.ErrEmptyIndex) {
		r.logger.Debug("retrieval: index empty, generating ungrounded", slog.String("title", title))
		return []models.RetrievedPassage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	return CapPerSource(raw, r.cfg.PerSourceCap, r.cfg.TopK), nil
}

// CapPerSource keeps at most perSource passages from each source, then the best k overall,
// ordered by score descending. Equal scores keep their input order.
func CapPerSource(passages []models.RetrievedPassage, perSource, k int) []models.RetrievedPassage {
	counts := make(map[string]int)
	out := make([]models.RetrievedPassage, 0, len(passages))
	for _, p := range passages {
		if perSource > 0 && counts[p.SourceID] >= perSource {
			continue
		}
		counts[p.SourceID]++
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
