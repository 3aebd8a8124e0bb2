// Package synth turns prompts into section drafts with unresolved citation placeholders.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/llm"
	"github.com/starford/dossier/internal/models"
)

const maxBackoff = 30 * time.Second

// ReasonCancelled is recorded on drafts interrupted by run cancellation.
const ReasonCancelled = "cancelled"

var tracer = otel.Tracer("github.com/starford/dossier/internal/synth")

// Config holds the call policy for the model.
type Config struct {
	CallTimeout time.Duration `yaml:"call_timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// DefaultConfig returns the synthesis defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout: 90 * time.Second,
		MaxRetries:  2,
		BackoffBase: time.Second,
		Temperature: 0.2,
		MaxTokens:   2048,
	}
}

// Validate validates the synthesis configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.CallTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(10)),
		validation.Field(&c.BackoffBase, validation.Min(time.Duration(0))),
		validation.Field(&c.Temperature, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&c.MaxTokens, validation.Min(0)),
	)
}

// Draft is a section result before citation consolidation.
type Draft struct {
	NodeID string
	// Content holds placeholders; see Placeholder.
	Content string
	// Cited holds the passages referenced, in first-occurrence order.
	Cited   []models.RetrievedPassage
	Dropped int
	Status  models.Status
	Reason  string
	Err     error
}

// LocalCitations returns the cited chunk ids in first-occurrence order.
func (d Draft) LocalCitations() []string {
	ids := make([]string, len(d.Cited))
	for i, c := range d.Cited {
		ids[i] = c.ChunkID
	}
	return ids
}

// Synthesizer invokes the model with bounded retries and parses its output.
type Synthesizer struct {
	client llm.Client
	cfg    Config
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Synthesizer.
func New(client llm.Client, cfg Config, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{client: client, cfg: cfg, logger: logger, sleep: sleepCtx}
}

// Synthesize generates a draft for nodeID. It never returns an error: failures are
// reported through Draft.Status and Draft.Reason.
func (s *Synthesizer) Synthesize(ctx context.Context, nodeID, prompt string, passages []models.RetrievedPassage) Draft {
	ctx, span := tracer.Start(ctx, "synth.Synthesize")
	defer span.End()
	span.SetAttributes(attribute.String("node_id", nodeID), attribute.Int("passages", len(passages)))

	raw, err := s.Complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		reason := err.Error()
		if ctx.Err() != nil {
			reason = ReasonCancelled
		}
		return Draft{NodeID: nodeID, Status: models.StatusFailed, Reason: reason, Err: err}
	}

	parsed := ParseMarkers(StripReferences(raw), passages)
	for _, i := range parsed.Dropped {
		s.logger.Warn("synth: dropped citation marker",
			slog.String("node_id", nodeID),
			slog.Int("marker", i),
			slog.Int("passages", len(passages)),
			slog.String("error", apperr.ErrMarkerResolution.Error()))
	}
	if len(parsed.Stray) > 0 {
		s.logger.Warn("synth: removed bare numeric citations",
			slog.String("node_id", nodeID),
			slog.Any("markers", parsed.Stray))
	}
	span.SetAttributes(attribute.Int("citations", len(parsed.Cited)))

	return Draft{
		NodeID:  nodeID,
		Content: parsed.Content,
		Cited:   parsed.Cited,
		Dropped: len(parsed.Dropped) + len(parsed.Stray),
		Status:  models.StatusSucceeded,
	}
}

// Complete calls the model with a per-call timeout, retrying timeouts, provider
// errors and empty responses with exponential backoff.
func (s *Synthesizer) Complete(ctx context.Context, prompt string) (string, error) {
	opts := llm.Options{Temperature: s.cfg.Temperature, MaxTokens: s.cfg.MaxTokens}

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(s.cfg.BackoffBase, attempt)
			s.logger.Warn("synth: retrying",
				slog.Int("attempt", attempt),
				slog.Duration("sleep", wait),
				slog.String("error", lastErr.Error()))
			if err := s.sleep(ctx, wait); err != nil {
				return "", err
			}
		}

		text, err := s.call(ctx, prompt, opts)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
	}
	return "", fmt.Errorf("synth: giving up after %d attempts: %w", s.cfg.MaxRetries+1, lastErr)
}

func (s *Synthesizer) call(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	text, err := s.client.Complete(callCtx, prompt, opts)
	switch {
	case err == nil && strings.TrimSpace(text) == "":
		return "", fmt.Errorf("%w: empty response", apperr.ErrSynthesisProvider)
	case err == nil:
		return text, nil
	case errors.Is(err, context.DeadlineExceeded) || (callCtx.Err() != nil && ctx.Err() == nil):
		return "", fmt.Errorf("%w after %s: %v", apperr.ErrSynthesisTimeout, s.cfg.CallTimeout, err)
	default:
		return "", fmt.Errorf("%w: %v", apperr.ErrSynthesisProvider, err)
	}
}

func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 16 {
		return maxBackoff
	}
	d := base << (attempt - 1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
