// Package generation schedules section drafts and consolidates their citations.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/citation"
	"github.com/starford/dossier/internal/index"
	"github.com/starford/dossier/internal/llm"
	"github.com/starford/dossier/internal/models"
	"github.com/starford/dossier/internal/prompt"
	"github.com/starford/dossier/internal/retrieval"
	"github.com/starford/dossier/internal/synth"
)

var tracer = otel.Tracer("github.com/starford/dossier/internal/generation")

// References policies for documents without citations.
const (
	ReferencesOmit  = "omit"
	ReferencesEmpty = "empty"
)

// Config is the per-run generation policy.
type Config struct {
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`
	// GenerateContainers sends nodes with children to the model as well;
	// otherwise they are emitted as structural headers.
	GenerateContainers bool         `yaml:"generate_containers" json:"generate_containers"`
	ReferencesPolicy   string       `yaml:"references_policy" json:"references_policy"`
	Synthesis          synth.Config `yaml:"synthesis" json:"-"`
}

// DefaultConfig returns the generation defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:   4,
		ReferencesPolicy: ReferencesOmit,
		Synthesis:        synth.DefaultConfig(),
	}
}

// Validate validates the generation configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.MaxConcurrency, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.ReferencesPolicy, validation.In(ReferencesOmit, ReferencesEmpty)),
	); err != nil {
		return err
	}
	return c.Synthesis.Validate()
}

// SectionEvent describes a section transition reported to hooks.
type SectionEvent struct {
	RunID  string        `json:"run_id"`
	NodeID string        `json:"node_id"`
	Title  string        `json:"title"`
	Status models.Status `json:"status,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// Hooks receive progress callbacks. They are called from worker goroutines in
// draft completion order and must be safe for concurrent use.
type Hooks struct {
	OnSectionStart    func(SectionEvent)
	OnSectionComplete func(SectionEvent)
}

// Request is one document generation.
type Request struct {
	// RunID identifies the run for Cancel; a random id is used when empty.
	RunID      string
	TOC        *models.TocNode
	Retrieval  retrieval.Config
	Generation Config
	Hooks      Hooks
}

// Orchestrator runs the two-phase generation protocol: concurrent drafts,
// then a single ordered consolidation pass.
type Orchestrator struct {
	index  index.ChunkIndex
	client llm.Client
	logger *slog.Logger

	mu   sync.Mutex
	runs map[string]context.CancelFunc
}

// New creates an Orchestrator.
func New(idx index.ChunkIndex, client llm.Client, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		index:  idx,
		client: client,
		logger: logger,
		runs:   make(map[string]context.CancelFunc),
	}
}

// Cancel requests cooperative cancellation of an in-flight run.
func (o *Orchestrator) Cancel(runID string) error {
	o.mu.Lock()
	cancel, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("generation: cancel %s: %w", runID, apperr.ErrRunNotFound)
	}
	cancel()
	return nil
}

// Running returns the ids of in-flight runs.
func (o *Orchestrator) Running() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.runs))
	for id := range o.runs {
		ids = append(ids, id)
	}
	return ids
}

func (o *Orchestrator) register(runID string, cancel context.CancelFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, dup := o.runs[runID]; dup {
		return fmt.Errorf("generation: run %s: %w", runID, apperr.ErrConflict)
	}
	o.runs[runID] = cancel
	return nil
}

func (o *Orchestrator) unregister(runID string) {
	o.mu.Lock()
	delete(o.runs, runID)
	o.mu.Unlock()
}

// Generate produces a Document for req.TOC. Section failures are recorded in the
// document; an error is returned only for setup problems detected before any
// section starts.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*models.Document, error) {
	if err := ValidateTOC(req.TOC); err != nil {
		return nil, err
	}
	if err := req.Retrieval.Validate(); err != nil {
		return nil, fmt.Errorf("generation: retrieval config: %w", err)
	}
	if err := req.Generation.Validate(); err != nil {
		return nil, fmt.Errorf("generation: config: %w", err)
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := o.register(runID, cancel); err != nil {
		return nil, err
	}
	defer o.unregister(runID)

	runCtx, span := tracer.Start(runCtx, "generation.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID))

	units := flatten(req.TOC, req.Generation.GenerateContainers)
	logger := o.logger.With(slog.String("run_id", runID))
	logger.Info("generation: run started",
		slog.Int("sections", len(units)),
		slog.Int("max_concurrency", req.Generation.MaxConcurrency))

	r := &run{
		id:        runID,
		req:       req,
		retriever: retrieval.New(o.index, req.Retrieval, logger),
		synth:     synth.New(o.client, req.Generation.Synthesis, logger),
		logger:    logger,
	}
	drafts := r.draftAll(runCtx, units)
	doc := r.consolidate(units, drafts)
	doc.Cancelled = runCtx.Err() != nil

	span.SetAttributes(
		attribute.Int("failed_sections", doc.FailedSections),
		attribute.Int("citations", len(doc.ReferenceTable)))
	logger.Info("generation: run finished",
		slog.Int("failed_sections", doc.FailedSections),
		slog.Int("citations", len(doc.ReferenceTable)),
		slog.Bool("cancelled", doc.Cancelled))
	return doc, nil
}

type run struct {
	id        string
	req       Request
	retriever *retrieval.Retriever
	synth     *synth.Synthesizer
	logger    *slog.Logger
}

// draftAll is the concurrent phase. drafts[i] belongs to units[i]; structural
// and reference units keep a zero draft.
func (r *run) draftAll(ctx context.Context, units []unit) []synth.Draft {
	drafts := make([]synth.Draft, len(units))

	var g errgroup.Group
	g.SetLimit(r.req.Generation.MaxConcurrency)
	for i, u := range units {
		if u.structural || u.references {
			continue
		}
		if ctx.Err() != nil {
			drafts[i] = cancelledDraft(u.node.NodeID)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				drafts[i] = cancelledDraft(u.node.NodeID)
				return nil
			}
			drafts[i] = r.draft(ctx, u)
			return nil
		})
	}
	_ = g.Wait()
	return drafts
}

func cancelledDraft(nodeID string) synth.Draft {
	return synth.Draft{NodeID: nodeID, Status: models.StatusFailed, Reason: synth.ReasonCancelled}
}

func (r *run) draft(ctx context.Context, u unit) synth.Draft {
	ctx, span := tracer.Start(ctx, "generation.section")
	defer span.End()
	span.SetAttributes(attribute.String("node_id", u.node.NodeID), attribute.String("title", u.node.Title))

	ev := SectionEvent{RunID: r.id, NodeID: u.node.NodeID, Title: u.node.Title}
	if h := r.req.Hooks.OnSectionStart; h != nil {
		h(ev)
	}

	var degraded string
	passages, err := r.retriever.Retrieve(ctx, u.node.Title, u.hierarchy)
	if err != nil {
		if ctx.Err() != nil {
			d := cancelledDraft(u.node.NodeID)
			r.complete(ev, d)
			return d
		}
		r.logger.Warn("generation: retrieval unavailable, generating ungrounded",
			slog.String("node_id", u.node.NodeID),
			slog.String("error", err.Error()))
		degraded = "retrieval unavailable: " + err.Error()
		passages = nil
	}

	sec := prompt.Section{
		Title:       u.node.Title,
		Hierarchy:   u.hierarchy,
		Description: u.node.Description,
	}
	if u.node.IsContainer() {
		sec.Subsections = childTitles(u.node)
	}
	d := r.synth.Synthesize(ctx, u.node.NodeID, prompt.Build(sec, passages), passages)
	if degraded != "" && d.Status == models.StatusSucceeded {
		d.Status = models.StatusPartial
		d.Reason = degraded
	}
	if d.Status == models.StatusFailed {
		r.logger.Error("generation: section failed",
			slog.String("node_id", u.node.NodeID),
			slog.String("title", u.node.Title),
			slog.String("reason", d.Reason))
	}
	r.complete(ev, d)
	return d
}

func (r *run) complete(ev SectionEvent, d synth.Draft) {
	if h := r.req.Hooks.OnSectionComplete; h != nil {
		ev.Status, ev.Reason = d.Status, d.Reason
		h(ev)
	}
}

// consolidate is the ordered phase: one pass in TOC order mints global numbers
// and rewrites placeholders. It runs on a single goroutine.
func (r *run) consolidate(units []unit, drafts []synth.Draft) *models.Document {
	cons := citation.NewConsolidator()
	doc := &models.Document{
		RunID:    r.id,
		Title:    r.req.TOC.Title,
		Sections: make([]models.GenerationResult, 0, len(units)+1),
	}
	if len(r.req.TOC.Children) == 0 {
		doc.Title = ""
	}

	refSlot := -1
	for i, u := range units {
		res := models.GenerationResult{
			NodeID:         u.node.NodeID,
			Title:          u.node.Title,
			Level:          u.level,
			LocalCitations: []string{},
			Status:         models.StatusSucceeded,
		}
		switch {
		case u.references:
			if refSlot < 0 {
				refSlot = len(doc.Sections)
			}
			res.Structural = true
		case u.structural:
			res.Structural = true
		default:
			d := drafts[i]
			res.Status, res.Reason = d.Status, d.Reason
			if d.Status == models.StatusFailed {
				doc.FailedSections++
				res.Content = failedBody(d.Reason)
				break
			}
			numbers := make([]int, len(d.Cited))
			for k, p := range d.Cited {
				n, err := cons.ResolvePassage(u.node.NodeID, p)
				if err != nil {
					r.logger.Error("generation: resolve citation", slog.String("error", err.Error()))
					continue
				}
				numbers[k] = n
			}
			res.LocalCitations = d.LocalCitations()
			res.Content = synth.ReplacePlaceholders(d.Content, func(k int) string {
				if k < 0 || k >= len(numbers) || numbers[k] == 0 {
					return ""
				}
				return fmt.Sprintf("[%d]", numbers[k])
			})
		}
		doc.Sections = append(doc.Sections, res)
	}

	cons.Freeze()
	doc.ReferenceTable = cons.ReferenceTable()
	body := citation.RenderReferences(doc.ReferenceTable)

	switch {
	case refSlot >= 0:
		doc.Sections[refSlot].Content = body
	case len(doc.ReferenceTable) > 0 || r.req.Generation.ReferencesPolicy == ReferencesEmpty:
		doc.Sections = append(doc.Sections, models.GenerationResult{
			NodeID:         referencesNodeID(units),
			Title:          ReferencesTitle,
			Level:          1,
			Content:        body,
			LocalCitations: []string{},
			Status:         models.StatusSucceeded,
		})
	}
	return doc
}

func failedBody(reason string) string {
	if reason == "" {
		reason = "unknown error"
	}
	return fmt.Sprintf("_This section could not be generated (%s)._", strings.TrimSpace(reason))
}

func referencesNodeID(units []unit) string {
	id := "references"
	for _, u := range units {
		if u.node.NodeID == id {
			return id + "-" + uuid.NewString()[:8]
		}
	}
	return id
}
