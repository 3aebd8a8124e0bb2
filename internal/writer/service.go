// Package writer is the application service behind the HTTP, MCP and CLI surfaces.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/generation"
	"github.com/starford/dossier/internal/index"
	"github.com/starford/dossier/internal/ingest"
	"github.com/starford/dossier/internal/llm"
	"github.com/starford/dossier/internal/models"
	"github.com/starford/dossier/internal/parser"
	"github.com/starford/dossier/internal/retrieval"
	"github.com/starford/dossier/internal/storage"
	"github.com/starford/dossier/internal/synth"
)

// Notifier receives run progress, typically to fan it out to SSE clients.
type Notifier interface {
	SectionStarted(ev generation.SectionEvent)
	SectionCompleted(ev generation.SectionEvent)
	RunFinished(run RunSummary)
}

// Defaults are the policies applied when a request does not override them.
type Defaults struct {
	Retrieval  retrieval.Config
	Generation generation.Config
}

// Service coordinates sources, generation runs and refinement.
type Service struct {
	store    storage.Provider
	db       index.ChunkStore
	idx      index.ChunkIndex
	ingester *ingest.Ingester
	orch     *generation.Orchestrator
	client   llm.Client
	defaults Defaults
	notifier Notifier
	logger   *slog.Logger

	// base outlives request contexts so async runs survive the HTTP request.
	base context.Context

	mu   sync.RWMutex
	runs map[string]*run
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Store    storage.Provider
	DB       index.ChunkStore
	Index    index.ChunkIndex
	Ingester *ingest.Ingester
	Client   llm.Client
	Defaults Defaults
	Notifier Notifier
	Logger   *slog.Logger
}

// NewService creates a Service. Async runs are cancelled when ctx is done.
func NewService(ctx context.Context, d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		store:    d.Store,
		db:       d.DB,
		idx:      d.Index,
		ingester: d.Ingester,
		orch:     generation.New(d.Index, d.Client, d.Logger),
		client:   d.Client,
		defaults: d.Defaults,
		notifier: d.Notifier,
		logger:   d.Logger,
		base:     ctx,
		runs:     make(map[string]*run),
	}
}

// ---------------------------------------------------------------------------
// Generation
// ---------------------------------------------------------------------------

// Overrides adjust the default policies for one run. Zero values keep the default.
type Overrides struct {
	TopK               int      `json:"top_k,omitempty"`
	PerSourceCap       int      `json:"per_source_cap,omitempty"`
	MaxConcurrency     int      `json:"max_concurrency,omitempty"`
	GenerateContainers *bool    `json:"generate_containers,omitempty"`
	ReferencesPolicy   string   `json:"references_policy,omitempty"`
	ExcludeSources     []string `json:"exclude_sources,omitempty"`
}

// GenerateRequest describes a document to write. Exactly one of TOC and Template is used;
// TOC wins when both are set.
type GenerateRequest struct {
	Title     string          `json:"title,omitempty"`
	TOC       *models.TocNode `json:"toc,omitempty"`
	Template  string          `json:"template,omitempty"`
	Overrides Overrides       `json:"options"`
}

// prepare resolves the TOC and the effective policies of a request.
func (s *Service) prepare(req GenerateRequest) (generation.Request, error) {
	root := req.TOC
	if root == nil {
		if strings.TrimSpace(req.Template) == "" {
			return generation.Request{}, fmt.Errorf("%w: toc or template is required", apperr.ErrInvalidInput)
		}
		parsed, err := parser.ParseTemplate([]byte(req.Template))
		if err != nil {
			return generation.Request{}, err
		}
		root = parsed
	}
	if req.Title != "" {
		root.Title = req.Title
	}
	generation.AssignIDs(root)
	if err := generation.ValidateTOC(root); err != nil {
		return generation.Request{}, err
	}

	rc, gc := s.defaults.Retrieval, s.defaults.Generation
	o := req.Overrides
	if o.TopK > 0 {
		rc.TopK = o.TopK
	}
	if o.PerSourceCap > 0 {
		rc.PerSourceCap = o.PerSourceCap
	}
	if len(o.ExcludeSources) > 0 {
		rc.Exclude = append(append([]string(nil), rc.Exclude...), o.ExcludeSources...)
	}
	if o.MaxConcurrency > 0 {
		gc.MaxConcurrency = o.MaxConcurrency
	}
	if o.GenerateContainers != nil {
		gc.GenerateContainers = *o.GenerateContainers
	}
	if o.ReferencesPolicy != "" {
		gc.ReferencesPolicy = o.ReferencesPolicy
	}
	if err := rc.Validate(); err != nil {
		return generation.Request{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	if err := gc.Validate(); err != nil {
		return generation.Request{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	return generation.Request{TOC: root, Retrieval: rc, Generation: gc}, nil
}

// Generate writes a document synchronously.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*models.Document, error) {
	greq, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	greq.RunID = uuid.NewString()
	r := s.track(greq)
	greq.Hooks = s.hooks(r)
	doc, err := s.orch.Generate(ctx, greq)
	s.finish(r, doc, err)
	return doc, err
}

// StartRun validates req and generates the document in the background.
func (s *Service) StartRun(_ context.Context, req GenerateRequest) (RunSummary, error) {
	greq, err := s.prepare(req)
	if err != nil {
		return RunSummary{}, err
	}
	greq.RunID = uuid.NewString()
	r := s.track(greq)
	greq.Hooks = s.hooks(r)

	go func() {
		doc, err := s.orch.Generate(s.base, greq)
		s.finish(r, doc, err)
	}()
	return r.summary(), nil
}

func (s *Service) track(greq generation.Request) *run {
	r := &run{
		id:        greq.RunID,
		title:     greq.TOC.Title,
		state:     RunRunning,
		total:     generation.PlannedSections(greq.TOC, greq.Generation),
		startedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.runs[r.id] = r
	s.mu.Unlock()
	return r
}

func (s *Service) hooks(r *run) generation.Hooks {
	return generation.Hooks{
		OnSectionStart: func(ev generation.SectionEvent) {
			if s.notifier != nil {
				s.notifier.SectionStarted(ev)
			}
		},
		OnSectionComplete: func(ev generation.SectionEvent) {
			r.mu.Lock()
			r.completed++
			r.mu.Unlock()
			if s.notifier != nil {
				s.notifier.SectionCompleted(ev)
			}
		},
	}
}

func (s *Service) finish(r *run, doc *models.Document, err error) {
	r.mu.Lock()
	r.finishedAt = time.Now().UTC()
	switch {
	case err != nil:
		r.state = RunFailed
		r.err = err.Error()
	case doc.Cancelled:
		r.state = RunCancelled
	default:
		r.state = RunFinished
	}
	r.doc = doc
	r.mu.Unlock()

	sum := r.summary()
	s.logger.Info("writer: run finished",
		slog.String("run_id", sum.ID),
		slog.String("state", string(sum.State)),
		slog.Int("failed_sections", sum.FailedSections))
	if s.notifier != nil {
		s.notifier.RunFinished(sum)
	}
}

// GetRun returns the summary and, once finished, a copy of the document of a run.
func (s *Service) GetRun(_ context.Context, id string) (RunSummary, *models.Document, error) {
	r, err := s.lookup(id)
	if err != nil {
		return RunSummary{}, nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked(), r.doc.Clone(), nil
}

// ListRuns returns all known runs, newest first.
func (s *Service) ListRuns(_ context.Context) []RunSummary {
	s.mu.RLock()
	out := make([]RunSummary, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.summary())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// CancelRun cancels an in-flight run. Cancelling a finished run is a conflict.
func (s *Service) CancelRun(_ context.Context, id string) error {
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	if r.summary().State != RunRunning {
		return fmt.Errorf("writer: run %s already finished: %w", id, apperr.ErrConflict)
	}
	if err := s.orch.Cancel(id); err != nil {
		// The run ended between the state check and the cancel.
		if errors.Is(err, apperr.ErrRunNotFound) {
			return fmt.Errorf("writer: run %s already finished: %w", id, apperr.ErrConflict)
		}
		return err
	}
	return nil
}

// Document returns the finished document of a run.
func (s *Service) Document(ctx context.Context, id string) (*models.Document, error) {
	_, doc, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("writer: run %s still running: %w", id, apperr.ErrConflict)
	}
	return doc, nil
}

func (s *Service) lookup(id string) (*run, error) {
	s.mu.RLock()
	r, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("writer: run %s: %w", id, apperr.ErrRunNotFound)
	}
	return r, nil
}

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

// Sources lists the ingested source files.
func (s *Service) Sources(_ context.Context) ([]index.SourceRow, error) {
	rows, err := s.db.ListSources()
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []index.SourceRow{}
	}
	return rows, nil
}

// Upload stores a source file and ingests it immediately.
func (s *Service) Upload(ctx context.Context, path string, data []byte) (index.SourceRow, error) {
	if !storage.Supported(path) {
		return index.SourceRow{}, fmt.Errorf("writer: %s: %w", path, apperr.ErrUnsupported)
	}
	if err := s.store.Write(path, data); err != nil {
		return index.SourceRow{}, err
	}
	return s.ingester.IngestFile(ctx, path)
}

// DeleteSource removes a source file and its chunks.
func (s *Service) DeleteSource(ctx context.Context, path string) error {
	if err := s.store.Delete(path); err != nil {
		return err
	}
	return s.ingester.Remove(ctx, path)
}

// MoveSource renames a source. Its chunks are re-ingested under the new id, so
// documents generated afterwards cite the new name.
func (s *Service) MoveSource(ctx context.Context, from, to string) (index.SourceRow, error) {
	if !storage.Supported(to) {
		return index.SourceRow{}, fmt.Errorf("writer: %s: %w", to, apperr.ErrUnsupported)
	}
	if err := s.store.Move(from, to); err != nil {
		return index.SourceRow{}, err
	}
	if err := s.ingester.Remove(ctx, from); err != nil {
		return index.SourceRow{}, err
	}
	return s.ingester.IngestFile(ctx, to)
}

// Sync re-scans the sources directory.
func (s *Service) Sync(ctx context.Context) (ingest.SyncResult, error) {
	return s.ingester.Sync(ctx)
}

// Search returns the passages most similar to query. An empty index yields no results.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]models.RetrievedPassage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", apperr.ErrInvalidInput)
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	hits, err := s.idx.Query(ctx, query, limit, nil)
	if errors.Is(err, apperr.ErrEmptyIndex) {
		return []models.RetrievedPassage{}, nil
	}
	return hits, err
}

// ---------------------------------------------------------------------------
// Refinement
// ---------------------------------------------------------------------------

// RefineRequest asks for one section of a finished run to be revised.
type RefineRequest struct {
	RunID   string `json:"run_id"`
	NodeID  string `json:"node_id"`
	Request string `json:"request"`
}

// Refine revises one section of a finished run. Citation numbers that are not in
// the run's reference table are removed from the revision; the table itself never
// changes. Refinements of the same run are applied one at a time.
func (s *Service) Refine(ctx context.Context, req RefineRequest) (models.GenerationResult, error) {
	if strings.TrimSpace(req.Request) == "" {
		return models.GenerationResult{}, fmt.Errorf("%w: request is required", apperr.ErrInvalidInput)
	}
	r, err := s.lookup(req.RunID)
	if err != nil {
		return models.GenerationResult{}, err
	}
	r.refineMu.Lock()
	defer r.refineMu.Unlock()

	doc, err := s.Document(ctx, req.RunID)
	if err != nil {
		return models.GenerationResult{}, err
	}
	idx := -1
	for i, sec := range doc.Sections {
		if sec.NodeID == req.NodeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.GenerationResult{}, fmt.Errorf("writer: section %s: %w", req.NodeID, apperr.ErrNotFound)
	}
	sec := doc.Sections[idx]
	if sec.Structural {
		return models.GenerationResult{}, fmt.Errorf("%w: section %s is not generated", apperr.ErrInvalidInput, req.NodeID)
	}

	sy := synth.New(s.client, s.defaults.Generation.Synthesis, s.logger)
	raw, err := sy.Complete(ctx, buildRefinement(sec, req.Request))
	if err != nil {
		return models.GenerationResult{}, err
	}
	sec.Content, sec.LocalCitations = keepKnownCitations(synth.RemoveLocalMarkers(synth.StripReferences(raw)), doc.ReferenceTable, s.logger)
	sec.Status, sec.Reason = models.StatusSucceeded, ""

	if doc.Sections[idx].Status == models.StatusFailed {
		doc.FailedSections--
	}
	doc.Sections[idx] = sec

	r.mu.Lock()
	r.doc = doc
	r.mu.Unlock()
	sec.LocalCitations = slices.Clone(sec.LocalCitations)
	return sec, nil
}
