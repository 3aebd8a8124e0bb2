package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/dossier/internal/checksum"
	"github.com/starford/dossier/internal/embedding"
	"github.com/starford/dossier/internal/index"
	"github.com/starford/dossier/internal/models"
	"github.com/starford/dossier/internal/storage"
)

// Ingester keeps the chunk store and the search index in step with the source directory.
type Ingester struct {
	store    storage.Provider
	db       index.ChunkStore
	idx      index.ChunkIndex
	embedder embedding.Embedder
	chunker  Chunker
	workers  int
	logger   *slog.Logger
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithChunker overrides the default chunk geometry.
func WithChunker(c Chunker) Option {
	return func(in *Ingester) { in.chunker = c }
}

// WithWorkers bounds concurrent embedding calls per file.
func WithWorkers(n int) Option {
	return func(in *Ingester) {
		if n > 0 {
			in.workers = n
		}
	}
}

// New creates an Ingester.
func New(store storage.Provider, db index.ChunkStore, idx index.ChunkIndex, e embedding.Embedder, logger *slog.Logger, opts ...Option) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	in := &Ingester{
		store:    store,
		db:       db,
		idx:      idx,
		embedder: e,
		chunker:  DefaultChunker(),
		workers:  4,
		logger:   logger,
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// IngestFile extracts, chunks and embeds one source, then replaces whatever was
// stored for it before.
func (in *Ingester) IngestFile(ctx context.Context, path string) (index.SourceRow, error) {
	data, err := in.store.Read(path)
	if err != nil {
		return index.SourceRow{}, err
	}
	pages, err := Extract(path, data)
	if err != nil {
		return index.SourceRow{}, err
	}
	name := filepath.Base(path)
	chunks := in.chunker.Chunks(path, name, pages)
	if err := in.embed(ctx, chunks); err != nil {
		return index.SourceRow{}, err
	}

	row := index.SourceRow{
		Path:      path,
		Name:      name,
		Checksum:  checksum.Sum(data),
		Pages:     countPages(pages),
		UpdatedAt: time.Now().UTC(),
	}
	if err := in.db.ReplaceSource(row, chunks); err != nil {
		return index.SourceRow{}, err
	}
	if err := in.idx.RemoveSource(ctx, path); err != nil {
		return index.SourceRow{}, err
	}
	if err := in.idx.Index(ctx, chunks); err != nil {
		return index.SourceRow{}, err
	}
	row.ChunkCount = len(chunks)
	in.logger.Info("ingest: indexed source",
		slog.String("path", path),
		slog.Int("pages", row.Pages),
		slog.Int("chunks", row.ChunkCount))
	return row, nil
}

// Remove drops a source from the store and the index.
func (in *Ingester) Remove(ctx context.Context, path string) error {
	if err := in.db.DeleteSource(path); err != nil {
		return err
	}
	return in.idx.RemoveSource(ctx, path)
}

// Load fills the search index from the chunk store, typically at startup.
func (in *Ingester) Load(ctx context.Context) error {
	chunks, err := in.db.Chunks()
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := in.idx.Index(ctx, chunks); err != nil {
		return fmt.Errorf("ingest: load index: %w", err)
	}
	in.logger.Info("ingest: index loaded", slog.Int("chunks", len(chunks)))
	return nil
}

func (in *Ingester) embed(ctx context.Context, chunks []models.SourceChunk) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)
	for i := range chunks {
		g.Go(func() error {
			vec, err := in.embedder.Embed(ctx, chunks[i].Text)
			if err != nil {
				return fmt.Errorf("ingest: embed chunk %s: %w", chunks[i].ChunkID, err)
			}
			chunks[i].Embedding = vec
			return nil
		})
	}
	return g.Wait()
}

func countPages(pages []Page) int {
	n := 0
	for _, p := range pages {
		if p.Number > n {
			n = p.Number
		}
	}
	if n == 0 && len(pages) > 0 {
		n = 1
	}
	return n
}
