package index

import (
	"context"

	"github.com/starford/dossier/internal/models"
)

// ChunkIndex is the similarity-search contract used by retrieval.
// Query returns at most k passages ordered by score descending, ties broken by
// ingestion order, and fails with apperr.ErrEmptyIndex when nothing was indexed.
type ChunkIndex interface {
	Index(ctx context.Context, chunks []models.SourceChunk) error
	Query(ctx context.Context, text string, k int, exclude map[string]struct{}) ([]models.RetrievedPassage, error)
	RemoveSource(ctx context.Context, sourceID string) error
	Len() int
}

// ChunkStore persists chunks between process restarts.
type ChunkStore interface {
	ReplaceSource(src SourceRow, chunks []models.SourceChunk) error
	DeleteSource(path string) error
	AllChecksums() (map[string]string, error)
	ListSources() ([]SourceRow, error)
	Chunks() ([]models.SourceChunk, error)
	Close() error
}

// Verify implementations at compile time.
var (
	_ ChunkIndex = (*Memory)(nil)
	_ ChunkIndex = (*PG)(nil)
	_ ChunkStore = (*DB)(nil)
)
