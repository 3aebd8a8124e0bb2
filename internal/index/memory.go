package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/embedding"
	"github.com/starford/dossier/internal/models"
)

type entry struct {
	chunk   models.SourceChunk
	ordinal uint64
}

// Memory is an in-process brute-force cosine index.
// Concurrent queries are safe; writes take an exclusive lock.
type Memory struct {
	embedder embedding.Embedder

	mu      sync.RWMutex
	entries []entry
	byID    map[string]int
	next    uint64
}

// NewMemory creates an empty index that embeds queries with e.
func NewMemory(e embedding.Embedder) *Memory {
	return &Memory{embedder: e, byID: make(map[string]int)}
}

// Index adds chunks in the given order. Chunks without an embedding are embedded first.
// Re-indexing a known chunk_id replaces its content but keeps its ingestion position.
func (m *Memory) Index(ctx context.Context, chunks []models.SourceChunk) error {
	prepared := make([]models.SourceChunk, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			vec, err := m.embedder.Embed(ctx, c.Text)
			if err != nil {
				return fmt.Errorf("index: embed chunk %s: %w", c.ChunkID, err)
			}
			c.Embedding = vec
		}
		prepared[i] = c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range prepared {
		if i, ok := m.byID[c.ChunkID]; ok {
			m.entries[i].chunk = c
			continue
		}
		m.byID[c.ChunkID] = len(m.entries)
		m.entries = append(m.entries, entry{chunk: c, ordinal: m.next})
		m.next++
	}
	return nil
}

// RemoveSource drops every chunk owned by sourceID.
func (m *Memory) RemoveSource(_ context.Context, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.chunk.SourceID != sourceID {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(m.entries); i++ {
		m.entries[i] = entry{}
	}
	m.entries = kept
	m.byID = make(map[string]int, len(kept))
	for i, e := range kept {
		m.byID[e.chunk.ChunkID] = i
	}
	return nil
}

// Len returns the number of indexed chunks.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Query returns the k chunks most similar to text.
func (m *Memory) Query(ctx context.Context, text string, k int, exclude map[string]struct{}) ([]models.RetrievedPassage, error) {
	if m.Len() == 0 {
		return nil, apperr.ErrEmptyIndex
	}
	if k <= 0 {
		return []models.RetrievedPassage{}, nil
	}
	q, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("index: embed query: %w", err)
	}

	type scored struct {
		e     entry
		score float64
	}

	m.mu.RLock()
	hits := make([]scored, 0, len(m.entries))
	for _, e := range m.entries {
		if _, skip := exclude[e.chunk.SourceID]; skip {
			continue
		}
		hits = append(hits, scored{e: e, score: embedding.Cosine(q, e.chunk.Embedding)})
	}
	m.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].e.ordinal < hits[j].e.ordinal
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]models.RetrievedPassage, len(hits))
	for i, h := range hits {
		out[i] = passageFromChunk(h.e.chunk, h.score)
	}
	return out, nil
}

// Load fills m from the chunk store in stored order.
func Load(ctx context.Context, store ChunkStore, m *Memory) error {
	chunks, err := store.Chunks()
	if err != nil {
		return err
	}
	return m.Index(ctx, chunks)
}

func passageFromChunk(c models.SourceChunk, score float64) models.RetrievedPassage {
	return models.RetrievedPassage{
		ChunkID:      c.ChunkID,
		SourceID:     c.SourceID,
		SourceName:   c.SourceName,
		PageNumber:   c.PageNumber,
		SectionLabel: c.SectionLabel,
		Text:         c.Text,
		Score:        score,
	}
}
