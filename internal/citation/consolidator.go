// Package citation owns the document-wide citation numbering.
package citation

import (
	"fmt"
	"sync"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/models"
)

// Consolidator maps chunk citations onto one global numbering per document.
// Numbers are minted in call order, so callers resolve sections in document order.
type Consolidator struct {
	mu      sync.Mutex
	entries []models.CitationEntry
	byChunk map[string]int
	meta    map[string]models.RetrievedPassage
	frozen  bool
}

// NewConsolidator creates an empty table.
func NewConsolidator() *Consolidator {
	return &Consolidator{
		byChunk: make(map[string]int),
		meta:    make(map[string]models.RetrievedPassage),
	}
}

// Describe records source metadata for a chunk so a later Resolve can fill its entry.
// The first description of a chunk wins.
func (c *Consolidator) Describe(p models.RetrievedPassage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.meta[p.ChunkID]; !ok {
		c.meta[p.ChunkID] = p
	}
}

// Resolve returns the global number for chunkID, minting the next one on first citation.
func (c *Consolidator) Resolve(nodeID, chunkID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.byChunk[chunkID]; ok {
		return c.entries[i].GlobalNumber, nil
	}
	if c.frozen {
		return 0, fmt.Errorf("citation: resolve %s: %w", chunkID, apperr.ErrFrozen)
	}

	m := c.meta[chunkID]
	name := m.SourceName
	if name == "" {
		name = m.SourceID
	}
	if name == "" {
		name = chunkID
	}
	entry := models.CitationEntry{
		GlobalNumber: len(c.entries) + 1,
		ChunkID:      chunkID,
		SourceID:     m.SourceID,
		SourceName:   name,
		PageNumber:   m.PageNumber,
		SectionLabel: m.SectionLabel,
		Excerpt:      excerpt(m.Text, 160),
		FirstCitedIn: nodeID,
	}
	c.byChunk[chunkID] = len(c.entries)
	c.entries = append(c.entries, entry)
	return entry.GlobalNumber, nil
}

// ResolvePassage describes p and resolves it in one step.
func (c *Consolidator) ResolvePassage(nodeID string, p models.RetrievedPassage) (int, error) {
	c.Describe(p)
	return c.Resolve(nodeID, p.ChunkID)
}

// ReferenceTable returns a copy of the entries ordered by global number.
func (c *Consolidator) ReferenceTable() []models.CitationEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.CitationEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Freeze stops new numbers from being minted. Known chunks still resolve.
func (c *Consolidator) Freeze() {
	c.mu.Lock()
	c.frozen = true
	c.mu.Unlock()
}

// Reset clears the table for a new document.
func (c *Consolidator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.byChunk = make(map[string]int)
	c.meta = make(map[string]models.RetrievedPassage)
	c.frozen = false
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
