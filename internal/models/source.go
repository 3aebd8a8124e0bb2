// Package models defines the domain types for dossier.
package models

import "time"

// SourceMetadata is a lightweight representation of a file in the sources directory.
type SourceMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SourceChunk is a bounded span of extracted source text, the unit of retrieval.
// A chunk is immutable once ingested; ChunkID stays stable for the lifetime of the index.
type SourceChunk struct {
	ChunkID      string    `json:"chunk_id"`
	SourceID     string    `json:"source_id"`
	SourceName   string    `json:"source_name"`
	PageNumber   int       `json:"page_number,omitempty"` // 0 when unknown
	SectionLabel string    `json:"section_label,omitempty"`
	Text         string    `json:"text"`
	Embedding    []float32 `json:"-"`
}

// RetrievedPassage is the ephemeral result of a similarity query.
type RetrievedPassage struct {
	ChunkID      string  `json:"chunk_id"`
	SourceID     string  `json:"source_id"`
	SourceName   string  `json:"source_name"`
	PageNumber   int     `json:"page_number,omitempty"`
	SectionLabel string  `json:"section_label,omitempty"`
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
}
