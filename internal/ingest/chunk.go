package ingest

import (
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/dossier/internal/checksum"
	"github.com/starford/dossier/internal/models"
)

// Chunker splits page text into overlapping windows measured in runes.
type Chunker struct {
	Size    int `yaml:"chunk_size"`
	Overlap int `yaml:"chunk_overlap"`
}

// DefaultChunker returns 1200-rune chunks with a 200-rune overlap.
func DefaultChunker() Chunker {
	return Chunker{Size: 1200, Overlap: 200}
}

// Validate validates the chunker settings.
func (c *Chunker) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Size, validation.Required, validation.Min(50)),
		validation.Field(&c.Overlap, validation.Min(0), validation.Max(c.Size/2)),
	)
}

// Split breaks text into windows, preferring to cut at whitespace in the last
// fifth of a window.
func (c Chunker) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.Size {
		return []string{string(runes)}
	}

	var out []string
	start := 0
	for start < len(runes) {
		end := start + c.Size
		if end >= len(runes) {
			out = append(out, strings.TrimSpace(string(runes[start:])))
			break
		}
		cut := end
		for i := end; i > end-c.Size/5; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		if piece := strings.TrimSpace(string(runes[start:cut])); piece != "" {
			out = append(out, piece)
		}
		next := cut - c.Overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return out
}

// Chunks splits every page of a source and assigns stable chunk ids.
func (c Chunker) Chunks(sourceID, sourceName string, pages []Page) []models.SourceChunk {
	var out []models.SourceChunk
	for _, p := range pages {
		for _, text := range c.Split(p.Text) {
			out = append(out, models.SourceChunk{
				ChunkID:      checksum.ChunkID(sourceID, len(out), text),
				SourceID:     sourceID,
				SourceName:   sourceName,
				PageNumber:   p.Number,
				SectionLabel: p.Label,
				Text:         text,
			})
		}
	}
	return out
}
