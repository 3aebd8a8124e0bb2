package citation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/starford/dossier/internal/models"
)

// RenderReferences formats the table as one "[n] source_name, p. page" line per entry.
func RenderReferences(table []models.CitationEntry) string {
	lines := make([]string, len(table))
	for i, e := range table {
		lines[i] = e.Label()
	}
	return strings.Join(lines, "\n")
}

type exportDoc struct {
	RunID     string        `json:"run_id,omitempty"`
	Citations []exportEntry `json:"citations"`
}

type exportEntry struct {
	Number       int    `json:"citation_number"`
	ChunkID      string `json:"chunk_id"`
	Source       string `json:"source"`
	Page         int    `json:"page,omitempty"`
	Section      string `json:"section,omitempty"`
	Text         string `json:"text,omitempty"`
	FirstCitedIn string `json:"first_cited_in"`
}

// ExportJSON serialises the table for download.
func ExportJSON(runID string, table []models.CitationEntry) ([]byte, error) {
	doc := exportDoc{RunID: runID, Citations: make([]exportEntry, len(table))}
	for i, e := range table {
		doc.Citations[i] = exportEntry{
			Number:       e.GlobalNumber,
			ChunkID:      e.ChunkID,
			Source:       e.SourceName,
			Page:         e.PageNumber,
			Section:      e.SectionLabel,
			Text:         e.Excerpt,
			FirstCitedIn: e.FirstCitedIn,
		}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ExportBibTeX renders each entry as a @misc record keyed cite<n>.
func ExportBibTeX(table []models.CitationEntry) string {
	entries := make([]string, len(table))
	for i, e := range table {
		var b strings.Builder
		fmt.Fprintf(&b, "@misc{cite%d,\n", e.GlobalNumber)
		fmt.Fprintf(&b, "  title={%s},\n", bibEscape(e.SourceName))
		if e.SectionLabel != "" {
			fmt.Fprintf(&b, "  howpublished={%s},\n", bibEscape(e.SectionLabel))
		}
		if e.PageNumber > 0 {
			fmt.Fprintf(&b, "  note={p. %d}\n", e.PageNumber)
		} else {
			b.WriteString("  note={}\n")
		}
		b.WriteString("}")
		entries[i] = b.String()
	}
	return strings.Join(entries, "\n\n")
}

// A single pass, so the braces of \textbackslash{} are not escaped again.
var bibReplacer = strings.NewReplacer(`\`, `\textbackslash{}`, "{", `\{`, "}", `\}`, "%", `\%`, "&", `\&`)

func bibEscape(s string) string {
	return bibReplacer.Replace(s)
}

// SourceCount is the number of table entries drawn from one source.
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// Statistics summarises a reference table.
type Statistics struct {
	TotalCitations int           `json:"total_citations"`
	UniqueSources  int           `json:"unique_sources"`
	Sources        []SourceCount `json:"sources"`
}

// Stats computes table statistics; sources are sorted by count, then name.
func Stats(table []models.CitationEntry) Statistics {
	counts := make(map[string]int)
	for _, e := range table {
		counts[e.SourceName]++
	}
	st := Statistics{TotalCitations: len(table), UniqueSources: len(counts), Sources: make([]SourceCount, 0, len(counts))}
	for s, n := range counts {
		st.Sources = append(st.Sources, SourceCount{Source: s, Count: n})
	}
	sort.Slice(st.Sources, func(i, j int) bool {
		if st.Sources[i].Count != st.Sources[j].Count {
			return st.Sources[i].Count > st.Sources[j].Count
		}
		return st.Sources[i].Source < st.Sources[j].Source
	})
	return st
}
