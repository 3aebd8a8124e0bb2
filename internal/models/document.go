package models

import (
	"fmt"
	"slices"
	"strings"
)

// Status is the outcome of generating one section.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusPartial marks usable content written without grounding because
	// retrieval failed for the section.
	StatusPartial Status = "partial"
)

// TocNode is a node of the requested document structure.
type TocNode struct {
	NodeID      string     `json:"node_id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Level       int        `json:"level" yaml:"level"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Children    []*TocNode `json:"children,omitempty" yaml:"children,omitempty"`
}

// IsContainer reports whether the node has children.
func (n *TocNode) IsContainer() bool {
	return len(n.Children) > 0
}

// Walk visits n and its descendants in pre-order, passing the titles of the ancestors.
// Returning false from fn stops the walk.
func (n *TocNode) Walk(fn func(node *TocNode, ancestors []string) bool) {
	var visit func(node *TocNode, ancestors []string) bool
	visit = func(node *TocNode, ancestors []string) bool {
		if !fn(node, ancestors) {
			return false
		}
		next := append(append([]string(nil), ancestors...), node.Title)
		for _, c := range node.Children {
			if !visit(c, next) {
				return false
			}
		}
		return true
	}
	visit(n, nil)
}

// GenerationResult is the outcome of one section.
type GenerationResult struct {
	NodeID         string   `json:"node_id"`
	Title          string   `json:"title"`
	Level          int      `json:"level"`
	Content        string   `json:"content"`
	LocalCitations []string `json:"local_citations"`
	Status         Status   `json:"status"`
	Reason         string   `json:"reason,omitempty"`
	// Structural is set for container headers that were not sent to the model.
	Structural bool `json:"structural,omitempty"`
}

// CitationEntry is one row of the document-wide reference table.
type CitationEntry struct {
	GlobalNumber int    `json:"global_number"`
	ChunkID      string `json:"chunk_id"`
	SourceID     string `json:"source_id"`
	SourceName   string `json:"source_name"`
	PageNumber   int    `json:"page_number,omitempty"`
	SectionLabel string `json:"section_label,omitempty"`
	Excerpt      string `json:"excerpt,omitempty"`
	FirstCitedIn string `json:"first_cited_in"`
}

// Label renders the entry as "[n] source_name, p. page"; the page is omitted when unknown.
func (e CitationEntry) Label() string {
	if e.PageNumber > 0 {
		return fmt.Sprintf("[%d] %s, p. %d", e.GlobalNumber, e.SourceName, e.PageNumber)
	}
	return fmt.Sprintf("[%d] %s", e.GlobalNumber, e.SourceName)
}

// Document is the assembled output of a generation run.
type Document struct {
	RunID          string             `json:"run_id"`
	Title          string             `json:"title"`
	Sections       []GenerationResult `json:"sections"`
	ReferenceTable []CitationEntry    `json:"reference_table"`
	FailedSections int                `json:"failed_sections"`
	Cancelled      bool               `json:"cancelled,omitempty"`
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Sections = make([]GenerationResult, len(d.Sections))
	for i, s := range d.Sections {
		s.LocalCitations = slices.Clone(s.LocalCitations)
		c.Sections[i] = s
	}
	c.ReferenceTable = slices.Clone(d.ReferenceTable)
	return &c
}

// Partial reports whether one or more sections failed.
func (d *Document) Partial() bool {
	return d.FailedSections > 0
}

// Markdown renders the document as a single Markdown text.
func (d *Document) Markdown() string {
	var b strings.Builder
	if d.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", d.Title)
	}
	for _, s := range d.Sections {
		depth := s.Level + 1
		if depth < 2 {
			depth = 2
		}
		if depth > 6 {
			depth = 6
		}
		fmt.Fprintf(&b, "%s %s\n\n", strings.Repeat("#", depth), s.Title)
		if s.Content != "" {
			b.WriteString(strings.TrimSpace(s.Content))
			b.WriteString("\n\n")
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
