package models

import "testing"

func TestDocumentClone(t *testing.T) {
	d := &Document{
		RunID:          "r1",
		Sections:       []GenerationResult{{NodeID: "a", Content: "Text [1].", LocalCitations: []string{"c1"}}},
		ReferenceTable: []CitationEntry{{GlobalNumber: 1, ChunkID: "c1", SourceName: "A.pdf"}},
	}
	c := d.Clone()
	c.Sections[0].Content = "changed"
	c.Sections[0].LocalCitations[0] = "c9"
	c.ReferenceTable[0].SourceName = "B.pdf"

	if d.Sections[0].Content != "Text [1]." || d.Sections[0].LocalCitations[0] != "c1" || d.ReferenceTable[0].SourceName != "A.pdf" {
		t.Errorf("original changed: %+v", d)
	}
	if (*Document)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}
