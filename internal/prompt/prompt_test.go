package prompt

import (
	"strings"
	"testing"

	"github.com/starford/dossier/internal/models"
)

func TestBuild_MarkersTiedToPassages(t *testing.T) {
	passages := []models.RetrievedPassage{
		{ChunkID: "c1", SourceName: "A.pdf", PageNumber: 3, Text: "first passage"},
		{ChunkID: "c2", SourceName: "B.pdf", Text: "second passage"},
	}
	out := Build(Section{Title: "Stability", Hierarchy: "Drug Substance"}, passages)

	p1 := strings.Index(out, "[P1] A.pdf, p. 3:\nfirst passage")
	p2 := strings.Index(out, "[P2] B.pdf:\nsecond passage")
	if p1 < 0 || p2 < 0 {
		t.Fatalf("passages not labelled as expected:\n%s", out)
	}
	if p1 > p2 {
		t.Error("passages out of order")
	}
	if strings.Contains(out, "[P3]") {
		t.Error("prompt mentions a marker with no passage")
	}
	if !strings.Contains(out, "Drug Substance > Stability") {
		t.Error("hierarchy context missing")
	}
}

func TestBuild_Ungrounded(t *testing.T) {
	out := Build(Section{Title: "Introduction"}, nil)
	if strings.Contains(out, "[P1]") || strings.Contains(out, "Source passages") {
		t.Errorf("ungrounded prompt should not mention markers:\n%s", out)
	}
	if !strings.Contains(out, "No source passages are available") {
		t.Error("missing ungrounded instruction")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	passages := []models.RetrievedPassage{{ChunkID: "c1", SourceName: "A.pdf", Text: "x"}}
	sec := Section{Title: "T", Subsections: []string{"One", "Two"}}
	if Build(sec, passages) != Build(sec, passages) {
		t.Error("Build is not deterministic")
	}
	if !strings.Contains(Build(sec, passages), "One; Two") {
		t.Error("subsections not listed")
	}
}

func TestBuildRefinement(t *testing.T) {
	out := BuildRefinement("Methods", "Assays were validated [2].", "make it shorter")
	for _, want := range []string{"Methods", "Assays were validated [2].", "make it shorter", "Keep every existing citation number"} {
		if !strings.Contains(out, want) {
			t.Errorf("refinement prompt missing %q", want)
		}
	}
}

func TestMarker(t *testing.T) {
	if Marker(0) != "[P1]" || Marker(9) != "[P10]" {
		t.Errorf("Marker = %s, %s", Marker(0), Marker(9))
	}
}
