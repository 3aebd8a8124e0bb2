package parser

import (
	"errors"
	"testing"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/models"
)

func titles(nodes []*models.TocNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Title
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestParseTemplate_Headings(t *testing.T) {
	input := []byte("---\ntitle: Module 3\ndescription: Quality\n---\n" +
		"# 3.2.S Drug Substance {#drug-substance}\n" +
		"Summarise the substance.\n" +
		"## 3.2.S.1 General Information\n" +
		"## Manufacture\n" +
		"# Drug Product\n")
	root, err := ParseTemplate(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root.Title != "Module 3" || root.Description != "Quality" || root.Level != 0 {
		t.Errorf("root = %+v", root)
	}
	if got := titles(root.Children); !equal(got, []string{"Drug Substance", "Drug Product"}) {
		t.Fatalf("top level = %v", got)
	}
	ds := root.Children[0]
	if ds.NodeID != "drug-substance" {
		t.Errorf("anchor id = %q", ds.NodeID)
	}
	if ds.Description != "Summarise the substance." {
		t.Errorf("description = %q", ds.Description)
	}
	if got := titles(ds.Children); !equal(got, []string{"General Information", "Manufacture"}) {
		t.Errorf("children = %v", got)
	}
	if ds.Children[0].Level != 2 {
		t.Errorf("child level = %d", ds.Children[0].Level)
	}
	if root.Children[1].NodeID == "" {
		t.Error("id not assigned")
	}
}

func TestParseTemplate_SingleHeadingBecomesTitle(t *testing.T) {
	root, err := ParseTemplate([]byte("# Report\n## Introduction\n## Results\n"))
	if err != nil {
		t.Fatal(err)
	}
	if root.Title != "Report" {
		t.Errorf("title = %q", root.Title)
	}
	if got := titles(root.Children); !equal(got, []string{"Introduction", "Results"}) {
		t.Errorf("sections = %v", got)
	}
	if root.Children[0].Level != 1 {
		t.Errorf("level = %d", root.Children[0].Level)
	}
}

func TestParseTemplate_Outline(t *testing.T) {
	input := []byte("1. Introduction\n2. Methods\n    2.1 Sampling\n\t2.2 Analysis {#analysis}\n3. References\n")
	root, err := ParseTemplate(input)
	if err != nil {
		t.Fatal(err)
	}
	if got := titles(root.Children); !equal(got, []string{"Introduction", "Methods", "References"}) {
		t.Fatalf("top level = %v", got)
	}
	methods := root.Children[1]
	if got := titles(methods.Children); !equal(got, []string{"Sampling", "Analysis"}) {
		t.Errorf("methods children = %v", got)
	}
	if methods.Children[1].NodeID != "analysis" {
		t.Errorf("anchor = %q", methods.Children[1].NodeID)
	}
}

func TestParseTemplate_Empty(t *testing.T) {
	_, err := ParseTemplate([]byte("---\ntitle: Nothing\n---\n\n"))
	if !errors.Is(err, apperr.ErrInvalidTOC) {
		t.Errorf("err = %v, want ErrInvalidTOC", err)
	}
}

func TestParseTemplate_InvalidFrontmatter(t *testing.T) {
	_, err := ParseTemplate([]byte("---\ntitle: [unclosed\n---\n# A\n"))
	if !errors.Is(err, apperr.ErrInvalidTOC) {
		t.Errorf("err = %v, want ErrInvalidTOC", err)
	}
}
