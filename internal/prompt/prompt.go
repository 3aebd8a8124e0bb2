// Package prompt composes generation prompts for document sections.
package prompt

import (
	"fmt"
	"strings"

	"github.com/starford/dossier/internal/models"
)

// Section describes what is being written.
type Section struct {
	Title string
	// Hierarchy is the chain of ancestor titles, outermost first, joined with " > ".
	Hierarchy   string
	Description string
	// Subsections lists child titles when a container section gets its own narrative.
	Subsections []string
}

// Marker returns the local citation marker for the i-th passage (0-based).
func Marker(i int) string {
	return fmt.Sprintf("[P%d]", i+1)
}

const groundedRules = `Rules:
1. Use ONLY the information in the numbered source passages below. Do not add facts from memory.
2. Whenever a sentence uses information from a passage, put that passage's marker (for example [P1]) immediately after the sentence.
3. Use only the markers shown below. Never invent a marker, never renumber one and never cite by author or file name.
4. If no passage supports a statement, write it without a marker. If the passages do not cover the topic, say briefly what information is missing.
5. Do not repeat the section title as a heading and do not add a References, Bibliography or Sources list. References are compiled separately.
`

const ungroundedRules = `Rules:
1. No source passages are available for this section. Write a concise, factual draft based on the section title and its place in the document.
2. Do not include citation markers of any kind and do not add a References, Bibliography or Sources list.
3. Do not repeat the section title as a heading.
`

// Build composes the prompt for one section. Each passage is labelled with its
// local marker; markers map 1:1 onto passages by position.
func Build(sec Section, passages []models.RetrievedPassage) string {
	var b strings.Builder
	b.WriteString("You are an expert regulatory writer drafting one section of a larger document.\n\n")
	writeSectionHeader(&b, sec)

	if len(passages) == 0 {
		b.WriteString(ungroundedRules)
		fmt.Fprintf(&b, "\nWrite the section %q now:\n", sec.Title)
		return b.String()
	}

	b.WriteString(groundedRules)
	b.WriteString("\nSource passages:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "\n%s %s", Marker(i), p.SourceName)
		if p.PageNumber > 0 {
			fmt.Fprintf(&b, ", p. %d", p.PageNumber)
		}
		if p.SectionLabel != "" {
			fmt.Fprintf(&b, " (%s)", p.SectionLabel)
		}
		b.WriteString(":\n")
		b.WriteString(strings.TrimSpace(p.Text))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nWrite the section %q now, citing passages with their markers:\n", sec.Title)
	return b.String()
}

// BuildRefinement composes a prompt that revises existing section content.
// Global citation markers such as [3] in the current content must survive unchanged.
func BuildRefinement(title, current, request string) string {
	var b strings.Builder
	b.WriteString("You are an expert regulatory writer. Revise the section below according to the reviewer's request.\n\n")
	fmt.Fprintf(&b, "Section title: %s\n\n", title)
	b.WriteString("Current content:\n")
	b.WriteString(strings.TrimSpace(current))
	b.WriteString("\n\nReviewer request:\n")
	b.WriteString(strings.TrimSpace(request))
	b.WriteString("\n\nRules:\n")
	b.WriteString("1. Keep every existing citation number such as [1] or [12] attached to the claim it supports. Do not add new citation numbers.\n")
	b.WriteString("2. Do not add a References, Bibliography or Sources list.\n")
	b.WriteString("3. Return only the revised section text.\n")
	return b.String()
}

func writeSectionHeader(b *strings.Builder, sec Section) {
	fmt.Fprintf(b, "Section title: %s\n", sec.Title)
	if sec.Hierarchy != "" {
		fmt.Fprintf(b, "Position in document: %s > %s\n", sec.Hierarchy, sec.Title)
	}
	if sec.Description != "" {
		fmt.Fprintf(b, "Section requirements: %s\n", sec.Description)
	}
	if len(sec.Subsections) > 0 {
		fmt.Fprintf(b, "This section introduces the subsections: %s. Give an overview only; the subsections are written separately.\n",
			strings.Join(sec.Subsections, "; "))
	}
	b.WriteString("\n")
}
