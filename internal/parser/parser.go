// Package parser reads document templates into a table of contents.
//
// A template is Markdown with optional YAML frontmatter. Headings define the
// structure and the text under a heading becomes that section's description.
// Templates without headings are read as an outline where every four spaces of
// indentation (or one tab) is one level. Leading numbering such as "3.2.1" is
// dropped and a trailing {#id} anchor sets the node id.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/models"
)

var (
	anchorRe    = regexp.MustCompile(`\s*\{#([A-Za-z0-9_.:-]+)\}\s*$`)
	numberingRe = regexp.MustCompile(`^(?:\d+(?:\.[0-9A-Za-z]+)*\.?|[A-Z]\.|[ivxIVX]+\.)\s+`)
	bulletRe    = regexp.MustCompile(`^[-*+]\s+`)
)

// Frontmatter holds the template-level fields.
type Frontmatter struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// ParseTemplate builds a TOC from template bytes. The returned root is the
// document; its children are the top-level sections.
func ParseTemplate(data []byte) (*models.TocNode, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	var items []item
	if hasHeadings(body) {
		items = headingItems(body)
	} else {
		items = outlineItems(body)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: template has no sections", apperr.ErrInvalidTOC)
	}

	root := &models.TocNode{Title: fm.Title, Description: fm.Description}
	build(root, items)

	// A single top-level heading with children and no frontmatter title is the document title.
	if root.Title == "" && len(root.Children) == 1 && root.Children[0].IsContainer() {
		only := root.Children[0]
		root.Title, root.NodeID, root.Children = only.Title, only.NodeID, only.Children
		if root.Description == "" {
			root.Description = only.Description
		}
	}

	relevel(root, 0)
	assignIDs(root)
	return root, nil
}

type item struct {
	depth       int
	title       string
	id          string
	description string
}

func splitFrontmatter(data []byte) (Frontmatter, string, error) {
	const delim = "---"
	var fm Frontmatter
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return fm, string(data), nil
	}
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return fm, string(data), nil
	}
	if err := yaml.Unmarshal(rest[:idx], &fm); err != nil {
		return fm, "", fmt.Errorf("%w: frontmatter: %v", apperr.ErrInvalidTOC, err)
	}
	body := strings.TrimLeft(string(rest[idx+1+len(delim):]), "\n\r")
	return fm, body, nil
}

func hasHeadings(body string) bool {
	for _, line := range lines(body) {
		if headingDepth(strings.TrimSpace(line)) > 0 {
			return true
		}
	}
	return false
}

// headingDepth returns the number of leading '#' for an ATX heading, or 0.
func headingDepth(line string) int {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n > 6 || n >= len(line) || line[n] != ' ' {
		return 0
	}
	return n
}

func headingItems(body string) []item {
	var (
		items []item
		desc  []string
	)
	flush := func() {
		if len(items) > 0 {
			items[len(items)-1].description = strings.TrimSpace(strings.Join(desc, "\n"))
		}
		desc = desc[:0]
	}
	for _, line := range lines(body) {
		trimmed := strings.TrimSpace(line)
		if d := headingDepth(trimmed); d > 0 {
			flush()
			title, id := cleanTitle(trimmed[d:])
			if title == "" {
				continue
			}
			items = append(items, item{depth: d, title: title, id: id})
			continue
		}
		if len(items) > 0 {
			desc = append(desc, line)
		}
	}
	flush()
	return items
}

func outlineItems(body string) []item {
	var items []item
	for _, line := range lines(body) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		expanded := strings.ReplaceAll(line, "\t", "    ")
		indent := len(expanded) - len(strings.TrimLeft(expanded, " "))
		title, id := cleanTitle(expanded)
		if title == "" {
			continue
		}
		items = append(items, item{depth: indent/4 + 1, title: title, id: id})
	}
	return items
}

func cleanTitle(s string) (title, id string) {
	s = strings.TrimSpace(s)
	if m := anchorRe.FindStringSubmatch(s); m != nil {
		id = m[1]
		s = s[:len(s)-len(m[0])]
	}
	s = bulletRe.ReplaceAllString(s, "")
	s = numberingRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s), id
}

// build attaches items under root using their depth. A jump of more than one
// level attaches to the deepest open node.
func build(root *models.TocNode, items []item) {
	type open struct {
		node  *models.TocNode
		depth int
	}
	stack := []open{{node: root, depth: 0}}
	for _, it := range items {
		for len(stack) > 1 && stack[len(stack)-1].depth >= it.depth {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1].node
		n := &models.TocNode{NodeID: it.id, Title: it.title, Description: it.description}
		parent.Children = append(parent.Children, n)
		stack = append(stack, open{node: n, depth: it.depth})
	}
}

func relevel(n *models.TocNode, level int) {
	n.Level = level
	for _, c := range n.Children {
		relevel(c, level+1)
	}
}

func assignIDs(root *models.TocNode) {
	root.Walk(func(n *models.TocNode, _ []string) bool {
		if n.NodeID == "" {
			n.NodeID = uuid.NewString()
		}
		return true
	})
}

func lines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}
