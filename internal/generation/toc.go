package generation

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/models"
)

// ReferencesTitle is the heading of the synthesized reference list.
const ReferencesTitle = "References"

// unit is one TOC node scheduled for the document, in pre-order.
type unit struct {
	node       *models.TocNode
	level      int
	hierarchy  string
	structural bool
	references bool
}

// ValidateTOC checks that every node has a title and a unique, non-empty id.
func ValidateTOC(root *models.TocNode) error {
	if root == nil {
		return fmt.Errorf("%w: nil root", apperr.ErrInvalidTOC)
	}
	seen := make(map[string]struct{})
	var err error
	root.Walk(func(n *models.TocNode, _ []string) bool {
		switch {
		case n == nil:
			err = fmt.Errorf("%w: nil node", apperr.ErrInvalidTOC)
		case strings.TrimSpace(n.NodeID) == "":
			err = fmt.Errorf("%w: node %q has no id", apperr.ErrInvalidTOC, n.Title)
		case strings.TrimSpace(n.Title) == "" && n != root:
			err = fmt.Errorf("%w: node %s has no title", apperr.ErrInvalidTOC, n.NodeID)
		}
		if err != nil {
			return false
		}
		if _, dup := seen[n.NodeID]; dup {
			err = fmt.Errorf("%w: %s", apperr.ErrDuplicateNode, n.NodeID)
			return false
		}
		seen[n.NodeID] = struct{}{}
		return true
	})
	return err
}

// AssignIDs gives every node without an id a fresh one.
func AssignIDs(root *models.TocNode) {
	if root == nil {
		return
	}
	root.Walk(func(n *models.TocNode, _ []string) bool {
		if strings.TrimSpace(n.NodeID) == "" {
			n.NodeID = uuid.NewString()
		}
		return true
	})
}

// sectionsOf returns the nodes that form the document body. The root is the
// document itself unless it has no children, in which case it is the only section.
func sectionsOf(root *models.TocNode) []*models.TocNode {
	if len(root.Children) == 0 {
		return []*models.TocNode{root}
	}
	return root.Children
}

// flatten lists the document's sections in pre-order.
func flatten(root *models.TocNode, generateContainers bool) []unit {
	var out []unit
	var visit func(n *models.TocNode, depth int, ancestors []string)
	visit = func(n *models.TocNode, depth int, ancestors []string) {
		level := n.Level
		if level <= 0 {
			level = depth
		}
		u := unit{
			node:       n,
			level:      level,
			hierarchy:  strings.Join(ancestors, " > "),
			structural: n.IsContainer() && !generateContainers,
			references: depth == 1 && !n.IsContainer() && isReferencesTitle(n.Title),
		}
		out = append(out, u)
		next := append(append([]string(nil), ancestors...), n.Title)
		for _, c := range n.Children {
			visit(c, depth+1, next)
		}
	}
	for _, n := range sectionsOf(root) {
		visit(n, 1, nil)
	}
	return out
}

// PlannedSections returns how many sections of root are sent to the model.
// Structural containers and a template References node are not counted.
func PlannedSections(root *models.TocNode, cfg Config) int {
	if root == nil {
		return 0
	}
	n := 0
	for _, u := range flatten(root, cfg.GenerateContainers) {
		if !u.structural && !u.references {
			n++
		}
	}
	return n
}

func isReferencesTitle(title string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	t = strings.TrimRight(t, ":")
	switch t {
	case "references", "reference list", "bibliography":
		return true
	}
	return false
}

func childTitles(n *models.TocNode) []string {
	out := make([]string, len(n.Children))
	for i, c := range n.Children {
		out[i] = c.Title
	}
	return out
}
