package writer

import (
	"log/slog"
	"regexp"
	"strconv"

	"github.com/starford/dossier/internal/models"
	"github.com/starford/dossier/internal/prompt"
)

// Four or more digits read as a year, not a citation.
var globalMarkerRe = regexp.MustCompile(`\[(\d{1,3})\]`)

func buildRefinement(sec models.GenerationResult, request string) string {
	return prompt.BuildRefinement(sec.Title, sec.Content, request)
}

// keepKnownCitations drops [n] markers that are not in the reference table and
// returns the chunk ids still cited, in first-occurrence order.
func keepKnownCitations(content string, table []models.CitationEntry, logger *slog.Logger) (string, []string) {
	cited := []string{}
	var removed []string
	seen := make(map[int]bool)
	out := globalMarkerRe.ReplaceAllStringFunc(content, func(m string) string {
		n, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil || n < 1 || n > len(table) {
			removed = append(removed, m)
			return ""
		}
		if !seen[n] {
			seen[n] = true
			cited = append(cited, table[n-1].ChunkID)
		}
		return m
	})
	if len(removed) > 0 {
		logger.Warn("writer: removed unknown citations from refinement",
			slog.Any("markers", removed),
			slog.Int("references", len(table)))
	}
	return tidyRefined(out), cited
}

var (
	refinedPunctRe  = regexp.MustCompile(`[ \t]+([.,;:!?])`)
	refinedSpacesRe = regexp.MustCompile(`(\S)[ \t]{2,}`)
)

func tidyRefined(s string) string {
	s = refinedPunctRe.ReplaceAllString(s, "$1")
	return refinedSpacesRe.ReplaceAllString(s, "$1 ")
}
