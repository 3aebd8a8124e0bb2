package synth

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/dossier/internal/models"
)

var (
	// [P1], [P1, P3], [p2; 4]
	localMarkerRe = regexp.MustCompile(`(?i)\[\s*P(\d+)((?:\s*[,;]\s*P?\d+)*)\s*\]`)
	listIndexRe   = regexp.MustCompile(`\d+`)
	// Bare numeric citations are reserved for consolidated output. Four or more
	// digits read as a year or a count and are left alone.
	numericMarkerRe = regexp.MustCompile(`\[\d{1,3}(?:\s*[,\-–]\s*\d{1,3})*\]`)
	placeholderRe   = regexp.MustCompile(`\{\{cite:(\d+)\}\}`)

	referencesHeadingRe = regexp.MustCompile(`(?i)^\s*(?:#{1,6}\s*)?(?:\*\*)?\s*(references|reference list|bibliography|sources|citations|works cited)\s*:?\s*(?:\*\*)?\s*$`)
	// [P<i>] lines are body text, so only bare numbers qualify.
	referenceLineRe = regexp.MustCompile(`^\s*\[\d{1,3}\]\s+\S`)
)

const minReferenceLines = 2

// Placeholder returns the unresolved citation token for the k-th local citation.
func Placeholder(k int) string {
	return fmt.Sprintf("{{cite:%d}}", k)
}

// ReplacePlaceholders rewrites every placeholder through fn, which receives the local index.
// Placeholders for which fn returns "" are removed.
func ReplacePlaceholders(content string, fn func(k int) string) string {
	return placeholderRe.ReplaceAllStringFunc(content, func(m string) string {
		k, err := strconv.Atoi(placeholderRe.FindStringSubmatch(m)[1])
		if err != nil {
			return ""
		}
		return fn(k)
	})
}

// Parsed is the result of scanning raw model output for local markers.
type Parsed struct {
	// Content has every valid marker replaced by a placeholder.
	Content string
	// Cited holds the distinct passages referenced, in first-occurrence order.
	// Placeholder k refers to Cited[k].
	Cited []models.RetrievedPassage
	// Dropped lists marker indexes that did not match a passage.
	Dropped []int
	// Stray lists the bare [n] citations removed from the output.
	Stray []string
}

// ParseMarkers replaces [P<i>] markers with placeholders. Markers outside
// [1, len(passages)] are dropped, along with any bare [n] the model produced.
func ParseMarkers(raw string, passages []models.RetrievedPassage) Parsed {
	raw = placeholderRe.ReplaceAllString(raw, "")

	var (
		out     Parsed
		slot    = make(map[string]int)
		b       strings.Builder
		lastEnd int
	)
	for _, loc := range localMarkerRe.FindAllStringIndex(raw, -1) {
		start, end := loc[0], loc[1]
		b.WriteString(raw[lastEnd:start])
		lastEnd = end

		var tokens strings.Builder
		for _, num := range listIndexRe.FindAllString(raw[start:end], -1) {
			i, err := strconv.Atoi(num)
			if err != nil || i < 1 || i > len(passages) {
				out.Dropped = append(out.Dropped, i)
				continue
			}
			p := passages[i-1]
			k, seen := slot[p.ChunkID]
			if !seen {
				k = len(out.Cited)
				slot[p.ChunkID] = k
				out.Cited = append(out.Cited, p)
			}
			tokens.WriteString(Placeholder(k))
		}
		if tokens.Len() == 0 {
			trimTrailingSpace(&b)
			continue
		}
		b.WriteString(tokens.String())
	}
	b.WriteString(raw[lastEnd:])

	content := b.String()
	out.Stray = numericMarkerRe.FindAllString(content, -1)
	content = numericMarkerRe.ReplaceAllString(content, "")
	out.Content = tidy(content)
	return out
}

// StripReferences cuts a model-written reference list from the end of the text:
// everything from a References/Bibliography/Sources heading on, or a trailing
// block of two or more consecutive "[n] ..." lines.
func StripReferences(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if i > 0 && referencesHeadingRe.MatchString(line) {
			lines = lines[:i]
			break
		}
	}
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	cut := end
	for cut > 0 && referenceLineRe.MatchString(lines[cut-1]) {
		cut--
	}
	if cut > 0 && end-cut >= minReferenceLines {
		end = cut
	}
	return strings.TrimSpace(strings.Join(lines[:end], "\n"))
}

// RemoveLocalMarkers deletes every [P<i>] marker, for output that must not gain new citations.
func RemoveLocalMarkers(text string) string {
	return tidy(localMarkerRe.ReplaceAllStringFunc(text, func(string) string { return "" }))
}

func trimTrailingSpace(b *strings.Builder) {
	s := b.String()
	trimmed := strings.TrimRight(s, " \t")
	if len(trimmed) != len(s) {
		b.Reset()
		b.WriteString(trimmed)
	}
}

var (
	spaceBeforePunctRe = regexp.MustCompile(`[ \t]+([.,;:!?])`)
	doubleSpaceRe      = regexp.MustCompile(`(\S)[ \t]{2,}`)
)

func tidy(s string) string {
	s = spaceBeforePunctRe.ReplaceAllString(s, "$1")
	s = doubleSpaceRe.ReplaceAllString(s, "$1 ")
	return strings.TrimSpace(s)
}
