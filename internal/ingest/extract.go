// Package ingest turns source files into indexed, embedded chunks.
package ingest

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Page is one extracted unit of text. Number is the 1-based page for paginated
// formats and 0 otherwise. Label carries the nearest heading, if known.
type Page struct {
	Number int
	Label  string
	Text   string
}

// Extract returns the text of a source file, split by page for PDFs and by
// top-level heading for Markdown.
func Extract(name string, data []byte) ([]Page, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return extractPDF(data)
	case ".md":
		return extractMarkdown(string(data)), nil
	case ".txt":
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil, nil
		}
		return []Page{{Text: text}}, nil
	default:
		return nil, fmt.Errorf("ingest: unsupported file type %q", filepath.Ext(name))
	}
}

func extractPDF(data []byte) (pages []Page, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingest: read pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("ingest: open pdf: %w", err)
	}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("ingest: page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}

func extractMarkdown(src string) []Page {
	var (
		pages []Page
		label string
		buf   strings.Builder
	)
	flush := func() {
		if text := strings.TrimSpace(buf.String()); text != "" {
			pages = append(pages, Page{Label: label, Text: text})
		}
		buf.Reset()
	}
	for _, line := range strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") || strings.HasPrefix(trimmed, "## ") {
			flush()
			label = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			continue
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	flush()
	return pages
}
