package writer

import (
	"context"
	"fmt"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/citation"
)

// Export formats.
const (
	FormatJSON     = "json"
	FormatBibTeX   = "bibtex"
	FormatMarkdown = "markdown"
)

// Export renders a finished run's document or citations. It returns the body
// and its content type.
func (s *Service) Export(ctx context.Context, runID, format string) ([]byte, string, error) {
	doc, err := s.Document(ctx, runID)
	if err != nil {
		return nil, "", err
	}
	switch format {
	case "", FormatJSON:
		body, err := citation.ExportJSON(runID, doc.ReferenceTable)
		return body, "application/json", err
	case FormatBibTeX:
		return []byte(citation.ExportBibTeX(doc.ReferenceTable)), "application/x-bibtex; charset=utf-8", nil
	case FormatMarkdown:
		return []byte(doc.Markdown()), "text/markdown; charset=utf-8", nil
	default:
		return nil, "", fmt.Errorf("%w: unknown format %q", apperr.ErrInvalidInput, format)
	}
}

// Stats summarises the citations of a finished run.
func (s *Service) Stats(ctx context.Context, runID string) (citation.Statistics, error) {
	doc, err := s.Document(ctx, runID)
	if err != nil {
		return citation.Statistics{}, err
	}
	return citation.Stats(doc.ReferenceTable), nil
}
