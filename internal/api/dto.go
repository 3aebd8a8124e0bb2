package api

import (
	"github.com/starford/dossier/internal/index"
	"github.com/starford/dossier/internal/models"
	"github.com/starford/dossier/internal/writer"
)

// CreateRunRequest is the request body for starting a generation run.
type CreateRunRequest = writer.GenerateRequest

// RunSummary is the status of a run (aliased from the service layer).
type RunSummary = writer.RunSummary

// RunResponse carries a run and, once finished, its document.
type RunResponse struct {
	Run      RunSummary       `json:"run" validate:"required"`
	Document *models.Document `json:"document,omitempty"`
}

// RunListResponse wraps run listings.
type RunListResponse struct {
	Runs []RunSummary `json:"runs" validate:"required"`
}

// RefineRequest is the request body for revising a section.
type RefineRequest struct {
	Request string `json:"request" example:"Shorten to two paragraphs" validate:"required"`
}

// SourceListResponse wraps source listings.
type SourceListResponse struct {
	Sources []index.SourceRow `json:"sources" validate:"required"`
}

// MoveSourceRequest is the request body for renaming a source.
type MoveSourceRequest struct {
	From string `json:"from" example:"guides/q1a.pdf" validate:"required"`
	To   string `json:"to" example:"guides/ich-q1a-r2.pdf" validate:"required"`
}

// SearchResponse wraps similarity search results.
type SearchResponse struct {
	Results []models.RetrievedPassage `json:"results" validate:"required"`
}
