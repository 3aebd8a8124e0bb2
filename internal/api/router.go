package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dossier/internal/writer"
)

// NewRouter creates a chi router with all API routes mounted.
// sseHandler, if non-nil, is mounted at GET /events.
func NewRouter(svc *writer.Service, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()

	// Generation runs.
	r.Get("/runs", h.ListRuns)
	r.Post("/runs", h.CreateRun)
	r.Get("/runs/{id}", h.GetRun)
	r.Delete("/runs/{id}", h.CancelRun)
	r.Get("/runs/{id}/export", h.ExportRun)
	r.Get("/runs/{id}/stats", h.RunStats)
	r.Post("/runs/{id}/sections/{nodeID}/refine", h.RefineSection)

	// Sources.
	r.Get("/sources", h.ListSources)
	r.Post("/sources", h.UploadSource)
	r.Post("/sources/sync", h.SyncSources)
	r.Post("/sources/move", h.MoveSource)
	r.Delete("/sources/*", h.DeleteSource)
	r.Get("/search", h.Search)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
