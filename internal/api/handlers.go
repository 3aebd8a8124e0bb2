// Package api implements the dossier REST API using chi.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dossier/internal/writer"
)

// Handler holds API route handlers.
type Handler struct {
	svc *writer.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *writer.Service) *Handler {
	return &Handler{svc: svc}
}

// ListRuns handles GET /api/runs.
//
//	@Summary		List generation runs, newest first
//	@Tags			runs
//	@Produce		json
//	@Success		200	{object}	RunListResponse
//	@Router			/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RunListResponse{Runs: h.svc.ListRuns(r.Context())})
}

// CreateRun handles POST /api/runs.
//
// The run is generated in the background and 202 is returned, unless
// ?wait=true is given, in which case the finished document is returned.
//
//	@Summary		Start generating a document
//	@Tags			runs
//	@Accept			json
//	@Produce		json
//	@Param			wait	query		bool				false	"Block until the document is ready"
//	@Param			body	body		CreateRunRequest	true	"TOC or template plus options"
//	@Success		200		{object}	RunResponse
//	@Success		202		{object}	RunResponse
//	@Failure		400		{object}	errResponse
//	@Router			/runs [post]
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		doc, err := h.svc.Generate(r.Context(), req)
		if err != nil {
			writeError(w, "generate", err)
			return
		}
		sum, _, err := h.svc.GetRun(r.Context(), doc.RunID)
		if err != nil {
			writeError(w, "generate", err)
			return
		}
		writeJSON(w, http.StatusOK, RunResponse{Run: sum, Document: doc})
		return
	}

	sum, err := h.svc.StartRun(r.Context(), req)
	if err != nil {
		writeError(w, "start run", err)
		return
	}
	w.Header().Set("Location", "/api/runs/"+sum.ID)
	writeJSON(w, http.StatusAccepted, RunResponse{Run: sum})
}

// GetRun handles GET /api/runs/{id}.
//
//	@Summary		Get a run and its document
//	@Tags			runs
//	@Produce		json
//	@Param			id	path		string	true	"Run id"
//	@Success		200	{object}	RunResponse
//	@Failure		404	{object}	errResponse
//	@Router			/runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	sum, doc, err := h.svc.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{Run: sum, Document: doc})
}

// CancelRun handles DELETE /api/runs/{id}.
//
//	@Summary		Cancel an in-flight run
//	@Tags			runs
//	@Param			id	path	string	true	"Run id"
//	@Success		202	"Cancellation requested"
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Router			/runs/{id} [delete]
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelRun(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "cancel run", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ExportRun handles GET /api/runs/{id}/export.
//
//	@Summary		Download citations or the document
//	@Tags			runs
//	@Produce		json
//	@Param			id		path	string	true	"Run id"
//	@Param			format	query	string	false	"Export format"	Enums(json, bibtex, markdown)
//	@Success		200
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Router			/runs/{id}/export [get]
func (h *Handler) ExportRun(w http.ResponseWriter, r *http.Request) {
	body, contentType, err := h.svc.Export(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, "export run", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// RunStats handles GET /api/runs/{id}/stats.
//
//	@Summary		Citation statistics of a finished run
//	@Tags			runs
//	@Produce		json
//	@Param			id	path		string	true	"Run id"
//	@Success		200	{object}	citation.Statistics
//	@Failure		404	{object}	errResponse
//	@Router			/runs/{id}/stats [get]
func (h *Handler) RunStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "run stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// RefineSection handles POST /api/runs/{id}/sections/{nodeID}/refine.
//
//	@Summary		Revise one section of a finished run
//	@Tags			runs
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Run id"
//	@Param			nodeID	path		string			true	"Section node id"
//	@Param			body	body		RefineRequest	true	"Reviewer request"
//	@Success		200		{object}	models.GenerationResult
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Router			/runs/{id}/sections/{nodeID}/refine [post]
func (h *Handler) RefineSection(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req RefineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	sec, err := h.svc.Refine(r.Context(), writer.RefineRequest{
		RunID:   chi.URLParam(r, "id"),
		NodeID:  chi.URLParam(r, "nodeID"),
		Request: req.Request,
	})
	if err != nil {
		writeError(w, "refine", err)
		return
	}
	writeJSON(w, http.StatusOK, sec)
}
