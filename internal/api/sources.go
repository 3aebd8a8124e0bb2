package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

const maxUploadBytes = 50 << 20 // 50 MB

// sourcePath extracts the source path from the URL (everything after /api/sources/).
// Supports encoded slashes from OpenAPI clients (e.g. guides%2Fich-q8.pdf).
func sourcePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// uploadName validates a client-supplied name: a relative slash path without traversal.
func uploadName(dir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	joined := path.Clean(path.Join(dir, name))
	if strings.HasPrefix(joined, "/") || joined == "." || strings.HasPrefix(joined, "..") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	return joined, nil
}

// ListSources handles GET /api/sources.
//
//	@Summary		List ingested source documents
//	@Tags			sources
//	@Produce		json
//	@Success		200	{object}	SourceListResponse
//	@Router			/sources [get]
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.Sources(r.Context())
	if err != nil {
		writeError(w, "list sources", err)
		return
	}
	writeJSON(w, http.StatusOK, SourceListResponse{Sources: rows})
}

// UploadSource handles POST /api/sources (multipart/form-data, field "file",
// optional field "dir").
//
//	@Summary		Upload and ingest a source document
//	@Tags			sources
//	@Accept			mpfd
//	@Produce		json
//	@Param			file	formData	file	true	"PDF, text or Markdown file"
//	@Param			dir		formData	string	false	"Target sub-directory"
//	@Success		201		{object}	index.SourceRow
//	@Failure		400		{object}	errResponse
//	@Router			/sources [post]
func (h *Handler) UploadSource(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	name, err := uploadName(r.FormValue("dir"), header.Filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}
	row, err := h.svc.Upload(r.Context(), name, data)
	if err != nil {
		writeError(w, "upload source", err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

// DeleteSource handles DELETE /api/sources/*.
//
//	@Summary		Delete a source document and its chunks
//	@Tags			sources
//	@Param			path	path	string	true	"Source path"
//	@Success		204		"Source deleted"
//	@Failure		404		{object}	errResponse
//	@Router			/sources/{path} [delete]
func (h *Handler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	p := sourcePath(r)
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.DeleteSource(r.Context(), p); err != nil {
		writeError(w, "delete source", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveSource handles POST /api/sources/move.
//
//	@Summary		Rename a source document and re-index it
//	@Tags			sources
//	@Accept			json
//	@Produce		json
//	@Param			body	body		MoveSourceRequest	true	"Current and new path"
//	@Success		200		{object}	index.SourceRow
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Router			/sources/move [post]
func (h *Handler) MoveSource(w http.ResponseWriter, r *http.Request) {
	var req MoveSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.From == "" || req.To == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("from and to are required"))
		return
	}
	to, err := uploadName("", req.To)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	row, err := h.svc.MoveSource(r.Context(), req.From, to)
	if err != nil {
		writeError(w, "move source", err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// SyncSources handles POST /api/sources/sync.
//
//	@Summary		Re-scan the sources directory
//	@Tags			sources
//	@Produce		json
//	@Success		200	{object}	ingest.SyncResult
//	@Router			/sources/sync [post]
func (h *Handler) SyncSources(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Sync(r.Context())
	if err != nil {
		writeError(w, "sync sources", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Search handles GET /api/search.
//
//	@Summary		Similarity search across source chunks
//	@Tags			sources
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}
