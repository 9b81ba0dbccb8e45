package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe/internal/artifact"
)

// ArtifactsHandler serves previously produced transcript artifacts.
type ArtifactsHandler struct {
	store *artifact.Store
	log   zerolog.Logger
}

// NewArtifactsHandler creates the artifact retrieval handler.
func NewArtifactsHandler(store *artifact.Store, log zerolog.Logger) *ArtifactsHandler {
	return &ArtifactsHandler{
		store: store,
		log:   log.With().Str("handler", "artifacts").Logger(),
	}
}

// Routes registers the artifact endpoints.
func (h *ArtifactsHandler) Routes(r chi.Router) {
	r.Get("/files", h.List)
	r.Get("/download/{filename}", h.Download)
}

// List handles GET /api/v1/files: the directory listing is the index.
func (h *ArtifactsHandler) List(w http.ResponseWriter, r *http.Request) {
	infos, err := h.store.List()
	if err != nil {
		h.log.Error().Err(err).Msg("artifact listing failed")
		WriteError(w, http.StatusInternalServerError, "failed to list artifacts")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"files": infos})
}

// Download handles GET /api/v1/download/{filename}. Names that would
// escape the storage root report not found.
func (h *ArtifactsHandler) Download(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	data, err := h.store.Read(filename)
	if errors.Is(err, artifact.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("filename", filename).Msg("artifact read failed")
		WriteError(w, http.StatusInternalServerError, "failed to read artifact")
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(filename))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func contentTypeFor(filename string) string {
	switch filepath.Ext(filename) {
	case ".srt":
		return "application/x-subrip"
	case ".vtt":
		return "text/vtt"
	default:
		return "text/plain; charset=utf-8"
	}
}
