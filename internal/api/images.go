package api

import (
	"io"
	"net/http"
	"path/filepath"

	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/storage"
)

const maxUploadBytes = 50 << 20 // 50 MB

// ReadImage handles GET /api/images?path=.
func (h *Handler) ReadImage(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("path")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	data, contentType, err := h.svc.ReadImage(r.Context(), id)
	if err != nil {
		writeError(w, "read image", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// UploadImage handles POST /api/images (multipart/form-data, field "file",
// optional field "notebookId"). The file name's extension names the type;
// without one the type is sniffed from the content.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
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

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	notebookID := r.FormValue("notebookId")
	if notebookID == "" {
		notebookID = models.DefaultNotebook
	}
	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = storage.SniffImage(data)
	}
	note, err := h.svc.SaveImage(r.Context(), notebookID, ext, data)
	if err != nil {
		writeError(w, "upload image", err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}
