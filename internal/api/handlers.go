package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/noteservice"
	"github.com/starford/inkwell/internal/storage"
)

// Handler holds note and notebook route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

// ListNotebooks handles GET /api/notebooks.
func (h *Handler) ListNotebooks(w http.ResponseWriter, r *http.Request) {
	nbs, err := h.svc.ListNotebooks(r.Context())
	if err != nil {
		writeError(w, "list notebooks", err)
		return
	}
	writeJSON(w, http.StatusOK, nbs)
}

// CreateNotebook handles POST /api/notebooks.
func (h *Handler) CreateNotebook(w http.ResponseWriter, r *http.Request) {
	var req CreateNotebookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	nb, err := h.svc.CreateNotebook(r.Context(), req.Name)
	if err != nil {
		writeError(w, "create notebook", err)
		return
	}
	writeJSON(w, http.StatusCreated, nb)
}

// DeleteNotebook handles DELETE /api/notebooks/{id}.
func (h *Handler) DeleteNotebook(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteNotebook(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete notebook", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListNotes handles GET /api/notes?notebookId=&tag=&type=.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	notes, err := h.svc.ListNotes(r.Context(), noteservice.ListOptions{
		NotebookID: q.Get("notebookId"),
		Tag:        q.Get("tag"),
		Type:       models.NoteKind(q.Get("type")),
	})
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes, Total: len(notes)})
}

// GetNote handles GET /api/notes/by-path?id=.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id is required"))
		return
	}
	note, err := h.svc.GetNote(r.Context(), id)
	if err != nil {
		writeError(w, "get note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// CreateNote handles POST /api/notes.
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	note, err := h.svc.CreateNote(r.Context(), req.Title, req.Content, req.NotebookID, req.Tags)
	if err != nil {
		writeError(w, "create note", err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// UpdateNote handles PUT /api/notes.
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	var req UpdateNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	note, err := h.svc.UpdateNote(r.Context(), req.ID, req.Content, storage.UpdateOptions{
		Title:      req.Title,
		Tags:       req.Tags,
		NotebookID: req.NotebookID,
	})
	if err != nil {
		writeError(w, "update note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// SetTags handles PUT /api/notes/tags.
func (h *Handler) SetTags(w http.ResponseWriter, r *http.Request) {
	var req SetTagsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	note, err := h.svc.SetTags(r.Context(), req.ID, req.Tags)
	if err != nil {
		writeError(w, "set tags", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// MoveNote handles POST /api/notes/move.
func (h *Handler) MoveNote(w http.ResponseWriter, r *http.Request) {
	var req MoveNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	note, err := h.svc.MoveNote(r.Context(), req.ID, req.NotebookID)
	if err != nil {
		writeError(w, "move note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /api/notes?id=.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id is required"))
		return
	}
	if err := h.svc.DeleteNote(r.Context(), id); err != nil {
		writeError(w, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Tags handles GET /api/tags.
func (h *Handler) Tags(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"tags": h.svc.Tags()})
}
