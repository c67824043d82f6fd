package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/inkwell/internal/assistant"
	"github.com/starford/inkwell/internal/models"
)

// CreateNotebookRequest is the body of POST /notebooks.
type CreateNotebookRequest struct {
	Name string `json:"name"`
}

func (r *CreateNotebookRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 255)),
	)
}

// CreateNoteRequest is the body of POST /notes.
type CreateNoteRequest struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	NotebookID string   `json:"notebookId"`
	Tags       []string `json:"tags"`
}

func (r *CreateNoteRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.Length(0, 255)),
	)
}

// UpdateNoteRequest is the body of PUT /notes. A nil Tags leaves the
// returned tags as decoded from Content.
type UpdateNoteRequest struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	Title      string   `json:"title"`
	Tags       []string `json:"tags"`
	NotebookID string   `json:"notebookId"`
}

func (r *UpdateNoteRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ID, validation.Required),
	)
}

// MoveNoteRequest is the body of POST /notes/move.
type MoveNoteRequest struct {
	ID         string `json:"id"`
	NotebookID string `json:"notebookId"`
}

func (r *MoveNoteRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ID, validation.Required),
		validation.Field(&r.NotebookID, validation.Required),
	)
}

// SetTagsRequest is the body of PUT /notes/tags.
type SetTagsRequest struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags"`
}

func (r *SetTagsRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ID, validation.Required),
		validation.Field(&r.Tags, validation.NotNil),
	)
}

// MemoryRequest is the body of POST /memory. Either ID names a note whose
// content is extracted, or Content is extracted directly.
type MemoryRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func (r *MemoryRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ID, validation.When(r.Content == "", validation.Required.Error("id or content is required"))),
	)
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Messages []assistant.Message `json:"messages"`
	Context  string              `json:"context"`
}

func (r *ChatRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Messages, validation.Required),
	)
}

// SuggestTagsRequest is the body of POST /tags/suggest.
type SuggestTagsRequest struct {
	Content string `json:"content"`
}

func (r *SuggestTagsRequest) Validate() error { return nil }

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []models.Note `json:"notes"`
	Total int           `json:"total"`
}
