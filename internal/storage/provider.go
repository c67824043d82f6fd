// Package storage implements the note repository over a directory tree:
// notebooks are directories under the store root and notes are markdown or
// image files inside them.
package storage

import "github.com/starford/inkwell/internal/models"

// UpdateOptions carries the optional parts of a note update. Empty fields
// mean "not supplied"; a nil Tags slice leaves tags to be read from content.
type UpdateOptions struct {
	Title      string
	Tags       []string
	NotebookID string
}

// Provider is the interface for note repository operations. Note ids are
// absolute file paths under the store root.
type Provider interface {
	// Root returns the absolute store root.
	Root() string
	// ListNotebooks returns the notebooks under the root, creating the
	// default notebook when none exist.
	ListNotebooks() ([]models.Notebook, error)
	// CreateNotebook creates (idempotently) a notebook directory.
	CreateNotebook(name string) (*models.Notebook, error)
	// DeleteNotebook recursively removes a notebook. The default notebook
	// cannot be deleted.
	DeleteNotebook(id string) error
	// ListNotes walks the root and returns every markdown and image note.
	ListNotes() ([]models.Note, error)
	// GetNote returns a single note by id.
	GetNote(id string) (*models.Note, error)
	// CreateNote writes a new note with a unique, timestamped filename.
	CreateNote(title, content, notebookID string) (*models.Note, error)
	// UpdateNote rewrites a note's content and optionally renames it in place.
	UpdateNote(id, content string, opts UpdateOptions) (*models.Note, error)
	// MoveNote relocates a note into another notebook directory.
	MoveNote(id, notebookID string) (*models.Note, error)
	// DeleteNote removes a note file.
	DeleteNote(id string) error
	// ReadImage returns the bytes and content type of an image note.
	ReadImage(id string) ([]byte, string, error)
	// SaveImage stores image bytes under a generated name in a notebook.
	SaveImage(notebookID, ext string, data []byte) (*models.Note, error)
}
