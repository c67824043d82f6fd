// Package models defines the domain types for Inkwell.
package models

import "time"

// DefaultNotebook is the notebook that always exists and owns notes stored
// directly under the store root.
const DefaultNotebook = "default"

// NoteKind distinguishes markdown notes from image files.
type NoteKind string

const (
	KindMarkdown NoteKind = "markdown"
	KindImage    NoteKind = "image"
)

// Note is a markdown or image file under the store root. ID is the absolute
// file path and doubles as its storage location.
type Note struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Tags        []string  `json:"tags"`
	NotebookID  string    `json:"notebookId"`
	Preview     string    `json:"preview"`
	LastUpdated time.Time `json:"lastUpdated"`
	Type        NoteKind  `json:"type"`
}

// Notebook is a directory directly under the store root.
type Notebook struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}
