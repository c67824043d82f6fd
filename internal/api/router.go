package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/inkwell/internal/memory"
	"github.com/starford/inkwell/internal/noteservice"
)

// RouterConfig holds what the API routes are served from. Nil optional
// components leave their routes unmounted.
type RouterConfig struct {
	Notes *noteservice.Service

	// Optional.
	Memory       *memory.Pipeline
	MemoryStatus StatusFunc
	Assistant    Assistant
	Events       EventPublisher
	// EventStream, if non-nil, is mounted at GET /events. With auth enabled
	// it also accepts the token as a query parameter.
	EventStream http.Handler

	AuthEnabled bool
	Token       string
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	if cfg.EventStream != nil {
		r.Group(func(r chi.Router) {
			if cfg.AuthEnabled {
				r.Use(RequireToken(cfg.Token, true))
			}
			r.Get("/events", cfg.EventStream.ServeHTTP)
		})
	}

	r.Group(func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(RequireToken(cfg.Token, false))
		}
		routes(r, cfg)
	})

	return r
}

func routes(r chi.Router, cfg RouterConfig) {
	h := NewHandler(cfg.Notes)

	// Notebooks.
	r.Get("/notebooks", h.ListNotebooks)
	r.Post("/notebooks", h.CreateNotebook)
	r.Delete("/notebooks/{id}", h.DeleteNotebook)

	// Notes.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Put("/notes", h.UpdateNote)
	r.Delete("/notes", h.DeleteNote)
	r.Get("/notes/by-path", h.GetNote)
	r.Post("/notes/move", h.MoveNote)
	r.Put("/notes/tags", h.SetTags)

	r.Get("/tags", h.Tags)

	// Images.
	r.Get("/images", h.ReadImage)
	r.Post("/images", h.UploadImage)

	if cfg.Memory != nil {
		mh := NewMemoryHandler(cfg.Notes, cfg.Memory, cfg.MemoryStatus, cfg.Events)
		r.Post("/memory", mh.Start)
		r.Get("/memory", mh.Snapshot)
		r.Delete("/memory", mh.Cancel)
		r.Post("/memory/retry", mh.Retry)
		r.Get("/memory/status", mh.Status)
	}

	if cfg.Assistant != nil {
		ah := NewAssistantHandler(cfg.Assistant)
		r.Post("/chat", ah.Chat)
		r.Post("/tags/suggest", ah.SuggestTags)
	}
}
