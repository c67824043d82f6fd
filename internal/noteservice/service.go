// Package noteservice coordinates the note repository with the derived tag
// view and change notifications.
package noteservice

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/frontmatter"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/storage"
)

// Publisher receives change notifications.
type Publisher interface {
	PublishNoteEvent(kind, id string)
	PublishTags(tags []string)
}

type nopPublisher struct{}

func (nopPublisher) PublishNoteEvent(string, string) {}
func (nopPublisher) PublishTags([]string)            {}

// ListOptions filters ListNotes. Empty fields match everything.
type ListOptions struct {
	NotebookID string
	Tag        string
	Type       models.NoteKind
}

// Service coordinates storage operations, the available-tags view and event
// publication. The tag view is a projection recomputed from a full listing at
// load and after every mutation; it is never written independently.
type Service struct {
	store  storage.Provider
	events Publisher
	logger *slog.Logger

	mu   sync.RWMutex
	tags []string
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets where change notifications go.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a new note service.
func NewService(store storage.Provider, opts ...Option) *Service {
	s := &Service{store: store, events: nopPublisher{}, logger: slog.Default(), tags: []string{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying repository.
func (s *Service) Store() storage.Provider { return s.store }

// Refresh recomputes the tag view from a full listing and publishes it when
// it changed.
func (s *Service) Refresh(_ context.Context) ([]string, error) {
	notes, err := s.store.ListNotes()
	if err != nil {
		return nil, err
	}
	tags := collectTags(notes)

	s.mu.Lock()
	changed := !slices.Equal(s.tags, tags)
	s.tags = tags
	s.mu.Unlock()

	if changed {
		s.events.PublishTags(tags)
	}
	return tags, nil
}

// Tags returns the sorted union of every note's tags.
func (s *Service) Tags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tags)
}

// ListNotebooks lists notebooks, creating the default one when none exist.
func (s *Service) ListNotebooks(_ context.Context) ([]models.Notebook, error) {
	return s.store.ListNotebooks()
}

// CreateNotebook creates a notebook directory.
func (s *Service) CreateNotebook(_ context.Context, name string) (*models.Notebook, error) {
	return s.store.CreateNotebook(name)
}

// DeleteNotebook removes a notebook with all its notes.
func (s *Service) DeleteNotebook(ctx context.Context, id string) error {
	if err := s.store.DeleteNotebook(id); err != nil {
		return err
	}
	s.refreshAfter(ctx, "delete notebook")
	return nil
}

// ListNotes returns notes newest first.
func (s *Service) ListNotes(_ context.Context, opts ListOptions) ([]models.Note, error) {
	notes, err := s.store.ListNotes()
	if err != nil {
		return nil, err
	}
	out := notes[:0]
	for _, n := range notes {
		if opts.NotebookID != "" && n.NotebookID != opts.NotebookID {
			continue
		}
		if opts.Type != "" && n.Type != opts.Type {
			continue
		}
		if opts.Tag != "" && !slices.Contains(n.Tags, opts.Tag) {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out, nil
}

// GetNote returns a single note.
func (s *Service) GetNote(_ context.Context, id string) (*models.Note, error) {
	return s.store.GetNote(id)
}

// CreateNote writes a new note. Non-empty tags are encoded into the content's
// frontmatter before writing.
func (s *Service) CreateNote(ctx context.Context, title, content, notebookID string, tags []string) (*models.Note, error) {
	if tags = storage.Dedupe(tags); len(tags) > 0 {
		content = frontmatter.Encode(content, tags)
	}
	n, err := s.store.CreateNote(title, content, notebookID)
	if err != nil {
		return nil, err
	}
	s.events.PublishNoteEvent("created", n.ID)
	s.refreshAfter(ctx, "create note")
	return n, nil
}

// UpdateNote rewrites a note's content; see storage.FS.UpdateNote.
func (s *Service) UpdateNote(ctx context.Context, id, content string, opts storage.UpdateOptions) (*models.Note, error) {
	n, err := s.store.UpdateNote(id, content, opts)
	if err != nil {
		return nil, err
	}
	if n.ID != id {
		s.events.PublishNoteEvent("moved", n.ID)
	} else {
		s.events.PublishNoteEvent("updated", n.ID)
	}
	s.refreshAfter(ctx, "update note")
	return n, nil
}

// SetTags replaces a note's tags by rewriting its frontmatter.
func (s *Service) SetTags(ctx context.Context, id string, tags []string) (*models.Note, error) {
	n, err := s.store.GetNote(id)
	if err != nil {
		return nil, err
	}
	if n.Type != models.KindMarkdown {
		return nil, apperr.Invalid("tags can only be set on markdown notes: %s", id)
	}
	content := frontmatter.Encode(n.Content, storage.Dedupe(tags))
	return s.UpdateNote(ctx, id, content, storage.UpdateOptions{})
}

// MoveNote relocates a note into another notebook.
func (s *Service) MoveNote(ctx context.Context, id, notebookID string) (*models.Note, error) {
	n, err := s.store.MoveNote(id, notebookID)
	if err != nil {
		return nil, err
	}
	s.events.PublishNoteEvent("moved", n.ID)
	s.refreshAfter(ctx, "move note")
	return n, nil
}

// DeleteNote removes a note.
func (s *Service) DeleteNote(ctx context.Context, id string) error {
	if err := s.store.DeleteNote(id); err != nil {
		return err
	}
	s.events.PublishNoteEvent("deleted", id)
	s.refreshAfter(ctx, "delete note")
	return nil
}

// ReadImage returns an image note's bytes and content type.
func (s *Service) ReadImage(_ context.Context, id string) ([]byte, string, error) {
	return s.store.ReadImage(id)
}

// SaveImage stores an uploaded image in a notebook.
func (s *Service) SaveImage(_ context.Context, notebookID, ext string, data []byte) (*models.Note, error) {
	n, err := s.store.SaveImage(notebookID, ext, data)
	if err != nil {
		return nil, err
	}
	s.events.PublishNoteEvent("created", n.ID)
	return n, nil
}

// NotifyExternal records a change made outside the service (for example by
// another editor) and refreshes the tag view.
func (s *Service) NotifyExternal(ctx context.Context, kind, id string) {
	s.events.PublishNoteEvent(kind, id)
	s.refreshAfter(ctx, "external "+kind)
}

// refreshAfter recomputes the tag view after a mutation. A failure here does
// not fail the mutation that already succeeded.
func (s *Service) refreshAfter(ctx context.Context, op string) {
	if _, err := s.Refresh(ctx); err != nil {
		s.logger.Warn("refresh tag view failed",
			slog.String("op", op),
			slog.String("error", err.Error()))
	}
}

func collectTags(notes []models.Note) []string {
	seen := map[string]struct{}{}
	tags := []string{}
	for _, n := range notes {
		for _, t := range n.Tags {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
	}
	sort.Strings(tags)
	return tags
}
