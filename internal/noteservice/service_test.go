package noteservice

import (
	"context"
	"errors"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/frontmatter"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/storage"
	"github.com/starford/inkwell/internal/testutil"
)

type recordingPublisher struct {
	mu    sync.Mutex
	notes []string
	tags  [][]string
}

func (p *recordingPublisher) PublishNoteEvent(kind, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notes = append(p.notes, kind)
}

func (p *recordingPublisher) PublishTags(tags []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tags = append(p.tags, tags)
}

func newService(t *testing.T) (*Service, *recordingPublisher) {
	t.Helper()
	_, store := testutil.TestStore(t)
	pub := &recordingPublisher{}
	return NewService(store, WithPublisher(pub)), pub
}

func TestEndToEnd_CreateTagUpdateList(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	n, err := svc.CreateNote(ctx, "Idea", "", "default", nil)
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	content := frontmatter.Encode(n.Content, []string{"x", "y"})
	if _, err := svc.UpdateNote(ctx, n.ID, content, storage.UpdateOptions{}); err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}

	notes, err := svc.ListNotes(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("got %d notes, want 1", len(notes))
	}
	got := notes[0]
	if !reflect.DeepEqual(got.Tags, []string{"x", "y"}) || got.NotebookID != "default" || got.Type != models.KindMarkdown {
		t.Errorf("note = %+v", got)
	}
	if tags := svc.Tags(); !reflect.DeepEqual(tags, []string{"x", "y"}) {
		t.Errorf("tag view = %v", tags)
	}
}

func TestTagViewFollowsMutations(t *testing.T) {
	svc, pub := newService(t)
	ctx := context.Background()

	a, err := svc.CreateNote(ctx, "a", "body", "work", []string{"go", "notes"})
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if _, err := svc.CreateNote(ctx, "b", "body", "work", []string{"go"}); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if tags := svc.Tags(); !reflect.DeepEqual(tags, []string{"go", "notes"}) {
		t.Errorf("tags = %v", tags)
	}

	if _, err := svc.SetTags(ctx, a.ID, []string{"zen", "zen"}); err != nil {
		t.Fatalf("SetTags: %v", err)
	}
	if tags := svc.Tags(); !reflect.DeepEqual(tags, []string{"go", "zen"}) {
		t.Errorf("tags after SetTags = %v", tags)
	}
	got, _ := svc.GetNote(ctx, a.ID)
	if !reflect.DeepEqual(got.Tags, []string{"zen"}) {
		t.Errorf("note tags = %v", got.Tags)
	}

	if err := svc.DeleteNotebook(ctx, "work"); err != nil {
		t.Fatalf("DeleteNotebook: %v", err)
	}
	if tags := svc.Tags(); len(tags) != 0 {
		t.Errorf("tags after delete = %v", tags)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if !reflect.DeepEqual(pub.notes, []string{"created", "created", "updated"}) {
		t.Errorf("note events = %v", pub.notes)
	}
	if len(pub.tags) != 3 {
		t.Errorf("tag publications = %d, want 3 (one per change): %v", len(pub.tags), pub.tags)
	}
}

func TestListNotes_FiltersAndOrder(t *testing.T) {
	_, store := testutil.TestStore(t)
	svc := NewService(store)
	ctx := context.Background()

	older, _ := svc.CreateNote(ctx, "old", "x", "work", []string{"keep"})
	newer, _ := svc.CreateNote(ctx, "new", "x", "work", nil)
	if _, err := svc.CreateNote(ctx, "other", "x", "home", []string{"keep"}); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older.ID, past, past); err != nil {
		t.Fatal(err)
	}

	work, err := svc.ListNotes(ctx, ListOptions{NotebookID: "work"})
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(work) != 2 || work[0].ID != newer.ID || work[1].ID != older.ID {
		t.Errorf("work notes not newest-first: %+v", work)
	}

	tagged, _ := svc.ListNotes(ctx, ListOptions{Tag: "keep"})
	if len(tagged) != 2 {
		t.Errorf("tagged = %d, want 2", len(tagged))
	}
}

func TestSetTags_Errors(t *testing.T) {
	root, store := testutil.TestStore(t)
	svc := NewService(store)
	ctx := context.Background()

	if _, err := svc.SetTags(ctx, root+"/missing.md", []string{"a"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
	img, err := svc.SaveImage(ctx, "pics", ".png", testutil.PNG)
	if err != nil {
		t.Fatalf("SaveImage: %v", err)
	}
	if _, err := svc.SetTags(ctx, img.ID, []string{"a"}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("err = %v, want invalid argument", err)
	}
}

func TestMoveAndDelete(t *testing.T) {
	svc, pub := newService(t)
	ctx := context.Background()

	n, _ := svc.CreateNote(ctx, "m", "x", "work", []string{"t"})
	moved, err := svc.MoveNote(ctx, n.ID, "archive")
	if err != nil {
		t.Fatalf("MoveNote: %v", err)
	}
	if moved.NotebookID != "archive" {
		t.Errorf("notebook = %q", moved.NotebookID)
	}
	if err := svc.DeleteNote(ctx, moved.ID); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	if tags := svc.Tags(); len(tags) != 0 {
		t.Errorf("tags = %v", tags)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if !reflect.DeepEqual(pub.notes, []string{"created", "moved", "deleted"}) {
		t.Errorf("note events = %v", pub.notes)
	}
}
