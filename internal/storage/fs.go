package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/frontmatter"
	"github.com/starford/inkwell/internal/models"
)

const (
	markdownExt   = ".md"
	tmpPrefix     = ".inkwell-tmp-"
	previewLength = 60
)

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
}

// DefaultIgnore hides dotfiles and dot-directories from listings.
var DefaultIgnore = []string{".*"}

// FS implements Provider backed by the local file system.
type FS struct {
	root   string // absolute path to the store root
	ignore []glob.Glob
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an FS.
type Option func(*FS) error

// WithIgnore sets the glob patterns matched against file and directory
// names that listings skip.
func WithIgnore(patterns []string) Option {
	return func(f *FS) error {
		f.ignore = f.ignore[:0]
		for _, p := range patterns {
			g, err := glob.Compile(p)
			if err != nil {
				return fmt.Errorf("storage: ignore pattern %q: %w", p, err)
			}
			f.ignore = append(f.ignore, g)
		}
		return nil
	}
}

// WithLogger sets the logger used for non-fatal warnings.
func WithLogger(l *slog.Logger) Option {
	return func(f *FS) error {
		f.logger = l
		return nil
	}
}

// WithClock overrides the time source used for new note filenames.
func WithClock(now func() time.Time) Option {
	return func(f *FS) error {
		f.now = now
		return nil
	}
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string, opts ...Option) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	f := &FS{root: abs, logger: slog.Default(), now: time.Now}
	if err := WithIgnore(DefaultIgnore)(f); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

var _ Provider = (*FS)(nil)

// Root returns the absolute store root.
func (f *FS) Root() string { return f.root }

// resolve turns a note id into an absolute path and rejects any result that
// escapes the root (directory traversal). Relative ids are taken relative to
// the root.
func (f *FS) resolve(id string) (string, error) {
	if id == "" {
		return "", apperr.Invalid("note id is required")
	}
	p := id
	if !filepath.IsAbs(p) {
		p = filepath.Join(f.root, p)
	}
	abs := filepath.Clean(p)
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", apperr.Invalid("path escapes store root: %s", id)
	}
	return abs, nil
}

// notebookDir validates a notebook name and returns its directory.
func (f *FS) notebookDir(name string) (string, error) {
	if name == "" {
		return "", apperr.Invalid("notebook name is required")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", apperr.Invalid("invalid notebook name: %s", name)
	}
	return filepath.Join(f.root, name), nil
}

// notebookOf derives the notebook id from a path: the first segment relative
// to the root, or the default notebook for files at the root.
func (f *FS) notebookOf(abs string) string {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil {
		return models.DefaultNotebook
	}
	dir := filepath.ToSlash(filepath.Dir(rel))
	if dir == "." || dir == "" {
		return models.DefaultNotebook
	}
	return strings.SplitN(dir, "/", 2)[0]
}

// Ignored reports whether a file or directory base name is excluded from
// listings.
func (f *FS) Ignored(name string) bool {
	if strings.HasPrefix(name, tmpPrefix) {
		return true
	}
	for _, g := range f.ignore {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// ListNotebooks enumerates immediate subdirectories of the root. When none
// exist the default notebook is created and returned, so the result is never
// empty.
func (f *FS) ListNotebooks() ([]models.Notebook, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, apperr.Storage("list notebooks", f.root, err)
	}
	var out []models.Notebook
	for _, e := range entries {
		if !e.IsDir() || f.Ignored(e.Name()) {
			continue
		}
		out = append(out, notebook(f.root, e.Name()))
	}
	if len(out) == 0 {
		nb, err := f.CreateNotebook(models.DefaultNotebook)
		if err != nil {
			return nil, err
		}
		out = append(out, *nb)
	}
	return out, nil
}

// CreateNotebook creates the notebook directory; an existing one is fine.
func (f *FS) CreateNotebook(name string) (*models.Notebook, error) {
	name = strings.TrimSpace(name)
	dir, err := f.notebookDir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Storage("create notebook", dir, err)
	}
	nb := notebook(f.root, name)
	return &nb, nil
}

// DeleteNotebook removes a notebook and everything in it. A missing notebook
// is not an error.
func (f *FS) DeleteNotebook(id string) error {
	if id == models.DefaultNotebook {
		return fmt.Errorf("%w: the default notebook cannot be deleted", apperr.ErrForbidden)
	}
	dir, err := f.notebookDir(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return apperr.Storage("delete notebook", dir, err)
	}
	return nil
}

// ListNotes walks the root and returns every markdown and image note.
// Order is unspecified. Entries that cannot be read are logged and skipped;
// only an unreadable root fails the listing.
func (f *FS) ListNotes() ([]models.Note, error) {
	var out []models.Note
	skip := func(p string, d fs.DirEntry, err error) error {
		f.logger.Warn("skip unreadable entry",
			slog.String("path", p),
			slog.String("error", err.Error()))
		if d != nil && d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == f.root {
				return walkErr
			}
			return skip(p, d, walkErr)
		}
		if d.IsDir() {
			if p != f.root && f.Ignored(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if f.Ignored(d.Name()) || KindOf(p) == "" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return skip(p, d, err)
		}
		n, err := f.load(p, info)
		if err != nil {
			return skip(p, d, err)
		}
		out = append(out, *n)
		return nil
	})
	if err != nil {
		return nil, apperr.Storage("list notes", f.root, err)
	}
	return out, nil
}

// GetNote returns the note stored at id.
func (f *FS) GetNote(id string) (*models.Note, error) {
	abs, err := f.resolve(id)
	if err != nil {
		return nil, err
	}
	info, err := f.statNote(abs)
	if err != nil {
		return nil, err
	}
	n, err := f.load(abs, info)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, id)
		}
		return nil, apperr.Storage("read", abs, err)
	}
	return n, nil
}

// CreateNote writes content verbatim to "<title>-<unix millis>.md" inside the
// notebook directory, creating directories as needed. An empty notebook id
// places the note at the root.
func (f *FS) CreateNote(title, content, notebookID string) (*models.Note, error) {
	dir := f.root
	if notebookID != "" {
		var err error
		if dir, err = f.notebookDir(notebookID); err != nil {
			return nil, err
		}
	}
	base := fileTitle(title)
	if base == "" {
		base = "note"
	}

	stamp := f.now().UnixMilli()
	abs := filepath.Join(dir, base+"-"+strconv.FormatInt(stamp, 10)+markdownExt)
	for exists(abs) {
		stamp++
		abs = filepath.Join(dir, base+"-"+strconv.FormatInt(stamp, 10)+markdownExt)
	}

	if err := writeAtomic(abs, []byte(content), 0o644); err != nil {
		return nil, apperr.Storage("create note", abs, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, apperr.Storage("stat", abs, err)
	}
	n := f.describe(abs, content, info)
	if notebookID == "" {
		n.NotebookID = models.DefaultNotebook
	}
	return n, nil
}

// UpdateNote writes content to id. A title that differs from the current
// basename renames the file to "<title>.md" in the same directory; a failed
// rename is logged and does not undo the content write. An explicit notebook
// id is reflected in the returned note but does not move the file (MoveNote
// does that).
func (f *FS) UpdateNote(id, content string, opts UpdateOptions) (*models.Note, error) {
	abs, err := f.resolve(id)
	if err != nil {
		return nil, err
	}
	info, err := f.statNote(abs)
	if err != nil {
		return nil, err
	}
	if KindOf(abs) != models.KindMarkdown {
		return nil, apperr.Invalid("only markdown notes can be updated: %s", id)
	}
	if err := writeAtomic(abs, []byte(content), info.Mode().Perm()); err != nil {
		return nil, apperr.Storage("update note", abs, err)
	}

	final := abs
	if title := fileTitle(opts.Title); title != "" && title != strings.TrimSuffix(filepath.Base(abs), markdownExt) {
		target := filepath.Join(filepath.Dir(abs), title+markdownExt)
		if err := renameNoReplace(abs, target); err != nil {
			f.logger.Warn("rename note failed",
				slog.String("path", abs),
				slog.String("target", target),
				slog.String("error", err.Error()))
		} else {
			final = target
		}
	}

	info, err = os.Stat(final)
	if err != nil {
		return nil, apperr.Storage("stat", final, err)
	}
	n := f.describe(final, content, info)
	if opts.Title != "" {
		n.Title = opts.Title
	}
	if opts.Tags != nil {
		n.Tags = Dedupe(opts.Tags)
	}
	if opts.NotebookID != "" {
		n.NotebookID = opts.NotebookID
	}
	return n, nil
}

// MoveNote relocates a note into another notebook in two phases: the note is
// written at the new location and confirmed before the old file is removed.
func (f *FS) MoveNote(id, notebookID string) (*models.Note, error) {
	abs, err := f.resolve(id)
	if err != nil {
		return nil, err
	}
	dir, err := f.notebookDir(notebookID)
	if err != nil {
		return nil, err
	}
	info, err := f.statNote(abs)
	if err != nil {
		return nil, err
	}
	target := filepath.Join(dir, filepath.Base(abs))
	if target == abs {
		return f.GetNote(abs)
	}
	if exists(target) {
		return nil, fmt.Errorf("%w: %s already exists", apperr.ErrConflict, target)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, apperr.Storage("read", abs, err)
	}
	if err := writeAtomic(target, data, info.Mode().Perm()); err != nil {
		return nil, apperr.Storage("move note", target, err)
	}
	moved, err := os.Stat(target)
	if err != nil || moved.Size() != int64(len(data)) {
		_ = os.Remove(target)
		return nil, apperr.Storage("confirm move", target, fmt.Errorf("written copy does not match source"))
	}
	if err := os.Remove(abs); err != nil {
		_ = os.Remove(target)
		return nil, apperr.Storage("move note", abs, err)
	}
	return f.load(target, moved)
}

// DeleteNote removes the note file at id.
func (f *FS) DeleteNote(id string) error {
	abs, err := f.resolve(id)
	if err != nil {
		return err
	}
	if _, err := f.statNote(abs); err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", apperr.ErrNotFound, id)
		}
		return apperr.Storage("delete note", abs, err)
	}
	return nil
}

// ReadImage returns the raw bytes of an image note and its content type.
func (f *FS) ReadImage(id string) ([]byte, string, error) {
	abs, err := f.resolve(id)
	if err != nil {
		return nil, "", err
	}
	ct, ok := imageTypes[strings.ToLower(filepath.Ext(abs))]
	if !ok {
		return nil, "", apperr.Invalid("not an image: %s", id)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %s", apperr.ErrNotFound, id)
		}
		return nil, "", apperr.Storage("read image", abs, err)
	}
	return data, ct, nil
}

// SaveImage writes data as "<uuid><ext>" inside the notebook directory. The
// extension must be a supported image type and match the sniffed content.
func (f *FS) SaveImage(notebookID, ext string, data []byte) (*models.Note, error) {
	dir, err := f.notebookDir(notebookID)
	if err != nil {
		return nil, err
	}
	if err := checkImage(ext, data); err != nil {
		return nil, err
	}
	abs := filepath.Join(dir, uuid.NewString()+ImageExt(ext))
	if err := writeAtomic(abs, data, 0o644); err != nil {
		return nil, apperr.Storage("save image", abs, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, apperr.Storage("stat", abs, err)
	}
	return f.load(abs, info)
}

// statNote stats a note file, mapping a missing path or a directory to
// ErrNotFound.
func (f *FS) statNote(abs string) (fs.FileInfo, error) {
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, abs)
		}
		return nil, apperr.Storage("stat", abs, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", apperr.ErrNotFound, abs)
	}
	return info, nil
}

// load reads a note file and builds its descriptor.
func (f *FS) load(abs string, info fs.FileInfo) (*models.Note, error) {
	if KindOf(abs) == models.KindImage {
		return &models.Note{
			ID:          abs,
			Title:       filepath.Base(abs),
			Tags:        []string{},
			NotebookID:  f.notebookOf(abs),
			LastUpdated: info.ModTime(),
			Type:        models.KindImage,
		}, nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	return f.describe(abs, string(data), info), nil
}

// describe builds a markdown note descriptor from already-known content.
func (f *FS) describe(abs, content string, info fs.FileInfo) *models.Note {
	return &models.Note{
		ID:          abs,
		Title:       strings.TrimSuffix(filepath.Base(abs), markdownExt),
		Content:     content,
		Tags:        Dedupe(frontmatter.Decode(content).Tags),
		NotebookID:  f.notebookOf(abs),
		Preview:     Preview(content),
		LastUpdated: info.ModTime(),
		Type:        models.KindMarkdown,
	}
}

// Preview returns a plain-text prefix of a note: frontmatter dropped, heading
// markers stripped, whitespace collapsed, truncated with an ellipsis.
func Preview(content string) string {
	_, body, _ := frontmatter.Split(content)
	lines := strings.Split(body, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimLeft(strings.TrimSpace(l), "#")
	}
	text := strings.Join(strings.Fields(strings.Join(lines, " ")), " ")
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	return string([]rune(text)[:previewLength]) + "..."
}

// Dedupe trims tags and drops empty and repeated values, keeping first-seen
// order.
func Dedupe(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// KindOf classifies a path by extension; it is empty for files that are not
// notes.
func KindOf(p string) models.NoteKind {
	ext := strings.ToLower(filepath.Ext(p))
	if ext == markdownExt {
		return models.KindMarkdown
	}
	if _, ok := imageTypes[ext]; ok {
		return models.KindImage
	}
	return ""
}

func notebook(root, name string) models.Notebook {
	return models.Notebook{ID: name, Name: name, Path: filepath.Join(root, name)}
}

// fileTitle turns a title into something safe to use as a file stem.
func fileTitle(title string) string {
	title = strings.TrimSpace(title)
	title = strings.NewReplacer("/", "-", `\`, "-").Replace(title)
	if title == "." || title == ".." {
		return ""
	}
	return title
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

// renameNoReplace renames oldPath to newPath, refusing to clobber an
// existing file.
func renameNoReplace(oldPath, newPath string) error {
	if exists(newPath) {
		return fmt.Errorf("%w: %s already exists", apperr.ErrConflict, newPath)
	}
	return os.Rename(oldPath, newPath)
}

// writeAtomic writes content: mkdir → tmp file → fsync → rename.
func writeAtomic(abs string, content []byte, perm fs.FileMode) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	success = true
	return nil
}
