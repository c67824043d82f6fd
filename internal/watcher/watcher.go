// Package watcher reports note changes made to the store root by other
// programs.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/inkwell/internal/storage"
)

// DefaultDebounce is how long a burst of file events is collected before it
// is reported.
const DefaultDebounce = 200 * time.Millisecond

// Notifier receives coalesced changes. kind is one of "created", "updated"
// or "deleted"; id is the absolute note path.
type Notifier interface {
	NotifyExternal(ctx context.Context, kind, id string)
}

// Options configures Watch.
type Options struct {
	// Ignored reports whether a base name should be skipped. Nil skips
	// nothing.
	Ignored  func(name string) bool
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watch starts an fsnotify watcher on root and its subdirectories and
// reports markdown and image changes to n until ctx is cancelled.
//
// Directories created at runtime are added to the watch list and any notes
// already inside them are reported as created. fsnotify fires Rename on the
// old path only; it is reported as a deletion and the new path arrives as a
// separate Create.
func Watch(ctx context.Context, root string, n Notifier, opts Options) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Ignored == nil {
		opts.Ignored = func(string) bool { return false }
	}
	logger := opts.Logger

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root, opts.Ignored); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", root))

	pending := make(map[string]string)
	var order []string
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	record := func(path, kind string) {
		prev, seen := pending[path]
		if !seen {
			order = append(order, path)
		}
		pending[path] = merge(prev, kind)
		if flushTimer == nil {
			flushTimer = time.NewTimer(opts.Debounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(opts.Debounce)
		}
	}

	flush := func() {
		for _, p := range order {
			if kind := pending[p]; kind != "" {
				logger.Debug("watcher: change", slog.String("path", p), slog.String("op", kind))
				n.NotifyExternal(ctx, kind, p)
			}
		}
		clear(pending)
		order = order[:0]
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-flushCh:
			flushTimer, flushCh = nil, nil
			flush()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			path := ev.Name
			if opts.Ignored(filepath.Base(path)) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, path, opts.Ignored); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", path),
							slog.String("error", addErr.Error()))
					}
					for _, p := range notesIn(path, opts.Ignored) {
						record(p, "created")
					}
					continue
				}
			}

			if storage.KindOf(path) == "" {
				continue
			}

			switch {
			case ev.Op&fsnotify.Create != 0:
				record(path, "created")
			case ev.Op&fsnotify.Write != 0:
				record(path, "updated")
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				record(path, "deleted")
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// merge folds a new event kind into the one already pending for a path.
// A create followed by writes stays a create; a create followed by a delete
// cancels out.
func merge(prev, next string) string {
	switch {
	case prev == "":
		return next
	case prev == "created" && next == "updated":
		return "created"
	case prev == "created" && next == "deleted":
		return ""
	case prev == "deleted" && next == "created":
		return "updated"
	default:
		return next
	}
}

func notesIn(dir string, ignored func(string) bool) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != dir && ignored(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !ignored(d.Name()) && storage.KindOf(p) != "" {
			out = append(out, p)
		}
		return nil
	})
	return out
}

// addDirsRecursive adds root and all its non-ignored subdirectories to the
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string, ignored func(string) bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignored(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
