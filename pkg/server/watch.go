package server

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Invalidator is told when the repository changed behind the process.
type Invalidator interface {
	Invalidate()
}

// Watch invalidates the mirror check whenever refs or issue files change
// on disk, e.g. after a pull or an edit from another process. It blocks
// until ctx is done.
//
// fsnotify is not recursive, so every directory below issues/ is added,
// including the ones created while watching.
func Watch(ctx context.Context, root string, target Invalidator) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	issues := filepath.Join(root, "issues")
	for _, dir := range []string{
		filepath.Join(root, ".git"),
		filepath.Join(root, ".git", "refs", "heads"),
	} {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := w.Add(dir); err != nil {
			return err
		}
	}
	if err := addTree(w, issues); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			slog.Debug("repository changed", "path", ev.Name, "op", ev.Op.String())
			if ev.Has(fsnotify.Create) && strings.HasPrefix(ev.Name, issues) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(w, ev.Name); err != nil {
						slog.Warn("failed to watch directory", "path", ev.Name, "error", err)
					}
				}
			}
			target.Invalidate()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("file watcher error", "error", err)
		}
	}
}

// addTree watches dir and every directory below it. A missing dir is skipped.
func addTree(w *fsnotify.Watcher, dir string) error {
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.Add(p)
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// relevant filters out lock markers and the stage, which change on every read.
func relevant(ev fsnotify.Event) bool {
	base := filepath.Base(ev.Name)
	switch {
	case filepath.Ext(base) == ".lock":
		return false
	case base == "index" || base == "hopper-stage":
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}
