package repo

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

// AddOptions select what Add stages.
type AddOptions struct {
	Recursive  bool // descend into subdirectories
	IncludeNew bool // stage paths absent from HEAD
}

// Add stages files below path by content. A file is staged only when its
// blob id differs from the HEAD entry, or, with IncludeNew, when HEAD does
// not have it. Blobs are written for staged files only. Tracked files that
// vanished from disk inside the scope are staged as removals.
// It returns the staged paths in sorted order.
func (r *Repository) Add(ctx context.Context, path string, opts AddOptions) ([]string, error) {
	if r.IsBare() {
		return nil, ErrBareRepository
	}
	sub, err := r.rel(path)
	if err != nil {
		return nil, err
	}

	// 1. What HEAD has under the scope
	head, err := r.headFiles(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD tree: %w", err)
	}
	stats := r.loadStatCache()
	staged := r.stage.Snapshot()

	var added []string
	seen := make(map[string]struct{})

	// 2. Compare every candidate with HEAD
	err = r.walkFiles(sub, opts.Recursive, func(rel string, info fs.FileInfo) error {
		seen[rel] = struct{}{}
		entry, tracked := head[rel]
		if !tracked && !opts.IncludeNew {
			return nil
		}
		mode := modeOf(info)
		if tracked && entry.Mode == mode && stats.fresh(rel, info, entry.Hash) {
			r.stage.Remove(rel)
			return nil
		}

		blob, err := r.hashFile(rel)
		if err != nil {
			return err
		}
		if tracked && blob.ID() == entry.Hash && entry.Mode == mode {
			// reverted to HEAD content: drop any earlier staging
			r.stage.Remove(rel)
			return nil
		}
		if prev, ok := staged[rel]; ok && !prev.Removed && prev.Hash == blob.ID() && prev.Mode == mode {
			added = append(added, rel)
			return nil
		}

		if err := r.store.Put(ctx, blob); err != nil {
			return fmt.Errorf("failed to store blob for %s: %w", rel, err)
		}
		r.stage.Add(rel, blob.ID(), mode)
		added = append(added, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("add %s: %w", path, err)
	}

	// 3. Tracked files gone from disk
	for p := range head {
		if _, ok := seen[p]; ok {
			continue
		}
		if !opts.Recursive && !directChild(sub, p) {
			continue
		}
		r.stage.Delete(p)
		added = append(added, p)
	}

	if err := r.saveStage(); err != nil {
		return nil, fmt.Errorf("failed to save stage: %w", err)
	}
	sort.Strings(added)
	slog.Debug("staged paths", "scope", sub, "count", len(added))
	return added, nil
}

// directChild reports whether p sits directly inside dir (or is dir itself).
func directChild(dir, p string) bool {
	if p == dir {
		return true
	}
	rest := p
	if dir != "" {
		var ok bool
		if rest, ok = strings.CutPrefix(p, dir+"/"); !ok {
			return false
		}
	}
	return !strings.Contains(rest, "/")
}
