package repo

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"hopper/pkg/core"
	"hopper/pkg/treebuilder"
	"hopper/pkg/types"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	gitindex "github.com/go-git/go-git/v5/plumbing/format/index"
)

// headFiles returns the files of the HEAD tree below subpath, keyed by full path.
func (r *Repository) headFiles(ctx context.Context, subpath string) (map[string]core.TreeEntry, error) {
	files := make(map[string]core.TreeEntry)
	root, err := r.HeadTree(ctx)
	if err != nil || root == "" {
		return files, err
	}

	entry, err := treebuilder.Lookup(ctx, r.store, root, subpath)
	if errors.Is(err, treebuilder.ErrPathNotFound) {
		return files, nil
	}
	if err != nil {
		return nil, err
	}
	if !entry.IsDir() {
		files[subpath] = entry
		return files, nil
	}
	err = treebuilder.Walk(ctx, r.store, entry.Hash, subpath, func(p string, e core.TreeEntry) error {
		files[p] = e
		return nil
	})
	return files, err
}

// walkFiles calls fn for every regular, non-ignored file below subpath.
// Without recursive only direct children of a directory are visited.
func (r *Repository) walkFiles(subpath string, recursive bool, fn func(rel string, info fs.FileInfo) error) error {
	start := filepath.Join(r.root, filepath.FromSlash(subpath))
	info, err := os.Stat(start)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		if r.ignore.Matches(subpath) {
			return nil
		}
		return fn(subpath, info)
	}

	return filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(r.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path == start {
				return nil
			}
			if r.ignore.Matches(rel) || !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || r.ignore.Matches(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(rel, info)
	})
}

func modeOf(info fs.FileInfo) filemode.FileMode {
	if info.Mode()&0111 != 0 {
		return core.ModeExecutable
	}
	return core.ModeFile
}

// statCache answers "unchanged since last sync" from .git/index stat data.
// written is the mtime of the index file itself.
type statCache struct {
	entries map[string]*gitindex.Entry
	written time.Time
}

func (r *Repository) loadStatCache() statCache {
	c := statCache{entries: map[string]*gitindex.Entry{}}
	info, err := os.Stat(filepath.Join(r.gitDir, GitIndexFile))
	if err != nil {
		return c
	}
	idx, err := r.disk.Storage().Index()
	if err != nil {
		return c
	}
	c.written = info.ModTime()
	for _, e := range idx.Entries {
		c.entries[e.Name] = e
	}
	return c
}

// fresh reports whether the recorded stat for rel proves the file still
// holds want. A miss means the caller has to hash the file.
//
// An entry whose mtime is not strictly older than the index file is racy:
// the file may have been rewritten within the same clock tick as the index
// write, with the same size, so only its content can tell.
func (c statCache) fresh(rel string, info fs.FileInfo, want types.Hash) bool {
	e, ok := c.entries[rel]
	if !ok || e.ModifiedAt.IsZero() {
		return false
	}
	if !e.ModifiedAt.Before(c.written) {
		return false
	}
	return core.FromPlumbingHash(e.Hash) == want &&
		int64(e.Size) == info.Size() &&
		e.ModifiedAt.Equal(info.ModTime())
}

// hashFile computes the blob id of a working tree file.
func (r *Repository) hashFile(rel string) (*core.Blob, error) {
	data, err := os.ReadFile(filepath.Join(r.root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	return core.NewBlob(data), nil
}

// Status is the working tree compared with HEAD.
type Status struct {
	New      []string
	Modified []string
	Deleted  []string
}

func (s *Status) IsClean() bool {
	return len(s.New) == 0 && len(s.Modified) == 0 && len(s.Deleted) == 0
}

// Changed returns new and modified paths.
func (s *Status) Changed() []string {
	out := append(append([]string{}, s.New...), s.Modified...)
	sort.Strings(out)
	return out
}

// Status diffs the working tree below subpath against HEAD.
func (r *Repository) Status(ctx context.Context, subpath string) (*Status, error) {
	if r.IsBare() {
		return nil, ErrBareRepository
	}
	sub, err := r.rel(subpath)
	if err != nil {
		return nil, err
	}

	head, err := r.headFiles(ctx, sub)
	if err != nil {
		return nil, err
	}
	stats := r.loadStatCache()
	st := &Status{}
	seen := make(map[string]struct{}, len(head))

	err = r.walkFiles(sub, true, func(rel string, info fs.FileInfo) error {
		entry, tracked := head[rel]
		if !tracked {
			st.New = append(st.New, rel)
			return nil
		}
		seen[rel] = struct{}{}
		if stats.fresh(rel, info, entry.Hash) {
			return nil
		}
		blob, err := r.hashFile(rel)
		if err != nil {
			return err
		}
		if blob.ID() != entry.Hash || modeOf(info) != entry.Mode {
			st.Modified = append(st.Modified, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for p := range head {
		if _, ok := seen[p]; !ok {
			st.Deleted = append(st.Deleted, p)
		}
	}
	sort.Strings(st.New)
	sort.Strings(st.Modified)
	sort.Strings(st.Deleted)
	return st, nil
}

// IsDirty reports uncommitted changes below subpath.
func (r *Repository) IsDirty(ctx context.Context, subpath string) (bool, error) {
	st, err := r.Status(ctx, subpath)
	if err != nil {
		return false, err
	}
	return !st.IsClean(), nil
}
