package repo

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"hopper/pkg/core"
	"hopper/pkg/index"
	"hopper/pkg/treebuilder"
	"hopper/pkg/types"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	gitindex "github.com/go-git/go-git/v5/plumbing/format/index"
)

// syncGitIndex rewrites .git/index to describe tree so that the git
// command line sees a clean working tree. With changes it patches the
// previous index; with nil changes it rebuilds from the whole tree.
// Stat data is recorded only for files whose content was verified.
func (r *Repository) syncGitIndex(ctx context.Context, tree types.Hash, changes map[string]index.Entry) error {
	if r.IsBare() {
		return nil
	}
	st := r.disk.Storage()

	entries := make(map[string]*gitindex.Entry)
	prev, err := st.Index()
	if changes == nil || err != nil || len(prev.Entries) == 0 {
		// 1. Full rebuild
		files, err := treebuilder.Flatten(ctx, r.store, tree)
		if err != nil {
			return err
		}
		for p, e := range files {
			entries[p] = r.indexEntry(p, e.Hash, e.Mode)
		}
	} else {
		// 2. Incremental patch of the previous index
		for _, e := range prev.Entries {
			entries[e.Name] = e
		}
		for p, c := range changes {
			if c.Removed {
				delete(entries, p)
				continue
			}
			entries[p] = r.indexEntry(p, c.Hash, c.Mode)
		}
	}

	idx := &gitindex.Index{Version: 2}
	for _, e := range entries {
		idx.Entries = append(idx.Entries, e)
	}
	sort.Slice(idx.Entries, func(i, j int) bool { return idx.Entries[i].Name < idx.Entries[j].Name })
	return st.SetIndex(idx)
}

// indexEntry builds an index entry, filling stat data when the file on
// disk still holds hash.
func (r *Repository) indexEntry(p string, hash types.Hash, mode filemode.FileMode) *gitindex.Entry {
	e := &gitindex.Entry{Name: p, Hash: core.ToPlumbingHash(hash), Mode: mode}
	full := filepath.Join(r.root, filepath.FromSlash(p))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return e
	}
	blob, err := r.hashFile(p)
	if err != nil || blob.ID() != hash {
		return e
	}
	e.Size = uint32(info.Size())
	e.ModifiedAt = info.ModTime()
	e.CreatedAt = info.ModTime()
	return e
}
