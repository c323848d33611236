package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"hopper/pkg/core"
	"hopper/pkg/exporter"
	"hopper/pkg/refs"
	"hopper/pkg/storage"
	"hopper/pkg/treebuilder"
)

// Checkout writes every blob of ref below subpath into the working tree,
// overwriting existing files. Files missing from the target tree are NOT
// deleted: this is a partial checkout.
//
// Without a subpath HEAD moves too: symbolically for a branch name,
// detached for anything else. With a subpath HEAD is untouched and the
// stage entries under it are dropped.
func (r *Repository) Checkout(ctx context.Context, ref string, subpath string) error {
	if r.IsBare() {
		return ErrBareRepository
	}
	sub, err := r.rel(subpath)
	if err != nil {
		return err
	}

	// 1. ref -> commit -> entry at subpath
	id, err := r.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	commit, err := storage.ReadCommit(ctx, r.store, id)
	if err != nil {
		return err
	}
	entry, err := treebuilder.Lookup(ctx, r.store, commit.TreeHash, sub)
	if errors.Is(err, treebuilder.ErrPathNotFound) {
		return fmt.Errorf("%w: %s has no path %q", refs.ErrBadReference, id.Short(), sub)
	}
	if err != nil {
		return err
	}

	// 2. Materialize
	exp := exporter.NewExporter(r.store)
	target := filepath.Join(r.root, filepath.FromSlash(sub))
	restored := 0
	if entry.IsDir() {
		err = exp.RestoreTree(ctx, entry.Hash, target, func(string, core.TreeEntry) { restored++ })
	} else {
		err = exp.RestoreFile(ctx, entry, target)
		restored = 1
	}
	if err != nil {
		return fmt.Errorf("checkout failed: %w", err)
	}

	// 3. Scoped checkout: unstage what we just overwrote
	if sub != "" {
		for _, p := range r.stage.Paths() {
			if p == sub || strings.HasPrefix(p, sub+"/") {
				r.stage.Remove(p)
			}
		}
		slog.Debug("checked out path", "ref", ref, "path", sub, "files", restored)
		return r.saveStage()
	}

	// 4. Full checkout: move HEAD and reset the stage
	if branch, ok := r.branchRef(ref); ok {
		err = r.refs.SetHead(branch, "")
	} else {
		err = r.refs.SetHead("", id)
	}
	if err != nil {
		return err
	}
	r.stage.Reset()
	if err := r.saveStage(); err != nil {
		return err
	}
	if err := r.syncGitIndex(ctx, commit.TreeHash, nil); err != nil {
		slog.Warn("failed to sync git index", "error", err)
	}
	slog.Debug("checked out", "ref", ref, "commit", id.Short(), "files", restored)
	return nil
}
