package treebuilder

import (
	"context"
	"errors"
	"path"
	"strings"

	"hopper/pkg/core"
	"hopper/pkg/storage"
	"hopper/pkg/types"
)

// ErrPathNotFound is returned by Lookup when no entry exists at the path.
var ErrPathNotFound = errors.New("path not found in tree")

// WalkFunc is called for every file (non-directory) entry with its full path.
type WalkFunc func(path string, entry core.TreeEntry) error

// Walk visits every file below root in tree order. prefix is prepended to paths.
func Walk(ctx context.Context, store storage.Store, root types.Hash, prefix string, fn WalkFunc) error {
	tree, err := storage.ReadTree(ctx, store, root)
	if err != nil {
		return err
	}
	for _, e := range tree.Entries {
		full := e.Name
		if prefix != "" {
			full = prefix + "/" + e.Name
		}
		if e.IsDir() {
			if err := Walk(ctx, store, e.Hash, full, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(full, e); err != nil {
			return err
		}
	}
	return nil
}

// Flatten returns path -> entry for every file below root.
func Flatten(ctx context.Context, store storage.Store, root types.Hash) (map[string]core.TreeEntry, error) {
	files := make(map[string]core.TreeEntry)
	err := Walk(ctx, store, root, "", func(p string, e core.TreeEntry) error {
		files[p] = e
		return nil
	})
	return files, err
}

// Lookup finds the entry at a slash path below root.
func Lookup(ctx context.Context, store storage.Store, root types.Hash, p string) (core.TreeEntry, error) {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return core.TreeEntry{Name: "", Mode: core.ModeDir, Hash: root}, nil
	}

	current := core.TreeEntry{Mode: core.ModeDir, Hash: root}
	for _, part := range strings.Split(p, "/") {
		if !current.IsDir() {
			return core.TreeEntry{}, ErrPathNotFound
		}
		tree, err := storage.ReadTree(ctx, store, current.Hash)
		if err != nil {
			return core.TreeEntry{}, err
		}
		e, ok := tree.Entry(part)
		if !ok {
			return core.TreeEntry{}, ErrPathNotFound
		}
		current = e
	}
	return current, nil
}
