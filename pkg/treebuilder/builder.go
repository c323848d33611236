package treebuilder

import (
	"context"
	"fmt"
	"strings"

	"hopper/pkg/core"
	"hopper/pkg/index"
	"hopper/pkg/storage"
	"hopper/pkg/types"
)

// Builder turns a base tree plus staged changes into a new root tree.
type Builder struct {
	store storage.Store
}

func NewBuilder(store storage.Store) *Builder {
	return &Builder{store: store}
}

// Build overlays changes onto base and returns the new root tree id.
// base may be empty for the first commit. Only directories on the path of
// some change are read and rewritten; every other subtree keeps its id.
func (b *Builder) Build(ctx context.Context, base types.Hash, changes map[string]index.Entry) (types.Hash, error) {
	// 1. In-memory skeleton of the touched directories
	root := newDirNode("")
	for path, entry := range changes {
		root.addChange(path, entry)
	}

	// 2. Bottom-up rewrite
	h, empty, err := b.writeNode(ctx, root, base)
	if err != nil {
		return "", err
	}
	if !empty {
		return h, nil
	}

	// Every file was removed: the root is the empty tree
	tree, err := core.NewTree(nil)
	if err != nil {
		return "", err
	}
	if err := b.store.Put(ctx, tree); err != nil {
		return "", fmt.Errorf("failed to store tree: %w", err)
	}
	return tree.ID(), nil
}

// -----------------------------------------------------------------------------
// In-memory directory skeleton
// -----------------------------------------------------------------------------

type node struct {
	name     string
	children map[string]*node // touched sub-directories and files
	change   *index.Entry     // set on leaves
}

func newDirNode(name string) *node {
	return &node{
		name:     name,
		children: make(map[string]*node),
	}
}

// addChange inserts "a/b/c.txt" as a -> b -> c.txt(leaf).
func (n *node) addChange(path string, entry index.Entry) {
	parts := strings.Split(path, "/")
	current := n

	for _, part := range parts[:len(parts)-1] {
		child, exists := current.children[part]
		if !exists {
			child = newDirNode(part)
			current.children[part] = child
		}
		current = child
	}

	leafName := parts[len(parts)-1]
	leaf, exists := current.children[leafName]
	if !exists {
		leaf = newDirNode(leafName)
		current.children[leafName] = leaf
	}
	e := entry
	leaf.change = &e
}

// writeNode rewrites one directory. It reports empty when nothing is left,
// since git does not record empty sub-directories.
func (b *Builder) writeNode(ctx context.Context, n *node, base types.Hash) (types.Hash, bool, error) {
	entries := make(map[string]core.TreeEntry)

	// 1. Start from the base listing
	if base != "" {
		tree, err := storage.ReadTree(ctx, b.store, base)
		if err != nil {
			return "", false, err
		}
		for _, e := range tree.Entries {
			entries[e.Name] = e
		}
	}

	// 2. Apply changes
	for name, child := range n.children {
		if child.change != nil {
			if child.change.Removed {
				delete(entries, name)
			} else {
				mode := child.change.Mode
				if mode == 0 {
					mode = core.ModeFile
				}
				entries[name] = core.TreeEntry{Name: name, Mode: mode, Hash: child.change.Hash}
			}
		}
		if len(child.children) == 0 {
			continue
		}

		var childBase types.Hash
		if existing, ok := entries[name]; ok && existing.IsDir() {
			childBase = existing.Hash
		}
		h, empty, err := b.writeNode(ctx, child, childBase)
		if err != nil {
			return "", false, err
		}
		if empty {
			delete(entries, name)
		} else {
			entries[name] = core.TreeEntry{Name: name, Mode: core.ModeDir, Hash: h}
		}
	}

	if len(entries) == 0 {
		return "", true, nil
	}

	// 3. Seal and persist (NewTree sorts into git order)
	list := make([]core.TreeEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	tree, err := core.NewTree(list)
	if err != nil {
		return "", false, fmt.Errorf("failed to create tree object: %w", err)
	}
	if err := b.store.Put(ctx, tree); err != nil {
		return "", false, fmt.Errorf("failed to store tree: %w", err)
	}
	return tree.ID(), false, nil
}
