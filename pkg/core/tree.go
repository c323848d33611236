package core

import (
	"fmt"
	"sort"
	"strings"

	"hopper/pkg/types"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	ModeFile       = filemode.Regular
	ModeExecutable = filemode.Executable
	ModeDir        = filemode.Dir
	ModeSymlink    = filemode.Symlink
	ModeSubmodule  = filemode.Submodule
)

// TreeEntry is one name in a directory listing.
type TreeEntry struct {
	Name string
	Mode filemode.FileMode
	Hash types.Hash
}

func (e TreeEntry) IsDir() bool { return e.Mode == filemode.Dir }

// Tree is an ordered mapping of entry name to (mode, child id).
type Tree struct {
	hash     types.Hash
	rawBytes []byte

	Entries []TreeEntry
}

// NewTree sorts entries into git order and seals the tree.
func NewTree(entries []TreeEntry) (*Tree, error) {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)

	gt := &object.Tree{Entries: make([]object.TreeEntry, 0, len(sorted))}
	seen := make(map[string]struct{}, len(sorted))
	for _, e := range sorted {
		if e.Name == "" || e.Name == "." || e.Name == ".." || strings.ContainsAny(e.Name, "/\x00") {
			return nil, fmt.Errorf("invalid tree entry name %q", e.Name)
		}
		if _, dup := seen[e.Name]; dup {
			return nil, fmt.Errorf("duplicate tree entry %q", e.Name)
		}
		seen[e.Name] = struct{}{}
		if !e.Hash.IsValid() {
			return nil, fmt.Errorf("tree entry %q has invalid hash %q", e.Name, e.Hash)
		}
		gt.Entries = append(gt.Entries, object.TreeEntry{
			Name: e.Name,
			Mode: e.Mode,
			Hash: ToPlumbingHash(e.Hash),
		})
	}
	// Directories sort as "name/", which is what git expects.
	sort.Sort(object.TreeEntrySorter(gt.Entries))

	h, b, err := encode(gt)
	if err != nil {
		return nil, err
	}
	for i, e := range gt.Entries {
		sorted[i] = TreeEntry{Name: e.Name, Mode: e.Mode, Hash: FromPlumbingHash(e.Hash)}
	}
	return &Tree{hash: h, rawBytes: b, Entries: sorted}, nil
}

// DecodeTree parses a stored tree object.
func DecodeTree(obj Object) (*Tree, error) {
	if obj.Type() != TypeTree {
		return nil, &TypeMismatchError{Hash: obj.ID(), Want: TypeTree, Got: obj.Type()}
	}
	var gt object.Tree
	if err := gt.Decode(ToEncoded(obj)); err != nil {
		return nil, fmt.Errorf("failed to decode tree %s: %w", obj.ID(), err)
	}
	entries := make([]TreeEntry, len(gt.Entries))
	for i, e := range gt.Entries {
		entries[i] = TreeEntry{Name: e.Name, Mode: e.Mode, Hash: FromPlumbingHash(e.Hash)}
	}
	return &Tree{hash: obj.ID(), rawBytes: obj.Bytes(), Entries: entries}, nil
}

// Entry looks up a direct child by name.
func (t *Tree) Entry(name string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

func (t *Tree) Type() ObjectType { return TypeTree }
func (t *Tree) ID() types.Hash   { return t.hash }
func (t *Tree) Bytes() []byte    { return t.rawBytes }
