package disk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hopper/pkg/core"
	"hopper/pkg/storage"
	"hopper/pkg/types"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// Adapter implements storage.Store on a git directory's object database.
// Objects are written as zlib-compressed loose files under objects/aa/bbcc...,
// so the repository stays readable by any git tool.
type Adapter struct {
	gitDir  string // e.g. /path/to/tracker/.git
	storage *filesystem.Storage
}

// NewAdapter opens the object database of gitDir.
func NewAdapter(gitDir string) (*Adapter, error) {
	// Make sure the fan-out root exists
	if err := os.MkdirAll(filepath.Join(gitDir, "objects"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create object dir: %w", err)
	}
	st := filesystem.NewStorage(osfs.New(gitDir), cache.NewObjectLRUDefault())
	return &Adapter{gitDir: gitDir, storage: st}, nil
}

// Storage exposes the underlying go-git storer so refs and the git index share it.
func (s *Adapter) Storage() *filesystem.Storage { return s.storage }

// GitDir returns the directory this adapter was opened on.
func (s *Adapter) GitDir() string { return s.gitDir }

// layout returns the loose object path of a hash.
// Strategy: the first 2 hex chars are the shard directory, as in git.
func (s *Adapter) layout(hash types.Hash) string {
	h := string(hash)
	if len(h) < 2 {
		return filepath.Join(s.gitDir, "objects", h)
	}
	return filepath.Join(s.gitDir, "objects", h[:2], h[2:])
}

func (s *Adapter) Put(ctx context.Context, obj core.Object) error {
	// 1. Idempotency: content addressing means an existing id has identical bytes
	exists, err := s.Has(ctx, obj.ID())
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	// 2. go-git writes to a temp file and renames it into place
	h, err := s.storage.SetEncodedObject(core.ToEncoded(obj))
	if err != nil {
		return fmt.Errorf("failed to write object %s: %w", obj.ID(), err)
	}
	if core.FromPlumbingHash(h) != obj.ID() {
		return fmt.Errorf("object id mismatch: expected %s, stored %s", obj.ID(), h)
	}
	return nil
}

func (s *Adapter) Get(ctx context.Context, hash types.Hash) (core.Object, error) {
	if !hash.IsValid() {
		return nil, storage.ErrNotFound
	}
	o, err := s.storage.EncodedObject(plumbing.AnyObject, core.ToPlumbingHash(hash))
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return core.FromEncoded(o)
}

func (s *Adapter) Has(ctx context.Context, hash types.Hash) (bool, error) {
	if !hash.IsValid() {
		return false, nil
	}
	err := s.storage.HasEncodedObject(core.ToPlumbingHash(hash))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return false, nil
	}
	return false, err
}

func (s *Adapter) ExpandHash(ctx context.Context, prefix types.HashPrefix) (types.Hash, error) {
	p, err := storage.CheckPrefix(prefix)
	if err != nil {
		return "", err
	}
	matches, err := s.MatchPrefix(ctx, p)
	if err != nil {
		return "", err
	}
	return storage.PickUnique(p, matches)
}

// MatchPrefix scans the shard directory for loose objects and, when the
// repository has packfiles (after `git gc`), the packed objects too.
func (s *Adapter) MatchPrefix(ctx context.Context, prefix types.HashPrefix) ([]types.Hash, error) {
	p, err := storage.CheckPrefix(prefix)
	if err != nil {
		return nil, err
	}

	if p.IsFull() {
		ok, err := s.Has(ctx, types.Hash(p))
		if err != nil || !ok {
			return nil, err
		}
		return []types.Hash{types.Hash(p)}, nil
	}

	seen := make(map[types.Hash]struct{})

	// 1. Loose objects
	str := string(p)
	shard := filepath.Join(s.gitDir, "objects", str[:2])
	entries, err := os.ReadDir(shard)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), str[2:]) {
			continue
		}
		h := types.Hash(str[:2] + e.Name())
		if h.IsValid() {
			seen[h] = struct{}{}
		}
	}

	// 2. Packed objects
	packs, err := s.storage.ObjectPacks()
	if err != nil {
		return nil, err
	}
	if len(packs) > 0 {
		iter, err := s.storage.IterEncodedObjects(plumbing.AnyObject)
		if err != nil {
			return nil, err
		}
		err = iter.ForEach(func(o plumbing.EncodedObject) error {
			h := core.FromPlumbingHash(o.Hash())
			if strings.HasPrefix(string(h), str) {
				seen[h] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	matches := make([]types.Hash, 0, len(seen))
	for h := range seen {
		matches = append(matches, h)
	}
	return matches, nil
}
