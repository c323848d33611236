package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hopper/pkg/core"
	"hopper/pkg/storage"
	"hopper/pkg/types"

	"github.com/go-git/go-git/v5/plumbing"
	gitmemory "github.com/go-git/go-git/v5/storage/memory"
)

// Store keeps objects and refs in go-git's in-memory storage.
// It backs unit tests and dry runs where nothing should touch disk.
type Store struct {
	storage *gitmemory.Storage
}

func NewStore() *Store {
	return &Store{storage: gitmemory.NewStorage()}
}

// Storage exposes the go-git storer so a refs.Manager can share it.
func (s *Store) Storage() *gitmemory.Storage { return s.storage }

func (s *Store) Put(ctx context.Context, obj core.Object) error {
	if _, err := s.storage.SetEncodedObject(core.ToEncoded(obj)); err != nil {
		return fmt.Errorf("failed to store object %s: %w", obj.ID(), err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, hash types.Hash) (core.Object, error) {
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

func (s *Store) Has(ctx context.Context, hash types.Hash) (bool, error) {
	if !hash.IsValid() {
		return false, nil
	}
	return s.storage.HasEncodedObject(core.ToPlumbingHash(hash)) == nil, nil
}

func (s *Store) ExpandHash(ctx context.Context, prefix types.HashPrefix) (types.Hash, error) {
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

func (s *Store) MatchPrefix(ctx context.Context, prefix types.HashPrefix) ([]types.Hash, error) {
	p, err := storage.CheckPrefix(prefix)
	if err != nil {
		return nil, err
	}
	var matches []types.Hash
	for h := range s.storage.Objects {
		id := core.FromPlumbingHash(h)
		if strings.HasPrefix(string(id), string(p)) {
			matches = append(matches, id)
		}
	}
	return matches, nil
}

// Len reports how many objects are stored.
func (s *Store) Len() int { return len(s.storage.Objects) }
