package storage

import (
	"context"
	"errors"
	"fmt"

	"hopper/pkg/core"
	"hopper/pkg/types"
)

// MinPrefixLen is the shortest abbreviated id ExpandHash accepts.
const MinPrefixLen = 4

var (
	ErrNotFound       = errors.New("object not found")
	ErrAmbiguousHash  = errors.New("ambiguous hash prefix")
	ErrPrefixTooShort = errors.New("hash prefix too short")
)

// Store defines the interface for a content-addressed object database.
// Implementations can be the repository's loose object directory, memory, or a remote mirror.
type Store interface {
	// Put persists an object. Writing an id that already exists is a no-op.
	Put(ctx context.Context, obj core.Object) error

	// Get reads an object back. Missing ids return ErrNotFound.
	Get(ctx context.Context, hash types.Hash) (core.Object, error)

	// Has checks existence without reading content.
	Has(ctx context.Context, hash types.Hash) (bool, error)

	// ExpandHash resolves an abbreviated id to the single object it names.
	ExpandHash(ctx context.Context, prefix types.HashPrefix) (types.Hash, error)

	// MatchPrefix lists every object id starting with prefix, in no order.
	MatchPrefix(ctx context.Context, prefix types.HashPrefix) ([]types.Hash, error)
}

// KindReader is implemented by stores that can tell an object's type
// without reading its content, such as the Redis cache.
type KindReader interface {
	Kind(ctx context.Context, hash types.Hash) (core.ObjectType, error)
}

// ObjectKind returns the type of the object hash names.
func ObjectKind(ctx context.Context, s Store, hash types.Hash) (core.ObjectType, error) {
	if k, ok := s.(KindReader); ok {
		return k.Kind(ctx, hash)
	}
	obj, err := s.Get(ctx, hash)
	if err != nil {
		return "", err
	}
	return obj.Type(), nil
}

// ReadTree fetches and decodes a tree.
func ReadTree(ctx context.Context, s Store, hash types.Hash) (*core.Tree, error) {
	obj, err := s.Get(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get tree %s: %w", hash, err)
	}
	return core.DecodeTree(obj)
}

// ReadCommit fetches and decodes a commit.
func ReadCommit(ctx context.Context, s Store, hash types.Hash) (*core.Commit, error) {
	obj, err := s.Get(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", hash, err)
	}
	return core.DecodeCommit(obj)
}

// ReadBlob fetches and decodes a blob.
func ReadBlob(ctx context.Context, s Store, hash types.Hash) (*core.Blob, error) {
	obj, err := s.Get(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s: %w", hash, err)
	}
	return core.DecodeBlob(obj)
}

// CheckPrefix normalizes a prefix and enforces the minimum length.
func CheckPrefix(prefix types.HashPrefix) (types.HashPrefix, error) {
	p, ok := prefix.Normalize()
	if !ok {
		return p, fmt.Errorf("%w: %q is not a hex id", ErrNotFound, prefix)
	}
	if len(p) < MinPrefixLen {
		return p, fmt.Errorf("%w: %q (need at least %d chars)", ErrPrefixTooShort, prefix, MinPrefixLen)
	}
	return p, nil
}

// PickUnique reduces a candidate list to the single match, or the matching error.
func PickUnique(prefix types.HashPrefix, matches []types.Hash) (types.Hash, error) {
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %d objects", ErrAmbiguousHash, prefix, len(matches))
	}
}
