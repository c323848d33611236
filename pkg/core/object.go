package core

import (
	"fmt"

	"hopper/pkg/types"

	"github.com/go-git/go-git/v5/plumbing"
)

// ObjectType is one of the three git object kinds the tracker stores.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"   // raw file content
	TypeTree   ObjectType = "tree"   // directory listing
	TypeCommit ObjectType = "commit" // snapshot with parent linkage
)

func (t ObjectType) String() string { return string(t) }

// Plumbing maps the type onto go-git's enum.
func (t ObjectType) Plumbing() plumbing.ObjectType {
	switch t {
	case TypeBlob:
		return plumbing.BlobObject
	case TypeTree:
		return plumbing.TreeObject
	case TypeCommit:
		return plumbing.CommitObject
	default:
		return plumbing.InvalidObject
	}
}

// FromPlumbing is the inverse of Plumbing. Tags and deltas are rejected.
func FromPlumbing(t plumbing.ObjectType) (ObjectType, error) {
	switch t {
	case plumbing.BlobObject:
		return TypeBlob, nil
	case plumbing.TreeObject:
		return TypeTree, nil
	case plumbing.CommitObject:
		return TypeCommit, nil
	default:
		return "", fmt.Errorf("unsupported object type: %s", t)
	}
}

// Object is the common interface of every node in the object graph.
type Object interface {
	// Type returns the object kind.
	Type() ObjectType

	// ID returns the content hash of the canonical encoding.
	ID() types.Hash

	// Bytes returns the canonical encoding without the git header.
	Bytes() []byte
}

// Raw is an object as read back from a store, before decoding.
type Raw struct {
	TypeVal ObjectType
	Hash    types.Hash
	Data    []byte
}

// NewRaw seals raw bytes of a known type.
func NewRaw(t ObjectType, data []byte) *Raw {
	return &Raw{TypeVal: t, Hash: ComputeHash(t, data), Data: data}
}

func (r *Raw) Type() ObjectType { return r.TypeVal }
func (r *Raw) ID() types.Hash   { return r.Hash }
func (r *Raw) Bytes() []byte    { return r.Data }
