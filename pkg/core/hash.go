package core

import (
	"bytes"
	"fmt"
	"io"

	"hopper/pkg/types"

	"github.com/go-git/go-git/v5/plumbing"
)

// ComputeHash returns the git object id of data: SHA-1 over "<type> <len>\x00<data>".
func ComputeHash(t ObjectType, data []byte) types.Hash {
	return types.Hash(plumbing.ComputeHash(t.Plumbing(), data).String())
}

// ToPlumbingHash converts a full hex id. Invalid input yields the zero hash.
func ToPlumbingHash(h types.Hash) plumbing.Hash {
	if !h.IsValid() {
		return plumbing.ZeroHash
	}
	return plumbing.NewHash(string(h))
}

// FromPlumbingHash converts back; the zero hash becomes "".
func FromPlumbingHash(h plumbing.Hash) types.Hash {
	if h.IsZero() {
		return ""
	}
	return types.Hash(h.String())
}

// encoder is satisfied by go-git's object.Tree and object.Commit.
type encoder interface {
	Encode(o plumbing.EncodedObject) error
}

// encode runs a go-git encoder into memory and returns the id and canonical bytes.
func encode(e encoder) (types.Hash, []byte, error) {
	obj := &plumbing.MemoryObject{}
	if err := e.Encode(obj); err != nil {
		return "", nil, fmt.Errorf("failed to encode object: %w", err)
	}
	r, err := obj.Reader()
	if err != nil {
		return "", nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", nil, err
	}
	return FromPlumbingHash(obj.Hash()), data, nil
}

// ToEncoded wraps canonical bytes in a go-git object ready for a storer.
func ToEncoded(obj Object) plumbing.EncodedObject {
	mo := &plumbing.MemoryObject{}
	mo.SetType(obj.Type().Plumbing())
	mo.Write(obj.Bytes())
	return mo
}

// FromEncoded reads a go-git object fully into a Raw.
func FromEncoded(o plumbing.EncodedObject) (*Raw, error) {
	t, err := FromPlumbing(o.Type())
	if err != nil {
		return nil, err
	}
	r, err := o.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var buf bytes.Buffer
	buf.Grow(int(o.Size()))
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", o.Hash(), err)
	}
	return &Raw{TypeVal: t, Hash: FromPlumbingHash(o.Hash()), Data: buf.Bytes()}, nil
}
