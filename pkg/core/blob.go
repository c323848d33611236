package core

import "hopper/pkg/types"

// Blob is raw file content.
type Blob struct {
	hash types.Hash
	data []byte
}

// NewBlob seals data into a blob. Identical content always yields the same id.
func NewBlob(data []byte) *Blob {
	return &Blob{hash: ComputeHash(TypeBlob, data), data: data}
}

// CalculateBlobHash returns the id a blob of data would get without building it.
func CalculateBlobHash(data []byte) types.Hash {
	return ComputeHash(TypeBlob, data)
}

// DecodeBlob checks the kind of a stored object and returns it as a blob.
func DecodeBlob(obj Object) (*Blob, error) {
	if obj.Type() != TypeBlob {
		return nil, &TypeMismatchError{Hash: obj.ID(), Want: TypeBlob, Got: obj.Type()}
	}
	return &Blob{hash: obj.ID(), data: obj.Bytes()}, nil
}

func (b *Blob) Type() ObjectType { return TypeBlob }
func (b *Blob) ID() types.Hash   { return b.hash }
func (b *Blob) Bytes() []byte    { return b.data }
func (b *Blob) Size() int64      { return int64(len(b.data)) }
