package core

import (
	"fmt"
	"time"

	"hopper/pkg/types"

	"github.com/go-git/go-git/v5/plumbing/object"
)

// Signature identifies the author or committer of a commit.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

func (s Signature) String() string { return fmt.Sprintf("%s <%s>", s.Name, s.Email) }

// Commit is an immutable snapshot: a root tree plus parent linkage.
type Commit struct {
	hash     types.Hash
	rawBytes []byte

	TreeHash  types.Hash
	Parents   []types.Hash
	Author    Signature
	Committer Signature
	Message   string
}

// NewCommit seals a commit. A zero committer defaults to the author.
func NewCommit(treeHash types.Hash, parents []types.Hash, author, committer Signature, msg string) (*Commit, error) {
	if !treeHash.IsValid() {
		return nil, fmt.Errorf("invalid tree hash %q", treeHash)
	}
	if author.When.IsZero() {
		author.When = time.Now()
	}
	if committer.Name == "" && committer.Email == "" {
		committer = author
	}
	if committer.When.IsZero() {
		committer.When = author.When
	}

	gc := &object.Commit{
		Author:    object.Signature{Name: author.Name, Email: author.Email, When: author.When},
		Committer: object.Signature{Name: committer.Name, Email: committer.Email, When: committer.When},
		Message:   msg,
		TreeHash:  ToPlumbingHash(treeHash),
	}
	for _, p := range parents {
		if !p.IsValid() {
			return nil, fmt.Errorf("invalid parent hash %q", p)
		}
		gc.ParentHashes = append(gc.ParentHashes, ToPlumbingHash(p))
	}

	h, b, err := encode(gc)
	if err != nil {
		return nil, err
	}
	return &Commit{
		hash:      h,
		rawBytes:  b,
		TreeHash:  treeHash,
		Parents:   append([]types.Hash(nil), parents...),
		Author:    author,
		Committer: committer,
		Message:   msg,
	}, nil
}

// DecodeCommit parses a stored commit object.
func DecodeCommit(obj Object) (*Commit, error) {
	if obj.Type() != TypeCommit {
		return nil, &TypeMismatchError{Hash: obj.ID(), Want: TypeCommit, Got: obj.Type()}
	}
	var gc object.Commit
	if err := gc.Decode(ToEncoded(obj)); err != nil {
		return nil, fmt.Errorf("failed to decode commit %s: %w", obj.ID(), err)
	}
	c := &Commit{
		hash:      obj.ID(),
		rawBytes:  obj.Bytes(),
		TreeHash:  FromPlumbingHash(gc.TreeHash),
		Author:    fromGitSignature(gc.Author),
		Committer: fromGitSignature(gc.Committer),
		Message:   gc.Message,
	}
	for _, p := range gc.ParentHashes {
		c.Parents = append(c.Parents, FromPlumbingHash(p))
	}
	return c, nil
}

func fromGitSignature(s object.Signature) Signature {
	return Signature{Name: s.Name, Email: s.Email, When: s.When}
}

// FirstParent returns the mainline parent, or "" for a root commit.
func (c *Commit) FirstParent() types.Hash {
	if len(c.Parents) == 0 {
		return ""
	}
	return c.Parents[0]
}

func (c *Commit) Type() ObjectType { return TypeCommit }
func (c *Commit) ID() types.Hash   { return c.hash }
func (c *Commit) Bytes() []byte    { return c.rawBytes }
