package core

import (
	"testing"
	"time"

	"hopper/pkg/types"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// mockHash returns a valid 40-char id for arbitrary input.
func mockHash(input string) types.Hash {
	return CalculateBlobHash([]byte(input))
}

func testSig(name string) Signature {
	return Signature{Name: name, Email: name + "@example.com", When: time.Unix(1700000000, 0).UTC()}
}

// mustNewCommit fails the test immediately when the commit cannot be sealed.
func mustNewCommit(t *testing.T, treeHash types.Hash, parents []types.Hash, author, msg string, msgAndArgs ...any) *Commit {
	t.Helper()
	c, err := NewCommit(treeHash, parents, testSig(author), Signature{}, msg)
	require.NoError(t, err, msgAndArgs...)
	return c
}

func mustNewTree(t *testing.T, entries []TreeEntry, msgAndArgs ...any) *Tree {
	t.Helper()
	tree, err := NewTree(entries)
	require.NoError(t, err, msgAndArgs...)
	return tree
}
