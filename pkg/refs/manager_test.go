package refs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"hopper/pkg/core"
	"hopper/pkg/storage"
	"hopper/pkg/storage/memory"
	"hopper/pkg/types"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const master = plumbing.ReferenceName("refs/heads/master")

// setupTestEnv builds a Manager over in-memory go-git storage with HEAD -> master.
func setupTestEnv(t *testing.T) (*Manager, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	m := NewManager(store.Storage(), store)
	require.NoError(t, m.SetHead(master, ""))
	return m, store
}

// mustCommit writes an empty-tree commit with the given message.
func mustCommit(t *testing.T, store *memory.Store, msg string, parents ...types.Hash) types.Hash {
	t.Helper()
	ctx := context.Background()
	tree, err := core.NewTree(nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, tree))

	sig := core.Signature{Name: "t", Email: "t@example.com", When: time.Unix(1700000000, 0)}
	c, err := core.NewCommit(tree.ID(), parents, sig, core.Signature{}, msg)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, c))
	return c.ID()
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestManager_UnbornHead(t *testing.T) {
	m, _ := setupTestEnv(t)

	_, err := m.Head()
	assert.ErrorIs(t, err, ErrNoHead)

	branch, err := m.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "master", branch)
}

func TestManager_AdvanceCAS(t *testing.T) {
	m, store := setupTestEnv(t)

	c1 := mustCommit(t, store, "one")
	require.NoError(t, m.Advance(master, "", c1), "initial advance on unborn branch")

	head, err := m.Head()
	require.NoError(t, err)
	assert.Equal(t, c1, head)

	// Two writers both read c1
	c2a := mustCommit(t, store, "two-a", c1)
	c2b := mustCommit(t, store, "two-b", c1)

	require.NoError(t, m.Advance(master, c1, c2a), "first writer wins")
	err = m.Advance(master, c1, c2b)
	assert.ErrorIs(t, err, ErrConcurrentModification, "second writer must observe the move")

	head, _ = m.Head()
	assert.Equal(t, c2a, head, "history was not clobbered")

	// Creating an already-born branch as unborn is also a conflict
	err = m.Advance(master, "", c2b)
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestManager_BranchTagResolve(t *testing.T) {
	m, store := setupTestEnv(t)
	ctx := context.Background()

	c1 := mustCommit(t, store, "one")
	c2 := mustCommit(t, store, "two", c1)
	require.NoError(t, m.Advance(master, "", c2))

	// Default targets
	require.NoError(t, m.Branch(ctx, "feature", c1))
	require.NoError(t, m.Tag(ctx, "v1", c2))
	// Same-named tag pointing elsewhere
	require.NoError(t, m.Tag(ctx, "feature", c2))

	err := m.Branch(ctx, "feature", c2)
	assert.ErrorIs(t, err, ErrRefExists)

	tests := []struct {
		name    string
		ref     string
		want    types.Hash
		wantErr error
	}{
		{"HEAD", "HEAD", c2, nil},
		{"empty means HEAD", "", c2, nil},
		{"branch", "master", c2, nil},
		{"branch beats tag", "feature", c1, nil},
		{"tag", "v1", c2, nil},
		{"full ref name", "refs/tags/feature", c2, nil},
		{"full commit id", string(c1), c1, nil},
		{"abbreviated id", string(c1)[:10], c1, nil},
		{"unknown", "nope-branch", "", ErrBadReference},
		{"unknown hex", "0000000000", "", ErrBadReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Resolve(ctx, tt.ref)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	branches, err := m.Branches()
	require.NoError(t, err)
	assert.Equal(t, []string{"feature", "master"}, branches)

	tags, err := m.Tags()
	require.NoError(t, err)
	assert.Equal(t, []string{"feature", "v1"}, tags)
}

func TestManager_RejectsNonCommitTargets(t *testing.T) {
	m, store := setupTestEnv(t)
	ctx := context.Background()

	blob := core.NewBlob([]byte("not a commit"))
	require.NoError(t, store.Put(ctx, blob))

	assert.ErrorIs(t, m.Branch(ctx, "x", blob.ID()), ErrBadReference)
	assert.ErrorIs(t, m.Tag(ctx, "y", core.CalculateBlobHash([]byte("missing"))), ErrBadReference)

	_, err := m.Resolve(ctx, string(blob.ID()))
	assert.ErrorIs(t, err, ErrBadReference)
}

func TestManager_DetachedHead(t *testing.T) {
	m, store := setupTestEnv(t)
	c1 := mustCommit(t, store, "one")

	require.NoError(t, m.SetHead("", c1))
	head, err := m.Head()
	require.NoError(t, err)
	assert.Equal(t, c1, head)

	target, err := m.HeadTarget()
	require.NoError(t, err)
	assert.Equal(t, plumbing.HEAD, target)

	branch, err := m.CurrentBranch()
	require.NoError(t, err)
	assert.Empty(t, branch)
}

func TestManager_ResolvePrefixSkipsOtherObjects(t *testing.T) {
	m, store := setupTestEnv(t)
	ctx := context.Background()
	c1 := mustCommit(t, store, "one")
	short := string(c1)[:4]

	// Find a blob whose id starts with the same four characters
	var blob *core.Blob
	for i := 0; i < 1<<22 && blob == nil; i++ {
		data := []byte(fmt.Sprintf("issue body %d", i))
		if string(core.CalculateBlobHash(data))[:4] == short {
			blob = core.NewBlob(data)
		}
	}
	require.NotNil(t, blob)
	require.NoError(t, store.Put(ctx, blob))

	_, err := store.ExpandHash(ctx, types.HashPrefix(short))
	require.ErrorIs(t, err, storage.ErrAmbiguousHash, "the raw prefix names two objects")

	got, err := m.Resolve(ctx, short)
	require.NoError(t, err)
	assert.Equal(t, c1, got)

	_, err = m.Resolve(ctx, string(blob.ID()))
	assert.ErrorIs(t, err, ErrBadReference)

	// A second commit with the prefix is a real ambiguity
	var c2 types.Hash
	for i := 0; i < 1<<22 && c2 == ""; i++ {
		sig := core.Signature{Name: "t", Email: "t@example.com", When: time.Unix(1700000000, 0)}
		c, err := core.NewCommit(core.CalculateBlobHash(nil), nil, sig, core.Signature{}, fmt.Sprintf("two %d", i))
		require.NoError(t, err)
		if string(c.ID())[:4] == short {
			require.NoError(t, store.Put(ctx, c))
			c2 = c.ID()
		}
	}
	require.NotEmpty(t, c2)
	_, err = m.Resolve(ctx, short)
	assert.ErrorIs(t, err, ErrAmbiguousReference)
}
