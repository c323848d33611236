package backup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hopper/pkg/core"
	"hopper/pkg/storage/memory"
	"hopper/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memTarget is a Target backed by a memory store plus a ref map.
type memTarget struct {
	*memory.Store
	mu   sync.Mutex
	refs map[string]types.Hash
	puts int
	fail bool
}

func newMemTarget() *memTarget {
	return &memTarget{Store: memory.NewStore(), refs: map[string]types.Hash{}}
}

func (m *memTarget) Put(ctx context.Context, obj core.Object) error {
	m.mu.Lock()
	m.puts++
	fail := m.fail
	m.mu.Unlock()
	if fail {
		return errors.New("bucket unavailable")
	}
	return m.Store.Put(ctx, obj)
}

func (m *memTarget) PutRef(_ context.Context, name string, hash types.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[name] = hash
	return nil
}

func mustPut(t *testing.T, s *memory.Store, obj core.Object) types.Hash {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), obj))
	return obj.ID()
}

// buildHistory writes two commits; the second adds a nested file.
func buildHistory(t *testing.T, s *memory.Store) (first, second types.Hash) {
	t.Helper()
	sig := core.Signature{Name: "Ada", Email: "ada@example.com", When: time.Unix(1700000000, 0)}

	readme := mustPut(t, s, core.NewBlob([]byte("overview")))
	tree1, err := core.NewTree([]core.TreeEntry{{Name: "README.md", Mode: core.ModeFile, Hash: readme}})
	require.NoError(t, err)
	mustPut(t, s, tree1)
	c1, err := core.NewCommit(tree1.ID(), nil, sig, core.Signature{}, "Initial Commit")
	require.NoError(t, err)
	first = mustPut(t, s, c1)

	issue := mustPut(t, s, core.NewBlob([]byte(`{"title": "Fix crash"}`)))
	sub, err := core.NewTree([]core.TreeEntry{{Name: "issue", Mode: core.ModeFile, Hash: issue}})
	require.NoError(t, err)
	mustPut(t, s, sub)
	tree2, err := core.NewTree([]core.TreeEntry{
		{Name: "README.md", Mode: core.ModeFile, Hash: readme},
		{Name: "issues", Mode: core.ModeDir, Hash: sub.ID()},
	})
	require.NoError(t, err)
	mustPut(t, s, tree2)
	c2, err := core.NewCommit(tree2.ID(), []types.Hash{first}, sig, core.Signature{}, "Create issue")
	require.NoError(t, err)
	second = mustPut(t, s, c2)
	return first, second
}

func TestPush_UploadsReachableObjects(t *testing.T) {
	ctx := context.Background()
	src := memory.NewStore()
	_, head := buildHistory(t, src)
	mustPut(t, src, core.NewBlob([]byte("unreachable")))

	dst := newMemTarget()
	stats, err := New(src, dst, 2).Push(ctx, map[string]types.Hash{"refs/heads/master": head})
	require.NoError(t, err)

	// 2 commits, 3 trees, 2 blobs
	assert.Equal(t, 7, stats.Objects)
	assert.Equal(t, 7, stats.Uploaded)
	assert.Equal(t, 7, dst.Len())
	assert.Equal(t, head, dst.refs["refs/heads/master"])

	// Second push finds everything in place
	stats, err = New(src, dst, 2).Push(ctx, map[string]types.Hash{"refs/heads/master": head})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Uploaded)
	assert.Equal(t, 7, stats.Skipped)
}

func TestPush_FailureSkipsRefs(t *testing.T) {
	ctx := context.Background()
	src := memory.NewStore()
	_, head := buildHistory(t, src)

	dst := newMemTarget()
	dst.fail = true
	_, err := New(src, dst, 0).Push(ctx, map[string]types.Hash{"refs/heads/master": head})
	require.Error(t, err)
	assert.Empty(t, dst.refs, "refs must not point at missing objects")
}
