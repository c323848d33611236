package mirror

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"hopper/pkg/core"
	"hopper/pkg/document"
	"hopper/pkg/refs"
	"hopper/pkg/repo"
	"hopper/pkg/types"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestRepo builds an isolated in-memory mirror per test.
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	mirrorDB := NewWithConn(db)
	require.NoError(t, mirrorDB.AutoMigrate())
	t.Cleanup(func() { _ = mirrorDB.Close() })

	return NewRepository(mirrorDB)
}

func mockHash(input string) types.Hash {
	return core.ComputeHash(core.TypeBlob, []byte(input))
}

func mustNewCommit(t *testing.T, parents []types.Hash, author, msg string) *core.Commit {
	t.Helper()
	sig := core.Signature{Name: author, Email: author + "@example.com", When: time.Unix(1700000000+int64(len(parents)), 0)}
	c, err := core.NewCommit(mockHash("tree:"+msg), parents, sig, core.Signature{}, msg)
	require.NoError(t, err)
	return c
}

func mustIssue(t *testing.T, docs *document.Store, title string, status document.Status) *document.Issue {
	t.Helper()
	i := &document.Issue{Title: title, Status: status, Author: document.Author{Name: "Ann", Email: "ann@example.com"}}
	require.NoError(t, docs.Save(i))
	return i
}

// fakeRepo is an in-memory history with a scripted working tree status.
type fakeRepo struct {
	head    types.Hash
	status  repo.Status
	commits map[types.Hash]*core.Commit
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{commits: map[types.Hash]*core.Commit{}}
}

// commit appends a commit on top of head.
func (f *fakeRepo) commit(t *testing.T, msg string) types.Hash {
	t.Helper()
	var parents []types.Hash
	if f.head != "" {
		parents = []types.Hash{f.head}
	}
	c := mustNewCommit(t, parents, "ann", msg)
	f.commits[c.ID()] = c
	f.head = c.ID()
	return c.ID()
}

func (f *fakeRepo) Head() (types.Hash, error) {
	if f.head == "" {
		return "", refs.ErrNoHead
	}
	return f.head, nil
}

func (f *fakeRepo) Status(context.Context, string) (*repo.Status, error) {
	st := f.status
	return &st, nil
}

func (f *fakeRepo) Commits(_ context.Context, start string, limit int) ([]*core.Commit, error) {
	var out []*core.Commit
	id := types.Hash(start)
	for id != "" && (limit <= 0 || len(out) < limit) {
		c, ok := f.commits[id]
		if !ok {
			return nil, refs.ErrBadReference
		}
		out = append(out, c)
		id = c.FirstParent()
	}
	return out, nil
}

type fixture struct {
	rows *Repository
	repo *fakeRepo
	docs *document.Store
	sync *Synchronizer
}

func setupSync(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		rows: setupTestRepo(t),
		repo: newFakeRepo(),
		docs: document.NewStore(root),
	}
	f.sync = NewSynchronizer(f.rows, f.repo, f.docs, MarkerPath(filepath.Join(root, ".hopper", "cache")))
	return f
}
