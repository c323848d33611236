package server

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct{ n atomic.Int32 }

func (c *counter) Invalidate() { c.n.Add(1) }

func mkdirAll(p string) error { return os.MkdirAll(p, 0755) }

func TestWatch_InvalidatesOnIssueChange(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, mkdirAll(filepath.Join(root, ".git", "refs", "heads")))
	require.NoError(t, mkdirAll(filepath.Join(root, "issues")))

	ctx, cancel := context.WithCancel(context.Background())
	var c counter
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, root, &c) }()

	// Give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "refs", "heads", "master"), []byte("x\n"), 0644))

	assert.Eventually(t, func() bool { return c.n.Load() > 0 }, 2*time.Second, 20*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestRelevant(t *testing.T) {
	assert.False(t, relevant(fsnotify.Event{Name: "/t/.git/refs/heads/master.lock", Op: fsnotify.Create}))
	assert.False(t, relevant(fsnotify.Event{Name: "/t/.git/index", Op: fsnotify.Write}))
	assert.False(t, relevant(fsnotify.Event{Name: "/t/issues/x", Op: fsnotify.Chmod}))
	assert.True(t, relevant(fsnotify.Event{Name: "/t/issues/x", Op: fsnotify.Create}))
}

func TestWatch_SeesNestedIssueFiles(t *testing.T) {
	root := t.TempDir()
	issue := filepath.Join(root, "issues", "1111111111111111111111111111111111111111")
	require.NoError(t, mkdirAll(filepath.Join(issue, "comments")))
	require.NoError(t, os.WriteFile(filepath.Join(issue, "issue"), []byte("{}"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var c counter
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, root, &c) }()
	time.Sleep(100 * time.Millisecond)

	// An in-place edit of an existing issue file
	require.NoError(t, os.WriteFile(filepath.Join(issue, "issue"), []byte(`{"title":"x"}`), 0644))
	assert.Eventually(t, func() bool { return c.n.Load() > 0 }, 2*time.Second, 20*time.Millisecond)

	// A comment on an issue created after the watch started
	later := filepath.Join(root, "issues", "2222222222222222222222222222222222222222")
	require.NoError(t, os.Mkdir(later, 0755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.Mkdir(filepath.Join(later, "comments"), 0755))
	time.Sleep(100 * time.Millisecond)
	before := c.n.Load()
	require.NoError(t, os.WriteFile(filepath.Join(later, "comments", "c1"), []byte("{}"), 0644))
	assert.Eventually(t, func() bool { return c.n.Load() > before }, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
