package mirror

import (
	"context"
	"os"
	"testing"

	"hopper/pkg/document"
	"hopper/pkg/refs"
	"hopper/pkg/repo"
	"hopper/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSync_ReplicateWithoutMarker(t *testing.T) {
	f := setupSync(t)
	ctx := context.Background()

	var issues []*document.Issue
	for i := range 120 {
		status := document.StatusOpen
		if i%3 == 0 {
			status = document.StatusClosed
		}
		issues = append(issues, mustIssue(t, f.docs, "issue", status))
	}
	head := f.repo.commit(t, "add issues")

	action, err := f.sync.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActionReplicate, action)

	require.NoError(t, f.sync.Check(ctx))
	assert.Equal(t, StateSynced, f.sync.State())

	// Convergence: one row per directory, matching status and title
	n, err := f.rows.CountIssues(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(len(issues)), n)
	for _, i := range issues {
		r, err := f.rows.GetIssue(ctx, i.ID)
		require.NoError(t, err)
		assert.Equal(t, string(i.Status), r.Status)
		assert.Equal(t, i.Title, r.Title)
	}

	marker, err := f.sync.ReadMarker()
	require.NoError(t, err)
	assert.Equal(t, head, marker)

	commits, err := f.rows.RecentCommits(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, commits, 1)
}

func TestSync_MarkerFileFormat(t *testing.T) {
	f := setupSync(t)
	head := f.repo.commit(t, "init")
	require.NoError(t, f.sync.Replicate(context.Background()))

	data, err := os.ReadFile(f.sync.marker)
	require.NoError(t, err)
	assert.Equal(t, string(head), string(data))
}

func TestSync_NoHeadSkipsMarker(t *testing.T) {
	f := setupSync(t)
	ctx := context.Background()
	mustIssue(t, f.docs, "uncommitted", document.StatusOpen)

	require.NoError(t, f.sync.Check(ctx))
	n, err := f.rows.CountIssues(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	marker, err := f.sync.ReadMarker()
	require.NoError(t, err)
	assert.Empty(t, marker)
}

func TestSync_CheckRunsOnce(t *testing.T) {
	f := setupSync(t)
	ctx := context.Background()
	f.repo.commit(t, "init")
	require.NoError(t, f.sync.Check(ctx))

	// Rows drift; Check stays quiet until invalidated
	mustIssue(t, f.docs, "late", document.StatusOpen)
	f.repo.commit(t, "late")
	require.NoError(t, f.sync.Check(ctx))
	n, _ := f.rows.CountIssues(ctx, "")
	assert.Equal(t, int64(0), n)

	f.sync.Invalidate()
	require.NoError(t, f.sync.Check(ctx))
	n, _ = f.rows.CountIssues(ctx, "")
	assert.Equal(t, int64(1), n)
}

func TestSync_HeadMovedReplicates(t *testing.T) {
	f := setupSync(t)
	ctx := context.Background()
	a := mustIssue(t, f.docs, "a", document.StatusOpen)
	f.repo.commit(t, "a")
	require.NoError(t, f.sync.Check(ctx))

	// Another process deletes a and commits
	require.NoError(t, f.docs.Delete(a))
	b := mustIssue(t, f.docs, "b", document.StatusOpen)
	head := f.repo.commit(t, "swap")

	action, err := f.sync.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActionReplicate, action)

	f.sync.Invalidate()
	require.NoError(t, f.sync.Check(ctx))

	_, err = f.rows.GetIssue(ctx, a.ID)
	assert.ErrorIs(t, err, ErrIssueNotFound)
	_, err = f.rows.GetIssue(ctx, b.ID)
	assert.NoError(t, err)

	marker, _ := f.sync.ReadMarker()
	assert.Equal(t, head, marker)

	commits, err := f.rows.RecentCommits(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, commits, 2, "history is indexed incrementally")
}

func TestSync_ApplyWorkingTree(t *testing.T) {
	f := setupSync(t)
	ctx := context.Background()
	kept := mustIssue(t, f.docs, "kept", document.StatusOpen)
	removed := mustIssue(t, f.docs, "removed", document.StatusOpen)
	commented := mustIssue(t, f.docs, "commented", document.StatusOpen)
	require.NoError(t, f.docs.AddComment(commented, &document.Comment{Content: "old note"}))
	head := f.repo.commit(t, "base")
	require.NoError(t, f.sync.Check(ctx))

	// Uncommitted edits
	kept.Status = document.StatusClosed
	require.NoError(t, f.docs.Save(kept))
	require.NoError(t, f.docs.Delete(removed))
	fresh := mustIssue(t, f.docs, "fresh", document.StatusOpen)
	comments, err := f.docs.Comments(commented, 0)
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.docs.CommentPath(commented.ID, comments[0].ID)))

	f.repo.status = repo.Status{
		New:      []string{"issues/" + string(fresh.ID) + "/issue"},
		Modified: []string{"issues/" + string(kept.ID) + "/issue"},
		Deleted: []string{
			"issues/" + string(removed.ID) + "/issue",
			"issues/" + string(commented.ID) + "/comments/" + string(comments[0].ID),
		},
	}

	action, err := f.sync.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActionApply, action)

	f.sync.Invalidate()
	require.NoError(t, f.sync.Check(ctx))

	r, err := f.rows.GetIssue(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, "closed", r.Status)
	_, err = f.rows.GetIssue(ctx, fresh.ID)
	assert.NoError(t, err)
	_, err = f.rows.GetIssue(ctx, removed.ID)
	assert.ErrorIs(t, err, ErrIssueNotFound)
	r, err = f.rows.GetIssue(ctx, commented.ID)
	require.NoError(t, err)
	assert.Empty(t, r.Comments)

	marker, _ := f.sync.ReadMarker()
	assert.Equal(t, head, marker, "marker keeps the committed revision")

	// Still dirty: the next check re-applies
	action, err = f.sync.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActionApply, action)
}

func TestSync_Advance(t *testing.T) {
	f := setupSync(t)
	ctx := context.Background()
	old := f.repo.commit(t, "base")
	require.NoError(t, f.sync.Check(ctx))

	i := mustIssue(t, f.docs, "new", document.StatusOpen)
	next := f.repo.commit(t, "add")
	require.NoError(t, f.sync.Advance(ctx, old, next, []types.Hash{i.ID}))

	_, err := f.rows.GetIssue(ctx, i.ID)
	assert.NoError(t, err)
	marker, _ := f.sync.ReadMarker()
	assert.Equal(t, next, marker)

	action, err := f.sync.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, action)

	t.Run("DeletedIssue", func(t *testing.T) {
		require.NoError(t, f.docs.Delete(i))
		prev := next
		next = f.repo.commit(t, "delete")
		require.NoError(t, f.sync.Advance(ctx, prev, next, []types.Hash{i.ID}))
		_, err := f.rows.GetIssue(ctx, i.ID)
		assert.ErrorIs(t, err, ErrIssueNotFound)
	})

	t.Run("StaleMarkerIsLeftAlone", func(t *testing.T) {
		other := mustIssue(t, f.docs, "other", document.StatusOpen)
		newer := f.repo.commit(t, "other")
		require.NoError(t, f.sync.Advance(ctx, mockHash("not the marker"), newer, []types.Hash{other.ID}))

		_, err := f.rows.GetIssue(ctx, other.ID)
		assert.ErrorIs(t, err, ErrIssueNotFound)
		marker, _ := f.sync.ReadMarker()
		assert.Equal(t, next, marker)
	})
}

func TestIssueOf(t *testing.T) {
	id := mockHash("x")
	got, ok := issueOf("issues/" + string(id) + "/comments/abc")
	assert.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = issueOf("README.md")
	assert.False(t, ok)
	_, ok = issueOf("issues/empty")
	assert.False(t, ok)
}

func TestSync_CommitsFollowHead(t *testing.T) {
	f := setupSync(t)
	ctx := context.Background()

	_, err := f.sync.Commits(ctx, "", 0)
	assert.ErrorIs(t, err, refs.ErrNoHead)

	a := f.repo.commit(t, "a")
	b := f.repo.commit(t, "b")
	c := f.repo.commit(t, "c")

	// b and c share a timestamp, generation keeps them in order
	got, err := f.sync.Commits(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []types.Hash{c, b, a}, got)

	got, err = f.sync.Commits(ctx, "ann@example.com", 2)
	require.NoError(t, err)
	assert.Equal(t, []types.Hash{c, b}, got)

	got, err = f.sync.Commits(ctx, "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	// HEAD is reset behind the mirror's back and grows a new line
	f.repo.head = a
	d := f.repo.commit(t, "d")
	got, err = f.sync.Commits(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []types.Hash{d, a}, got)

	for _, gone := range []types.Hash{b, c} {
		_, err := f.rows.GetCommit(ctx, gone)
		assert.ErrorIs(t, err, ErrCommitNotFound, "abandoned commits are cleared")
	}
}
