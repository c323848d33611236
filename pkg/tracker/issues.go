package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hopper/pkg/core"
	"hopper/pkg/document"
	"hopper/pkg/lock"
	"hopper/pkg/query"
	"hopper/pkg/refs"
	"hopper/pkg/repo"
	"hopper/pkg/storage"
	"hopper/pkg/types"
)

// maxCommitAttempts bounds retries after losing a ref race.
const maxCommitAttempts = 3

func lockOptions(timeout time.Duration) lock.Options {
	return lock.Options{Timeout: timeout, StaleAfter: 10 * time.Minute}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Issue loads an issue by full or abbreviated id.
func (t *Tracker) Issue(ctx context.Context, fragment string) (*document.Issue, error) {
	id, err := t.docs.ResolveIssueID(fragment)
	if err != nil {
		return nil, err
	}
	return t.docs.Issue(id)
}

// Comment loads a comment of issue by full or abbreviated id.
func (t *Tracker) Comment(ctx context.Context, issue *document.Issue, fragment string) (*document.Comment, error) {
	id, err := t.docs.ResolveCommentID(issue.ID, fragment)
	if err != nil {
		return nil, err
	}
	return t.docs.Comment(issue.ID, id)
}

// Comments returns the issue's comments oldest first.
func (t *Tracker) Comments(ctx context.Context, issue *document.Issue, limit int) ([]*document.Comment, error) {
	return t.docs.Comments(issue, limit)
}

func (t *Tracker) Issues(ctx context.Context, opts query.Options) (*query.Result, error) {
	return t.query.Select(ctx, opts)
}

func (t *Tracker) Search(ctx context.Context, text, status string, n int) ([]*document.Issue, error) {
	return t.query.Search(ctx, text, status, n)
}

func (t *Tracker) Count(ctx context.Context, status string) (int, error) {
	return t.query.Count(ctx, status)
}

// History returns the latest n commits of the current branch, newest first.
// A non-empty author keeps the commits whose author name or email equals it.
// The mirror's commit table answers when it is available.
func (t *Tracker) History(ctx context.Context, author string, n int) ([]*core.Commit, error) {
	if t.sync != nil {
		hashes, err := t.sync.Commits(ctx, author, n)
		if errors.Is(err, refs.ErrNoHead) {
			return nil, nil
		}
		if err == nil {
			out := make([]*core.Commit, 0, len(hashes))
			for _, h := range hashes {
				c, err := storage.ReadCommit(ctx, t.repo.Store(), h)
				if err != nil {
					return nil, err
				}
				out = append(out, c)
			}
			return out, nil
		}
		slog.Warn("mirror history unavailable, walking the repository", "error", err)
	}

	limit := n
	if author != "" {
		limit = 0
	}
	commits, err := t.repo.Commits(ctx, "", limit)
	if errors.Is(err, refs.ErrNoHead) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := commits[:0]
	for _, c := range commits {
		if author != "" && c.Author.Name != author && c.Author.Email != author {
			continue
		}
		out = append(out, c)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out, nil
}

// Commits walks history from any ref.
func (t *Tracker) Commits(ctx context.Context, start string, n int) ([]*core.Commit, error) {
	return t.repo.Commits(ctx, start, n)
}

// Checkout restores a ref into the working tree (below subpath when set).
func (t *Tracker) Checkout(ctx context.Context, ref, subpath string) error {
	if err := t.repo.Checkout(ctx, ref, subpath); err != nil {
		return err
	}
	t.Invalidate()
	return nil
}

// Status lists uncommitted issue changes.
func (t *Tracker) Status(ctx context.Context) (*repo.Status, error) {
	return t.repo.Status(ctx, document.IssuesDir)
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

// CreateIssue saves a new issue. A missing author defaults to the tracker user.
func (t *Tracker) CreateIssue(ctx context.Context, issue *document.Issue) error {
	if !issue.IsNew() {
		return fmt.Errorf("issue %s already exists", issue.ID.Short())
	}
	if issue.Author.Name == "" && issue.Author.Email == "" {
		issue.Author = t.user()
	}
	if err := t.docs.Save(issue); err != nil {
		return err
	}
	slog.Info("created issue", "id", issue.ID.Short(), "title", issue.Title)
	return t.record(ctx, fmt.Sprintf("Create issue %s: %s", issue.ID.Short(), issue.Title), issue.ID)
}

// SaveIssue writes edits to an existing issue.
func (t *Tracker) SaveIssue(ctx context.Context, issue *document.Issue) error {
	if issue.IsNew() {
		return t.CreateIssue(ctx, issue)
	}
	if err := t.docs.Save(issue); err != nil {
		return err
	}
	return t.record(ctx, fmt.Sprintf("Update issue %s", issue.ID.Short()), issue.ID)
}

// CloseIssue sets the status to closed and leaves an event comment.
func (t *Tracker) CloseIssue(ctx context.Context, issue *document.Issue, by document.Author) error {
	return t.setStatus(ctx, issue, document.StatusClosed, by)
}

// ReopenIssue sets the status back to open and leaves an event comment.
func (t *Tracker) ReopenIssue(ctx context.Context, issue *document.Issue, by document.Author) error {
	return t.setStatus(ctx, issue, document.StatusOpen, by)
}

func (t *Tracker) setStatus(ctx context.Context, issue *document.Issue, status document.Status, by document.Author) error {
	if issue.IsNew() {
		return document.ErrUnsaved
	}
	if issue.Status == status {
		return nil
	}
	if by.Name == "" && by.Email == "" {
		by = t.user()
	}

	prev := issue.Status
	issue.Status = status
	if err := t.docs.Save(issue); err != nil {
		issue.Status = prev
		return err
	}
	event := &document.Comment{
		Author:    by,
		Event:     true,
		EventData: map[string]string{"status": string(status), "previous": string(prev)},
	}
	if err := t.docs.AddComment(issue, event); err != nil {
		return err
	}

	verb := "Close"
	if status == document.StatusOpen {
		verb = "Reopen"
	}
	return t.record(ctx, fmt.Sprintf("%s issue %s", verb, issue.ID.Short()), issue.ID)
}

// AddComment attaches a comment to an issue.
func (t *Tracker) AddComment(ctx context.Context, issue *document.Issue, c *document.Comment) error {
	if c.Author.Name == "" && c.Author.Email == "" {
		c.Author = t.user()
	}
	if err := t.docs.AddComment(issue, c); err != nil {
		return err
	}
	return t.record(ctx, fmt.Sprintf("Comment on issue %s", issue.ID.Short()), issue.ID)
}

// DeleteIssue removes an issue and its comments.
func (t *Tracker) DeleteIssue(ctx context.Context, issue *document.Issue) error {
	if err := t.docs.Delete(issue); err != nil {
		return err
	}
	return t.record(ctx, fmt.Sprintf("Delete issue %s", issue.ID.Short()), issue.ID)
}

func (t *Tracker) user() document.Author {
	return document.Author{Name: t.settings.Name, Email: t.settings.Email}
}

// record commits the touched issue directories when autocommit is on and
// brings the mirror along. Without autocommit the mirror picks the change
// up from the working tree on the next query.
func (t *Tracker) record(ctx context.Context, message string, ids ...types.Hash) error {
	if !t.settings.Autocommit {
		t.Invalidate()
		return nil
	}

	sig := core.Signature{Name: t.settings.Name, Email: t.settings.Email}
	if sig.Name == "" {
		sig = scaffoldAuthor
	}

	for attempt := 1; ; attempt++ {
		for _, id := range ids {
			if _, err := t.repo.Add(ctx, document.RelIssueDir(id), repo.AddOptions{Recursive: true, IncludeNew: true}); err != nil {
				return fmt.Errorf("failed to stage issue %s: %w", id.Short(), err)
			}
		}

		sig.When = time.Now()
		c, err := t.repo.Commit(ctx, repo.CommitOptions{Author: sig, Message: message})
		switch {
		case err == nil:
			t.advanceMirror(ctx, c.FirstParent(), c.ID(), ids)
			return nil
		case errors.Is(err, repo.ErrNothingToCommit):
			return nil
		case errors.Is(err, refs.ErrConcurrentModification) && attempt < maxCommitAttempts:
			slog.Warn("ref moved during commit, retrying", "attempt", attempt)
			continue
		default:
			t.Invalidate()
			return fmt.Errorf("failed to commit: %w", err)
		}
	}
}

func (t *Tracker) advanceMirror(ctx context.Context, old, next types.Hash, ids []types.Hash) {
	if t.sync == nil {
		return
	}
	if err := t.sync.Advance(ctx, old, next, ids); err != nil {
		slog.Warn("failed to update mirror", "commit", next.Short(), "error", err)
		t.sync.Invalidate()
	}
}
