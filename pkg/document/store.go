package document

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hopper/pkg/lock"
	"hopper/pkg/types"

	"github.com/natefinch/atomic"
)

const (
	IssuesDir   = "issues"
	IssueFile   = "issue"
	CommentsDir = "comments"

	maxIDAttempts = 16
)

// Store reads and writes documents below a tracker root.
type Store struct {
	root    string
	clock   *Clock
	lockOpt lock.Options
}

type Option func(*Store)

// WithClock injects the time source used for created/updated/timestamp.
func WithClock(c *Clock) Option { return func(s *Store) { s.clock = c } }

// WithLockOptions tunes the advisory file locks.
func WithLockOptions(o lock.Options) Option { return func(s *Store) { s.lockOpt = o } }

func NewStore(root string, opts ...Option) *Store {
	s := &Store{root: root, clock: NewClock(nil), lockOpt: lock.Options{Timeout: lock.DefaultWait}}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Root() string { return s.root }

// IssuesPath is <root>/issues.
func (s *Store) IssuesPath() string { return filepath.Join(s.root, IssuesDir) }

// IssueDir is <root>/issues/<id>.
func (s *Store) IssueDir(id types.Hash) string { return filepath.Join(s.IssuesPath(), string(id)) }

// IssuePath is the issue's JSON file.
func (s *Store) IssuePath(id types.Hash) string { return filepath.Join(s.IssueDir(id), IssueFile) }

// CommentPath is the JSON file of one comment.
func (s *Store) CommentPath(issue, comment types.Hash) string {
	return filepath.Join(s.IssueDir(issue), CommentsDir, string(comment))
}

// RelIssueDir is the slash path of an issue directory relative to the root.
func RelIssueDir(id types.Hash) string { return IssuesDir + "/" + string(id) }

// ---------------------------------------------------------------------------
// Issues
// ---------------------------------------------------------------------------

// Save persists an issue. The first save assigns Created, Updated and the
// identifier and creates issues/<id>/comments/. Later saves only advance
// Updated and rewrite the file. On error the issue keeps its previous state.
func (s *Store) Save(issue *Issue) error {
	status := issue.Status
	if status == "" {
		status = StatusOpen
	}
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if issue.IsNew() {
		return s.create(issue, status)
	}
	return s.update(issue, status)
}

func (s *Store) create(issue *Issue, status Status) error {
	if err := os.MkdirAll(s.IssuesPath(), 0755); err != nil {
		return fmt.Errorf("failed to create issues dir: %w", err)
	}

	candidate := *issue
	candidate.Status = status
	candidate.Author = candidate.Author.WithAvatar()
	now := s.clock.Now()

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		// 1. Compute everything locally
		candidate.Created, candidate.Updated = now, now
		data, err := MarshalIssue(&candidate)
		if err != nil {
			return err
		}
		id := hashOf(data)

		// 2. Claim the directory. EEXIST means another writer took this id.
		dir := s.IssueDir(id)
		if err := os.Mkdir(dir, 0755); err != nil {
			if os.IsExist(err) {
				now = s.clock.Now()
				continue
			}
			return fmt.Errorf("failed to create issue dir: %w", err)
		}

		// 3. Write; undo the claim on failure
		err = os.Mkdir(filepath.Join(dir, CommentsDir), 0755)
		if err == nil {
			err = s.writeLocked(s.IssuePath(id), data)
		}
		if err != nil {
			os.RemoveAll(dir)
			return fmt.Errorf("failed to save issue: %w", err)
		}

		// 4. Only now does the caller's value change
		candidate.ID = id
		*issue = candidate
		return nil
	}
	return fmt.Errorf("failed to allocate a unique issue id after %d attempts", maxIDAttempts)
}

func (s *Store) update(issue *Issue, status Status) error {
	if _, err := os.Stat(s.IssueDir(issue.ID)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: issue %s", ErrBadReference, issue.ID)
		}
		return err
	}

	candidate := *issue
	candidate.Status = status
	candidate.Author = candidate.Author.WithAvatar()
	candidate.Updated = s.clock.After(issue.Updated)
	data, err := MarshalIssue(&candidate)
	if err != nil {
		return err
	}
	if err := s.writeLocked(s.IssuePath(issue.ID), data); err != nil {
		return fmt.Errorf("failed to save issue %s: %w", issue.ID.Short(), err)
	}
	*issue = candidate
	return nil
}

// Issue reads a saved issue by full identifier.
func (s *Store) Issue(id types.Hash) (*Issue, error) {
	data, err := s.readLocked(s.IssuePath(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: issue %s", ErrBadReference, id)
	}
	if err != nil {
		return nil, err
	}
	return UnmarshalIssue(id, data)
}

// IssueIDs lists every issue directory, sorted.
func (s *Store) IssueIDs() ([]types.Hash, error) {
	return listIDs(s.IssuesPath(), true)
}

// Delete removes the issue directory with all its comments.
func (s *Store) Delete(issue *Issue) error {
	if issue.IsNew() {
		return ErrUnsaved
	}
	if err := os.RemoveAll(s.IssueDir(issue.ID)); err != nil {
		return fmt.Errorf("failed to delete issue %s: %w", issue.ID.Short(), err)
	}
	slog.Debug("deleted issue", "id", issue.ID.Short())
	return nil
}

// ---------------------------------------------------------------------------
// Comments
// ---------------------------------------------------------------------------

// AddComment stamps, identifies and stores a comment under its issue.
func (s *Store) AddComment(issue *Issue, c *Comment) error {
	if issue.IsNew() {
		return ErrUnsaved
	}
	dir := filepath.Join(s.IssueDir(issue.ID), CommentsDir)
	if _, err := os.Stat(s.IssueDir(issue.ID)); err != nil {
		return fmt.Errorf("%w: issue %s", ErrBadReference, issue.ID)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	candidate := *c
	candidate.Author = candidate.Author.WithAvatar()
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		candidate.Timestamp = s.clock.Now()
		id, err := CommentID(&candidate)
		if err != nil {
			return err
		}
		candidate.ID = id
		data, err := MarshalComment(&candidate)
		if err != nil {
			return err
		}

		path := s.CommentPath(issue.ID, id)
		taken := false
		err = lock.WithLock(path, s.lockOpt, func() error {
			if _, err := os.Stat(path); err == nil {
				taken = true
				return nil
			}
			return atomic.WriteFile(path, bytes.NewReader(data))
		})
		if err != nil {
			return fmt.Errorf("failed to save comment: %w", err)
		}
		if taken {
			continue
		}
		*c = candidate
		return nil
	}
	return fmt.Errorf("failed to allocate a unique comment id after %d attempts", maxIDAttempts)
}

// Comment reads one comment of an issue.
func (s *Store) Comment(issue, id types.Hash) (*Comment, error) {
	data, err := s.readLocked(s.CommentPath(issue, id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: comment %s", ErrBadReference, id)
	}
	if err != nil {
		return nil, err
	}
	c, err := UnmarshalComment(data)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return c, nil
}

// Comments returns the issue's comments oldest first. limit > 0 keeps
// the earliest limit comments.
func (s *Store) Comments(issue *Issue, limit int) ([]*Comment, error) {
	if issue.IsNew() {
		return nil, nil
	}
	ids, err := listIDs(filepath.Join(s.IssueDir(issue.ID), CommentsDir), false)
	if err != nil {
		return nil, err
	}

	out := make([]*Comment, 0, len(ids))
	for _, id := range ids {
		c, err := s.Comment(issue.ID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Identifier resolution
// ---------------------------------------------------------------------------

// ResolveIssueID expands a full or partial issue identifier.
func (s *Store) ResolveIssueID(fragment string) (types.Hash, error) {
	return resolve(s.IssuesPath(), fragment, true)
}

// ResolveCommentID expands a comment identifier within one issue.
func (s *Store) ResolveCommentID(issue types.Hash, fragment string) (types.Hash, error) {
	return resolve(filepath.Join(s.IssueDir(issue), CommentsDir), fragment, false)
}

// resolve is a literal prefix scan over the directory listing, the ground
// truth for which documents exist.
func resolve(dir, fragment string, wantDir bool) (types.Hash, error) {
	p, ok := types.HashPrefix(fragment).Normalize()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrBadReference, fragment)
	}

	if p.IsFull() {
		info, err := os.Stat(filepath.Join(dir, string(p)))
		if err != nil || info.IsDir() != wantDir {
			return "", fmt.Errorf("%w: %s", ErrBadReference, p)
		}
		return types.Hash(p), nil
	}

	ids, err := listIDs(dir, wantDir)
	if err != nil {
		return "", err
	}
	var matches []types.Hash
	for _, id := range ids {
		if strings.HasPrefix(string(id), string(p)) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrBadReference, p)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %d documents", ErrAmbiguousReference, p, len(matches))
	}
}

// listIDs returns entries of dir named by a full hash. A missing dir is empty.
func listIDs(dir string, wantDir bool) ([]types.Hash, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []types.Hash
	for _, e := range entries {
		h := types.Hash(e.Name())
		if e.IsDir() == wantDir && h.IsValid() {
			ids = append(ids, h)
		}
	}
	return ids, nil
}

// ---------------------------------------------------------------------------
// Locked file I/O
// ---------------------------------------------------------------------------

func (s *Store) writeLocked(path string, data []byte) error {
	return lock.WithLock(path, s.lockOpt, func() error {
		return atomic.WriteFile(path, bytes.NewReader(data))
	})
}

func (s *Store) readLocked(path string) ([]byte, error) {
	if err := lock.Wait(path, s.lockOpt.Timeout); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}
