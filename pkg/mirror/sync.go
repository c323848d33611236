package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"hopper/pkg/core"
	"hopper/pkg/document"
	"hopper/pkg/refs"
	"hopper/pkg/repo"
	"hopper/pkg/types"

	"github.com/natefinch/atomic"
)

const (
	// MarkerFile holds the commit id the mirror was last replicated from.
	MarkerFile = "LAST_UPDATE"
	// BatchSize bounds the rows held in memory during a replicate.
	BatchSize = 50
	// commitPage is how many commits are read per history step.
	commitPage = 64
)

// Repo is the version-control view the synchronizer needs.
type Repo interface {
	Head() (types.Hash, error)
	Status(ctx context.Context, subpath string) (*repo.Status, error)
	Commits(ctx context.Context, start string, limit int) ([]*core.Commit, error)
}

// Documents is the flat-file view the synchronizer needs.
type Documents interface {
	IssueIDs() ([]types.Hash, error)
	Issue(id types.Hash) (*document.Issue, error)
	Comments(issue *document.Issue, limit int) ([]*document.Comment, error)
}

// State tracks where the last Check left the mirror.
type State int

const (
	StateUnknown State = iota
	StateReplicating
	StateSynced
	StateApplyingWorkingTree
)

func (s State) String() string {
	switch s {
	case StateReplicating:
		return "replicating"
	case StateSynced:
		return "synced"
	case StateApplyingWorkingTree:
		return "applying-working-tree"
	default:
		return "unknown"
	}
}

// Action is the reconciliation step chosen for the current marker and HEAD.
type Action int

const (
	ActionNone Action = iota
	ActionReplicate
	ActionApply
)

// Synchronizer keeps the relational mirror consistent with the flat files.
type Synchronizer struct {
	rows   *Repository
	repo   Repo
	docs   Documents
	marker string

	mu      sync.Mutex
	checked bool
	state   State
}

func NewSynchronizer(rows *Repository, r Repo, docs Documents, markerPath string) *Synchronizer {
	return &Synchronizer{rows: rows, repo: r, docs: docs, marker: markerPath}
}

// MarkerPath returns <cacheDir>/LAST_UPDATE.
func MarkerPath(cacheDir string) string {
	return filepath.Join(cacheDir, MarkerFile)
}

func (s *Synchronizer) Rows() *Repository { return s.rows }

func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Check runs the integrity check once per process. A failed check stays armed.
func (s *Synchronizer) Check(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checked {
		return nil
	}
	if err := s.reconcile(ctx); err != nil {
		return err
	}
	s.checked = true
	return nil
}

// Invalidate re-arms Check, e.g. after the refs changed behind our back.
func (s *Synchronizer) Invalidate() {
	s.mu.Lock()
	s.checked = false
	s.mu.Unlock()
}

// Reconcile decides the step needed right now without running it.
func (s *Synchronizer) Reconcile(ctx context.Context) (Action, error) {
	marker, err := s.ReadMarker()
	if err != nil {
		return ActionNone, err
	}
	if marker == "" {
		return ActionReplicate, nil
	}
	head, err := s.repo.Head()
	if errors.Is(err, refs.ErrNoHead) {
		return ActionReplicate, nil
	}
	if err != nil {
		return ActionNone, err
	}
	if head != marker {
		return ActionReplicate, nil
	}
	st, err := s.repo.Status(ctx, document.IssuesDir)
	if err != nil {
		return ActionNone, err
	}
	if st.IsClean() {
		return ActionNone, nil
	}
	return ActionApply, nil
}

func (s *Synchronizer) reconcile(ctx context.Context) error {
	action, err := s.Reconcile(ctx)
	if err != nil {
		return err
	}
	switch action {
	case ActionReplicate:
		return s.replicate(ctx)
	case ActionApply:
		return s.applyWorkingTree(ctx)
	}
	s.state = StateSynced
	return nil
}

// Replicate rebuilds every row from the issue directories and moves the
// marker to HEAD.
func (s *Synchronizer) Replicate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.replicate(ctx); err != nil {
		return err
	}
	s.checked = true
	return nil
}

func (s *Synchronizer) replicate(ctx context.Context) error {
	s.state = StateReplicating
	slog.Info("replicating mirror")

	ids, err := s.docs.IssueIDs()
	if err != nil {
		return fmt.Errorf("failed to list issues: %w", err)
	}

	pos := 0
	next := func() ([]IssueRow, error) {
		batch := make([]IssueRow, 0, BatchSize)
		for pos < len(ids) && len(batch) < BatchSize {
			id := ids[pos]
			pos++
			row, err := s.load(id)
			if errors.Is(err, document.ErrBadReference) {
				continue
			}
			if err != nil {
				return nil, err
			}
			batch = append(batch, row)
		}
		return batch, nil
	}
	if err := s.rows.ReplaceIssues(ctx, next); err != nil {
		return err
	}
	// HEAD may have moved to a line that does not contain the indexed commits
	if err := s.rows.ClearCommits(ctx); err != nil {
		return fmt.Errorf("failed to clear commits: %w", err)
	}

	head, err := s.repo.Head()
	if errors.Is(err, refs.ErrNoHead) {
		// Nothing committed yet: the rows are right, but there is no revision to pin
		s.state = StateSynced
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.indexHistory(ctx, head); err != nil {
		slog.Warn("failed to index history", "error", err)
	}
	if err := s.WriteMarker(head); err != nil {
		return err
	}
	s.state = StateSynced
	slog.Info("mirror replicated", "issues", len(ids), "head", head.Short())
	return nil
}

// indexHistory projects commits from head back to the first one already
// known. Rows are written oldest first so every parent has its generation.
func (s *Synchronizer) indexHistory(ctx context.Context, head types.Hash) error {
	var pending []*core.Commit
	start := string(head)
walk:
	for start != "" {
		commits, err := s.repo.Commits(ctx, start, commitPage)
		if err != nil {
			return err
		}
		for _, c := range commits {
			_, err := s.rows.GetCommit(ctx, c.ID())
			if err == nil {
				break walk
			}
			if !errors.Is(err, ErrCommitNotFound) {
				return err
			}
			pending = append(pending, c)
		}
		if len(commits) < commitPage {
			break
		}
		start = string(commits[len(commits)-1].FirstParent())
	}
	for i := len(pending) - 1; i >= 0; i-- {
		if _, err := s.rows.IndexCommit(ctx, pending[i]); err != nil {
			return err
		}
	}
	return nil
}

// Commits returns the hashes of the newest n commits reachable from HEAD,
// optionally only those whose author name or email equals author. The
// mirror is re-checked first when HEAD moved since the last sync.
func (s *Synchronizer) Commits(ctx context.Context, author string, n int) ([]types.Hash, error) {
	head, err := s.repo.Head()
	if err != nil {
		return nil, err
	}
	marker, err := s.ReadMarker()
	if err != nil {
		return nil, err
	}
	if marker != head {
		s.Invalidate()
	}
	if err := s.Check(ctx); err != nil {
		return nil, err
	}

	var rows []CommitRow
	if author != "" {
		rows, err = s.rows.FindCommitsByAuthor(ctx, author, n)
	} else {
		rows, err = s.rows.RecentCommits(ctx, n)
	}
	if err != nil {
		return nil, err
	}
	out := make([]types.Hash, len(rows))
	for i, row := range rows {
		out[i] = types.Hash(row.Hash)
	}
	return out, nil
}

// applyWorkingTree mirrors uncommitted issue edits. The marker is left alone
// so the same edits are re-applied until they are committed.
func (s *Synchronizer) applyWorkingTree(ctx context.Context) error {
	s.state = StateApplyingWorkingTree

	st, err := s.repo.Status(ctx, document.IssuesDir)
	if err != nil {
		return err
	}

	upsert := map[types.Hash]struct{}{}
	for _, p := range st.Changed() {
		if id, ok := issueOf(p); ok {
			upsert[id] = struct{}{}
		}
	}
	var gone []types.Hash
	for _, p := range st.Deleted {
		id, ok := issueOf(p)
		if !ok {
			continue
		}
		// A deleted comment file leaves the issue itself in place
		if _, err := s.docs.Issue(id); errors.Is(err, document.ErrBadReference) {
			gone = append(gone, id)
			delete(upsert, id)
		} else {
			upsert[id] = struct{}{}
		}
	}

	rows := make([]IssueRow, 0, len(upsert))
	for id := range upsert {
		row, err := s.load(id)
		if errors.Is(err, document.ErrBadReference) {
			gone = append(gone, id)
			continue
		}
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	for start := 0; start < len(rows); start += BatchSize {
		end := min(start+BatchSize, len(rows))
		if err := s.rows.UpsertIssues(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	if err := s.rows.DeleteIssues(ctx, gone...); err != nil {
		return err
	}
	s.state = StateSynced
	slog.Debug("applied working tree", "upserted", len(rows), "deleted", len(gone))
	return nil
}

// Advance mirrors a commit the tracker made itself. It only moves the marker
// when the mirror was synced against old, otherwise the next Check catches up.
func (s *Synchronizer) Advance(ctx context.Context, old, next types.Hash, changed []types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	marker, err := s.ReadMarker()
	if err != nil {
		return err
	}
	if marker == "" || marker != old {
		s.checked = false
		return nil
	}

	var rows []IssueRow
	var gone []types.Hash
	for _, id := range changed {
		row, err := s.load(id)
		if errors.Is(err, document.ErrBadReference) {
			gone = append(gone, id)
			continue
		}
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if err := s.rows.UpsertIssues(ctx, rows); err != nil {
		return err
	}
	if err := s.rows.DeleteIssues(ctx, gone...); err != nil {
		return err
	}
	if err := s.indexHistory(ctx, next); err != nil {
		slog.Warn("failed to index commit", "commit", next.Short(), "error", err)
	}
	return s.WriteMarker(next)
}

func (s *Synchronizer) load(id types.Hash) (IssueRow, error) {
	issue, err := s.docs.Issue(id)
	if err != nil {
		return IssueRow{}, err
	}
	comments, err := s.docs.Comments(issue, 0)
	if err != nil {
		return IssueRow{}, err
	}
	return NewIssueRow(issue, comments), nil
}

// ReadMarker returns the recorded commit id, or "" when there is none.
func (s *Synchronizer) ReadMarker() (types.Hash, error) {
	data, err := os.ReadFile(s.marker)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read marker: %w", err)
	}
	return types.Hash(strings.TrimSpace(string(data))), nil
}

// WriteMarker atomically records id as the last synchronized commit.
func (s *Synchronizer) WriteMarker(id types.Hash) error {
	if err := os.MkdirAll(filepath.Dir(s.marker), 0755); err != nil {
		return err
	}
	if err := atomic.WriteFile(s.marker, strings.NewReader(string(id))); err != nil {
		return fmt.Errorf("failed to write marker: %w", err)
	}
	return nil
}

// issueOf extracts the issue id from "issues/<id>/...".
func issueOf(p string) (types.Hash, bool) {
	parts := strings.SplitN(path.Clean(p), "/", 3)
	if len(parts) < 2 || parts[0] != document.IssuesDir {
		return "", false
	}
	id := types.Hash(parts[1])
	return id, id.IsValid()
}
