package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"hopper/pkg/core"
	"hopper/pkg/index"
	"hopper/pkg/refs"
	"hopper/pkg/storage"
	"hopper/pkg/types"

	"github.com/go-git/go-git/v5/plumbing"
)

// CommitOptions describe the commit to create.
type CommitOptions struct {
	Author    core.Signature
	Committer core.Signature // defaults to Author
	Message   string
	Parents   []types.Hash // defaults to the current ref value
}

// Commit snapshots the stage on top of the current ref value and advances
// the ref with compare-and-swap. If another process moved the ref in the
// meantime it returns refs.ErrConcurrentModification and keeps the stage,
// so calling Commit again rebuilds on the new tip.
func (r *Repository) Commit(ctx context.Context, opts CommitOptions) (*core.Commit, error) {
	if r.stage.IsEmpty() {
		return nil, ErrNothingToCommit
	}
	if opts.Message == "" {
		return nil, errors.New("commit message cannot be empty")
	}

	// 1. Read the ref we are going to move
	target, err := r.refs.HeadTarget()
	if err != nil {
		return nil, err
	}
	old, err := r.refs.Get(target)
	switch {
	case err == nil:
	case errors.Is(err, refs.ErrBadReference) && target.IsBranch():
		old = "" // unborn branch
	default:
		return nil, err
	}

	baseTree := types.Hash("")
	if old != "" {
		parent, err := storage.ReadCommit(ctx, r.store, old)
		if err != nil {
			return nil, fmt.Errorf("failed to read parent %s: %w", old.Short(), err)
		}
		baseTree = parent.TreeHash
	}

	// 2. Tree = base + stage
	changes := r.stage.Snapshot()
	treeHash, err := r.builder.Build(ctx, baseTree, changes)
	if err != nil {
		return nil, fmt.Errorf("failed to build tree: %w", err)
	}
	if treeHash == baseTree {
		// Every staged change matched the tip already
		r.dropStaged(changes)
		return nil, ErrNothingToCommit
	}

	// 3. Commit object
	parents := opts.Parents
	if parents == nil && old != "" {
		parents = []types.Hash{old}
	}
	commit, err := core.NewCommit(treeHash, parents, opts.Author, opts.Committer, opts.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to create commit object: %w", err)
	}
	if err := r.store.Put(ctx, commit); err != nil {
		return nil, fmt.Errorf("failed to store commit: %w", err)
	}

	// 4. Compare-and-swap the ref
	if r.beforeAdvance != nil {
		r.beforeAdvance()
	}
	if err := r.refs.Advance(target, old, commit.ID()); err != nil {
		return nil, err
	}

	// 5. Clean up. The commit is durable, so failures here only warn.
	r.dropStaged(changes)
	if err := r.syncGitIndex(ctx, treeHash, changes); err != nil {
		slog.Warn("failed to sync git index", "commit", commit.ID().Short(), "error", err)
	}
	slog.Debug("committed", "ref", target.String(), "commit", commit.ID().Short(), "paths", len(changes))
	return commit, nil
}

// dropStaged unstages the given entries unless they were re-staged since.
func (r *Repository) dropStaged(done map[string]index.Entry) {
	current := r.stage.Snapshot()
	for p, e := range done {
		if cur, ok := current[p]; ok && cur.Hash == e.Hash && cur.Removed == e.Removed {
			r.stage.Remove(p)
		}
	}
	if err := r.saveStage(); err != nil {
		slog.Warn("failed to clear stage", "error", err)
	}
}

// branchRef returns the branch a ref argument names, when that branch
// exists. "" and "HEAD" name the branch HEAD is attached to, if any.
// Both short names and full refs/heads/ names are accepted.
func (r *Repository) branchRef(name string) (plumbing.ReferenceName, bool) {
	var ref plumbing.ReferenceName
	switch name = strings.TrimSpace(name); {
	case name == "" || name == "HEAD":
		target, err := r.refs.HeadTarget()
		if err != nil || !target.IsBranch() {
			return "", false
		}
		ref = target
	case plumbing.ReferenceName(name).IsBranch():
		ref = plumbing.ReferenceName(name)
	default:
		ref = plumbing.NewBranchReferenceName(name)
	}
	if _, err := r.refs.Get(ref); err != nil {
		return "", false
	}
	return ref, true
}
