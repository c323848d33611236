// Package repo is the Object Store Layer facade: a git repository driven
// through primitive object and ref operations instead of the git binary.
package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"hopper/pkg/core"
	"hopper/pkg/ignore"
	"hopper/pkg/index"
	"hopper/pkg/lock"
	"hopper/pkg/refs"
	"hopper/pkg/storage"
	"hopper/pkg/storage/disk"
	"hopper/pkg/treebuilder"
	"hopper/pkg/types"

	git "github.com/go-git/go-git/v5"
)

var (
	ErrAlreadyInitialized = errors.New("repository already initialized")
	ErrNotInitialized     = errors.New("not a hopper repository")
	ErrNothingToCommit    = errors.New("nothing to commit")
	ErrBareRepository     = errors.New("operation needs a working tree")
)

const (
	GitDirName = ".git"
	StageFile  = "hopper-stage"

	// GitIndexFile is git's own index, kept in step with each commit.
	GitIndexFile = "index"
)

// Repository owns a working directory, an object database and a ref table.
type Repository struct {
	root   string // working tree, "" when bare
	gitDir string

	disk    *disk.Adapter
	store   storage.Store // disk, possibly decorated
	refs    *refs.Manager
	stage   *index.Index
	builder *treebuilder.Builder
	ignore  *ignore.Matcher
	lockOpt lock.Options

	// test hook run between reading the ref and the compare-and-swap
	beforeAdvance func()
}

// Option customizes Open.
type Option func(*Repository)

// WithStoreDecorator wraps the object database, e.g. with the Redis cache.
func WithStoreDecorator(wrap func(storage.Store) storage.Store) Option {
	return func(r *Repository) { r.store = wrap(r.store) }
}

// WithLockTimeout bounds waits on advisory locks.
func WithLockTimeout(d time.Duration) Option {
	return func(r *Repository) { r.lockOpt.Timeout = d }
}

// InitOptions control Init.
type InitOptions struct {
	Bare bool
}

// Init creates the object database and ref storage at path.
// HEAD points at the unborn branch master.
func Init(path string, opts InitOptions, options ...Option) (*Repository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if looksInitialized(abs) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, abs)
	}
	if _, err := git.PlainInit(abs, opts.Bare); err != nil {
		if errors.Is(err, git.ErrRepositoryAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, abs)
		}
		return nil, fmt.Errorf("failed to init repository: %w", err)
	}
	return Open(abs, options...)
}

// Open attaches to an existing repository, bare or with a working tree.
func Open(path string, options ...Option) (*Repository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	r := &Repository{lockOpt: lock.Options{Timeout: lock.DefaultWait, StaleAfter: 10 * time.Minute}}
	switch {
	case isDir(filepath.Join(abs, GitDirName)):
		r.root = abs
		r.gitDir = filepath.Join(abs, GitDirName)
	case isBareLayout(abs):
		r.gitDir = abs
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotInitialized, abs)
	}

	// 1. Object database
	r.disk, err = disk.NewAdapter(r.gitDir)
	if err != nil {
		return nil, err
	}
	r.store = r.disk
	for _, opt := range options {
		opt(r)
	}

	// 2. Refs share go-git's storer so CAS goes through its file locking
	r.refs = refs.NewManager(r.disk.Storage(), r.store)
	r.builder = treebuilder.NewBuilder(r.store)

	// 3. Stage and ignore rules
	if err := lock.Wait(r.stagePath(), r.lockOpt.Timeout); err != nil {
		return nil, err
	}
	r.stage, err = index.NewIndex(r.stagePath())
	if err != nil {
		return nil, err
	}
	if r.root != "" {
		r.ignore, err = ignore.NewMatcher(r.root)
		if err != nil {
			return nil, fmt.Errorf("failed to load ignore rules: %w", err)
		}
	}
	return r, nil
}

func looksInitialized(abs string) bool {
	return isDir(filepath.Join(abs, GitDirName)) || isBareLayout(abs)
}

func isBareLayout(abs string) bool {
	_, err := os.Stat(filepath.Join(abs, "HEAD"))
	return err == nil && isDir(filepath.Join(abs, "objects"))
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func (r *Repository) Root() string          { return r.root }
func (r *Repository) GitDir() string        { return r.gitDir }
func (r *Repository) IsBare() bool          { return r.root == "" }
func (r *Repository) Store() storage.Store  { return r.store }
func (r *Repository) Refs() *refs.Manager   { return r.refs }
func (r *Repository) StagedPaths() []string { return r.stage.Paths() }

func (r *Repository) stagePath() string { return filepath.Join(r.gitDir, StageFile) }

// saveStage persists the stage under its advisory lock.
func (r *Repository) saveStage() error {
	return lock.WithLock(r.stagePath(), r.lockOpt, r.stage.Save)
}

// Head returns the commit HEAD points at.
func (r *Repository) Head() (types.Hash, error) {
	return r.refs.Head()
}

// HeadTree returns the root tree of HEAD, or "" on an unborn branch.
func (r *Repository) HeadTree(ctx context.Context) (types.Hash, error) {
	head, err := r.refs.Head()
	if errors.Is(err, refs.ErrNoHead) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	c, err := storage.ReadCommit(ctx, r.store, head)
	if err != nil {
		return "", err
	}
	return c.TreeHash, nil
}

// Resolve turns a branch, tag or (partial) commit id into a commit id.
func (r *Repository) Resolve(ctx context.Context, ref string) (types.Hash, error) {
	return r.refs.Resolve(ctx, ref)
}

// Branch creates a branch at a commit (HEAD when at is empty).
func (r *Repository) Branch(ctx context.Context, name string, at string) error {
	id, err := r.Resolve(ctx, at)
	if err != nil {
		return err
	}
	return r.refs.Branch(ctx, name, id)
}

// Tag creates a lightweight tag at a commit (HEAD when at is empty).
func (r *Repository) Tag(ctx context.Context, name string, at string) error {
	id, err := r.Resolve(ctx, at)
	if err != nil {
		return err
	}
	return r.refs.Tag(ctx, name, id)
}

// Commits walks first parents from start (HEAD when empty), newest first.
// limit <= 0 means no limit.
func (r *Repository) Commits(ctx context.Context, start string, limit int) ([]*core.Commit, error) {
	id, err := r.Resolve(ctx, start)
	if err != nil {
		return nil, err
	}

	var out []*core.Commit
	for id != "" && (limit <= 0 || len(out) < limit) {
		c, err := storage.ReadCommit(ctx, r.store, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read commit %s: %w", id.Short(), err)
		}
		out = append(out, c)
		id = c.FirstParent()
	}
	return out, nil
}

// Cmd runs the git binary for operations not reimplemented here (merge, gc).
func (r *Repository) Cmd(ctx context.Context, args ...string) (string, error) {
	gitArgs := append([]string{"--git-dir", r.gitDir}, args...)
	cmd := exec.CommandContext(ctx, "git", gitArgs...)
	if r.root != "" {
		cmd.Dir = r.root
	} else {
		cmd.Dir = r.gitDir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

// rel converts a user path (absolute or root relative) into a clean slash path.
// The root itself becomes "".
func (r *Repository) rel(p string) (string, error) {
	if p == "" || p == "." {
		return "", nil
	}
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(r.root, p)
		if err != nil {
			return "", err
		}
		p = rel
	}
	clean := index.CleanPath(p)
	if clean == "." {
		return "", nil
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %s is outside the repository", p)
	}
	return clean, nil
}
