package refs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"hopper/pkg/core"
	"hopper/pkg/storage"
	"hopper/pkg/types"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"
	gitstorage "github.com/go-git/go-git/v5/storage"
)

var (
	ErrNoHead                 = errors.New("no HEAD set (repository has no commits yet)")
	ErrBadReference           = errors.New("bad reference")
	ErrAmbiguousReference     = errors.New("ambiguous reference")
	ErrConcurrentModification = errors.New("reference changed concurrently (CAS failed)")
	ErrRefExists              = errors.New("reference already exists")
)

// Manager manages the mutable pointer table: HEAD, branches and tags.
type Manager struct {
	refs    storer.ReferenceStorer
	objects storage.Store
}

func NewManager(refs storer.ReferenceStorer, objects storage.Store) *Manager {
	return &Manager{refs: refs, objects: objects}
}

// Head resolves HEAD to a commit id.
// An unborn branch (fresh repository) returns ErrNoHead.
func (m *Manager) Head() (types.Hash, error) {
	ref, err := storer.ResolveReference(m.refs, plumbing.HEAD)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", ErrNoHead
	}
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	return core.FromPlumbingHash(ref.Hash()), nil
}

// HeadTarget returns the ref name HEAD points at, or HEAD itself when detached.
func (m *Manager) HeadTarget() (plumbing.ReferenceName, error) {
	ref, err := m.refs.Reference(plumbing.HEAD)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", ErrNoHead
	}
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	if ref.Type() == plumbing.SymbolicReference {
		return ref.Target(), nil
	}
	return plumbing.HEAD, nil
}

// CurrentBranch returns the short branch name, or "" when HEAD is detached.
func (m *Manager) CurrentBranch() (string, error) {
	target, err := m.HeadTarget()
	if err != nil {
		return "", err
	}
	if !target.IsBranch() {
		return "", nil
	}
	return target.Short(), nil
}

// Get reads a hash ref. Missing refs return ErrBadReference.
func (m *Manager) Get(name plumbing.ReferenceName) (types.Hash, error) {
	ref, err := storer.ResolveReference(m.refs, name)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", fmt.Errorf("%w: %s", ErrBadReference, name)
	}
	if err != nil {
		return "", err
	}
	return core.FromPlumbingHash(ref.Hash()), nil
}

// Branch creates refs/heads/<name> at a commit.
func (m *Manager) Branch(ctx context.Context, name string, at types.Hash) error {
	return m.create(ctx, plumbing.NewBranchReferenceName(name), at)
}

// Tag creates a lightweight refs/tags/<name> at a commit.
func (m *Manager) Tag(ctx context.Context, name string, at types.Hash) error {
	return m.create(ctx, plumbing.NewTagReferenceName(name), at)
}

func (m *Manager) create(ctx context.Context, name plumbing.ReferenceName, at types.Hash) error {
	if err := name.Validate(); err != nil {
		return fmt.Errorf("invalid ref name %q: %w", name, err)
	}
	if _, err := m.refs.Reference(name); err == nil {
		return fmt.Errorf("%w: %s", ErrRefExists, name)
	}
	if err := m.checkCommit(ctx, at); err != nil {
		return err
	}
	return m.refs.SetReference(plumbing.NewHashReference(name, core.ToPlumbingHash(at)))
}

// SetHead points HEAD at a branch (symbolic) or detaches it at a commit.
func (m *Manager) SetHead(branch plumbing.ReferenceName, detached types.Hash) error {
	var ref *plumbing.Reference
	if branch != "" {
		ref = plumbing.NewSymbolicReference(plumbing.HEAD, branch)
	} else {
		ref = plumbing.NewHashReference(plumbing.HEAD, core.ToPlumbingHash(detached))
	}
	if err := m.refs.SetReference(ref); err != nil {
		return fmt.Errorf("failed to update HEAD: %w", err)
	}
	return nil
}

// Advance moves a ref from old to next with compare-and-swap semantics.
// old == "" asserts that the ref does not exist yet (unborn branch).
func (m *Manager) Advance(name plumbing.ReferenceName, old, next types.Hash) error {
	newRef := plumbing.NewHashReference(name, core.ToPlumbingHash(next))

	var oldRef *plumbing.Reference
	if old != "" {
		oldRef = plumbing.NewHashReference(name, core.ToPlumbingHash(old))
	} else if _, err := m.refs.Reference(name); err == nil {
		// Someone created the branch after we read it as unborn
		return fmt.Errorf("%w: %s was created", ErrConcurrentModification, name)
	}

	err := m.refs.CheckAndSetReference(newRef, oldRef)
	if errors.Is(err, gitstorage.ErrReferenceHasChanged) {
		return fmt.Errorf("%w: %s moved away from %s", ErrConcurrentModification, name, old.Short())
	}
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", name, err)
	}
	return nil
}

// Resolve turns a branch name, tag name, full ref name, HEAD, or a
// (possibly abbreviated) commit id into a commit id.
// Branches win over same-named tags.
func (m *Manager) Resolve(ctx context.Context, ref string) (types.Hash, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == "HEAD" {
		return m.Head()
	}

	candidates := []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(ref),
		plumbing.NewTagReferenceName(ref),
	}
	if strings.HasPrefix(ref, "refs/") {
		candidates = append([]plumbing.ReferenceName{plumbing.ReferenceName(ref)}, candidates...)
	}
	for _, name := range candidates {
		r, err := storer.ResolveReference(m.refs, name)
		if err == nil {
			return core.FromPlumbingHash(r.Hash()), nil
		}
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", err
		}
	}

	// Fall back to a commit id or prefix. Only commits are candidates, so a
	// blob or tree sharing the prefix does not make it ambiguous.
	p, err := storage.CheckPrefix(types.HashPrefix(ref))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBadReference, ref)
	}
	matches, err := m.objects.MatchPrefix(ctx, p)
	if err != nil {
		return "", err
	}
	commits := matches[:0]
	var other core.ObjectType
	for _, h := range matches {
		kind, err := storage.ObjectKind(ctx, m.objects, h)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		if kind == core.TypeCommit {
			commits = append(commits, h)
		} else {
			other = kind
		}
	}
	if len(commits) == 0 && other != "" {
		return "", fmt.Errorf("%w: %s is a %s", ErrBadReference, ref, other)
	}
	full, err := storage.PickUnique(p, commits)
	switch {
	case errors.Is(err, storage.ErrAmbiguousHash):
		return "", fmt.Errorf("%w: %s", ErrAmbiguousReference, ref)
	case errors.Is(err, storage.ErrNotFound):
		return "", fmt.Errorf("%w: %s", ErrBadReference, ref)
	case err != nil:
		return "", err
	}
	return full, nil
}

// checkCommit verifies that id names an existing commit object.
func (m *Manager) checkCommit(ctx context.Context, id types.Hash) error {
	obj, err := m.objects.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: no commit %s", ErrBadReference, id)
	}
	if err != nil {
		return err
	}
	if obj.Type() != core.TypeCommit {
		return fmt.Errorf("%w: %s is a %s", ErrBadReference, id.Short(), obj.Type())
	}
	return nil
}

// Branches lists short branch names in sorted order.
func (m *Manager) Branches() ([]string, error) {
	return m.list(plumbing.ReferenceName.IsBranch)
}

// Tags lists short tag names in sorted order.
func (m *Manager) Tags() ([]string, error) {
	return m.list(plumbing.ReferenceName.IsTag)
}

func (m *Manager) list(keep func(plumbing.ReferenceName) bool) ([]string, error) {
	iter, err := m.refs.IterReferences()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var names []string
	err = iter.ForEach(func(r *plumbing.Reference) error {
		if keep(r.Name()) {
			names = append(names, r.Name().Short())
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}
