package backup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"hopper/pkg/core"
	"hopper/pkg/storage"
	"hopper/pkg/types"

	"golang.org/x/sync/errgroup"
)

// DefaultParallel bounds concurrent uploads.
const DefaultParallel = 8

// Target is where objects and the ref manifest are pushed.
type Target interface {
	Has(ctx context.Context, hash types.Hash) (bool, error)
	Put(ctx context.Context, obj core.Object) error
	PutRef(ctx context.Context, name string, hash types.Hash) error
}

// Stats summarize one Push.
type Stats struct {
	Objects  int // reachable from the pushed refs
	Uploaded int
	Skipped  int // already present remotely
}

// Uploader copies the object graph of a repository to a Target.
type Uploader struct {
	src      storage.Store
	dst      Target
	parallel int
}

func New(src storage.Store, dst Target, parallel int) *Uploader {
	if parallel <= 0 {
		parallel = DefaultParallel
	}
	return &Uploader{src: src, dst: dst, parallel: parallel}
}

// Push uploads every object reachable from refs, then writes the refs.
// Refs go last so a reader never sees a ref whose objects are missing.
func (u *Uploader) Push(ctx context.Context, refs map[string]types.Hash) (Stats, error) {
	var stats Stats

	// 1. Collect the graph
	seen := make(map[types.Hash]struct{})
	for _, tip := range refs {
		if err := u.collect(ctx, tip, seen); err != nil {
			return stats, err
		}
	}
	stats.Objects = len(seen)

	// 2. Upload what the target lacks
	var uploaded, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.parallel)
	for hash := range seen {
		g.Go(func() error {
			ok, err := u.dst.Has(gctx, hash)
			if err != nil {
				return err
			}
			if ok {
				skipped.Add(1)
				return nil
			}
			obj, err := u.src.Get(gctx, hash)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", hash.Short(), err)
			}
			if err := u.dst.Put(gctx, obj); err != nil {
				return fmt.Errorf("failed to upload %s: %w", hash.Short(), err)
			}
			uploaded.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	stats.Uploaded = int(uploaded.Load())
	stats.Skipped = int(skipped.Load())

	// 3. Ref manifest
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := u.dst.PutRef(ctx, name, refs[name]); err != nil {
			return stats, err
		}
	}
	slog.Info("backup pushed", "refs", len(refs), "objects", stats.Objects, "uploaded", stats.Uploaded)
	return stats, nil
}

// collect adds every commit, tree and blob reachable from tip.
func (u *Uploader) collect(ctx context.Context, tip types.Hash, seen map[types.Hash]struct{}) error {
	queue := []types.Hash{tip}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		c, err := storage.ReadCommit(ctx, u.src, id)
		if err != nil {
			return err
		}
		seen[id] = struct{}{}
		if err := u.collectTree(ctx, c.TreeHash, seen); err != nil {
			return err
		}
		queue = append(queue, c.Parents...)
	}
	return nil
}

func (u *Uploader) collectTree(ctx context.Context, id types.Hash, seen map[types.Hash]struct{}) error {
	if _, ok := seen[id]; ok {
		return nil
	}
	tree, err := storage.ReadTree(ctx, u.src, id)
	if err != nil {
		return err
	}
	seen[id] = struct{}{}
	for _, e := range tree.Entries {
		switch {
		case e.IsDir():
			if err := u.collectTree(ctx, e.Hash, seen); err != nil {
				return err
			}
		case e.Mode == core.ModeSubmodule:
			// points into another repository
		default:
			seen[e.Hash] = struct{}{}
		}
	}
	return nil
}
