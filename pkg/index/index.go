// pkg/index/index.go
package index

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"hopper/pkg/types"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/natefinch/atomic"
)

// Entry is one staged change relative to HEAD.
type Entry struct {
	Path     string            `cbor:"p"`
	Hash     types.Hash        `cbor:"h,omitempty"` // blob id; empty for removals
	Mode     filemode.FileMode `cbor:"m,omitempty"`
	Removed  bool              `cbor:"r,omitempty"`
	StagedAt time.Time         `cbor:"t"`
}

// Index is the stage: a delta of additions, modifications and removals
// that the next commit overlays onto the HEAD tree.
type Index struct {
	path    string           // physical file, e.g. .git/hopper-stage
	Entries map[string]Entry `cbor:"e"`
	mu      sync.RWMutex
}

// NewIndex loads the stage at indexPath, or starts an empty one.
func NewIndex(indexPath string) (*Index, error) {
	idx := &Index{
		path:    indexPath,
		Entries: make(map[string]Entry),
	}

	data, err := os.ReadFile(indexPath)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stage: %w", err)
	}
	if len(data) == 0 {
		return idx, nil
	}
	if err := dm.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("corrupted stage file %s: %w", indexPath, err)
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]Entry)
	}
	return idx, nil
}

// Add stages new content for a path.
func (i *Index) Add(path string, hash types.Hash, mode filemode.FileMode) {
	key := CleanPath(path)
	i.mu.Lock()
	defer i.mu.Unlock()

	i.Entries[key] = Entry{
		Path:     key,
		Hash:     hash,
		Mode:     mode,
		StagedAt: time.Now(),
	}
}

// Delete stages the removal of a tracked path.
func (i *Index) Delete(path string) {
	key := CleanPath(path)
	i.mu.Lock()
	defer i.mu.Unlock()

	i.Entries[key] = Entry{
		Path:     key,
		Removed:  true,
		StagedAt: time.Now(),
	}
}

// Remove drops a path from the stage entirely (unstage).
func (i *Index) Remove(path string) {
	key := CleanPath(path)
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.Entries, key)
}

// Save persists the stage atomically.
func (i *Index) Save() error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	data, err := em.Marshal(i)
	if err != nil {
		return fmt.Errorf("failed to encode stage: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(i.path), 0755); err != nil {
		return err
	}
	return atomic.WriteFile(i.path, bytes.NewReader(data))
}

// Snapshot returns a copy of the entries for lock-free reading.
func (i *Index) Snapshot() map[string]Entry {
	i.mu.RLock()
	defer i.mu.RUnlock()

	snap := make(map[string]Entry, len(i.Entries))
	maps.Copy(snap, i.Entries)
	return snap
}

// Paths returns the staged paths in sorted order.
func (i *Index) Paths() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	paths := make([]string, 0, len(i.Entries))
	for p := range i.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (i *Index) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Entries = make(map[string]Entry)
}

func (i *Index) IsEmpty() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.Entries) == 0
}

// CleanPath normalizes a repository-relative path to slash form.
func CleanPath(p string) string {
	return strings.TrimPrefix(filepath.ToSlash(filepath.Clean(p)), "/")
}
