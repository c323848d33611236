package exporter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"hopper/pkg/core"
	"hopper/pkg/storage"
	"hopper/pkg/types"

	"github.com/natefinch/atomic"
)

// Exporter materializes stored objects into the working directory.
type Exporter struct {
	store storage.Store
}

func NewExporter(store storage.Store) *Exporter {
	return &Exporter{store: store}
}

// ExportFile writes the content of a blob to writer.
func (e *Exporter) ExportFile(ctx context.Context, hash types.Hash, writer io.Writer) error {
	blob, err := storage.ReadBlob(ctx, e.store, hash)
	if err != nil {
		return fmt.Errorf("failed to get blob %s: %w", hash, err)
	}
	if _, err := writer.Write(blob.Bytes()); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", hash, err)
	}
	return nil
}

// RestoreCallback is told about every file written by a restore.
type RestoreCallback func(path string, entry core.TreeEntry)

// RestoreFile overwrites targetPath with the blob behind entry.
func (e *Exporter) RestoreFile(ctx context.Context, entry core.TreeEntry, targetPath string) error {
	blob, err := storage.ReadBlob(ctx, e.store, entry.Hash)
	if err != nil {
		return fmt.Errorf("failed to get blob for %s: %w", targetPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", targetPath, err)
	}
	if err := atomic.WriteFile(targetPath, bytes.NewReader(blob.Bytes())); err != nil {
		return fmt.Errorf("failed to write %s: %w", targetPath, err)
	}
	if entry.Mode == core.ModeExecutable {
		return os.Chmod(targetPath, 0755)
	}
	return nil
}

// RestoreTree writes every blob reachable from treeHash below targetDir.
// Files absent from the tree are left alone (partial checkout).
func (e *Exporter) RestoreTree(ctx context.Context, treeHash types.Hash, targetDir string, onRestore RestoreCallback) error {
	// 1. Load the directory listing
	tree, err := storage.ReadTree(ctx, e.store, treeHash)
	if err != nil {
		return fmt.Errorf("failed to get tree %s: %w", treeHash, err)
	}

	// 2. Walk entries, recursing into subdirectories
	for _, entry := range tree.Entries {
		fullPath := filepath.Join(targetDir, entry.Name)

		if entry.IsDir() {
			if err := os.MkdirAll(fullPath, 0755); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", fullPath, err)
			}
			if err := e.RestoreTree(ctx, entry.Hash, fullPath, onRestore); err != nil {
				return err
			}
			continue
		}

		if entry.Mode == core.ModeSymlink || entry.Mode == core.ModeSubmodule {
			// not materialized
			continue
		}
		if err := e.RestoreFile(ctx, entry, fullPath); err != nil {
			return err
		}
		if onRestore != nil {
			onRestore(fullPath, entry)
		}
	}
	return nil
}
