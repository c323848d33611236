package exporter

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"hopper/pkg/core"
	"hopper/pkg/types"
)

// PrintObject pretty-prints any stored object, like `git cat-file -p`.
func (e *Exporter) PrintObject(ctx context.Context, hash types.Hash, w io.Writer) error {
	obj, err := e.store.Get(ctx, hash)
	if err != nil {
		return err
	}
	return PrintStructure(obj, w)
}

// PrintStructure dispatches on the object type. Blobs are written raw.
func PrintStructure(obj core.Object, w io.Writer) error {
	switch obj.Type() {
	case core.TypeCommit:
		c, err := core.DecodeCommit(obj)
		if err != nil {
			return err
		}
		return printCommit(c, w)
	case core.TypeTree:
		t, err := core.DecodeTree(obj)
		if err != nil {
			return err
		}
		return printTree(t, w)
	case core.TypeBlob:
		_, err := w.Write(obj.Bytes())
		return err
	default:
		return fmt.Errorf("unknown object type: %s", obj.Type())
	}
}

func printCommit(c *core.Commit, w io.Writer) error {
	fmt.Fprintf(w, "tree      %s\n", c.TreeHash)
	for _, p := range c.Parents {
		fmt.Fprintf(w, "parent    %s\n", p)
	}
	fmt.Fprintf(w, "author    %s %s\n", c.Author, c.Author.When.Format(time.RFC3339))
	fmt.Fprintf(w, "committer %s %s\n", c.Committer, c.Committer.When.Format(time.RFC3339))
	fmt.Fprintf(w, "\n%s\n", c.Message)
	return nil
}

func printTree(t *core.Tree, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	for _, entry := range t.Entries {
		kind := core.TypeBlob
		if entry.IsDir() {
			kind = core.TypeTree
		}
		fmt.Fprintf(tw, "%06o\t%s\t%s\t%s\n", uint32(entry.Mode), kind, entry.Hash, entry.Name)
	}
	return tw.Flush()
}
