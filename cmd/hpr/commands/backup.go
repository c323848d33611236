package commands

import (
	"fmt"
	"time"

	"hopper/pkg/refs"
	"hopper/pkg/types"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/spf13/cobra"
)

func newBackupCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Upload the tracker history to the configured S3 bucket",
		Long:  `Push every object reachable from the local branches and tags to backup.s3.bucket, then record the refs. Objects already in the bucket are skipped.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tips, err := localRefs(c.app.Tracker.Repo().Refs())
			if err != nil {
				return err
			}
			if len(tips) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to back up")
				return nil
			}

			up, err := c.app.NewBackup(ctx)
			if err != nil {
				return err
			}
			start := time.Now()
			stats, err := up.Push(ctx, tips)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backed up %d refs: %d objects, %d uploaded, %d already present (%s)\n",
				len(tips), stats.Objects, stats.Uploaded, stats.Skipped, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

// localRefs maps the full name of every branch and tag to its commit.
func localRefs(m *refs.Manager) (map[string]types.Hash, error) {
	tips := make(map[string]types.Hash)
	for _, kind := range []struct {
		list func() ([]string, error)
		name func(string) plumbing.ReferenceName
	}{
		{m.Branches, plumbing.NewBranchReferenceName},
		{m.Tags, plumbing.NewTagReferenceName},
	} {
		names, err := kind.list()
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			ref := kind.name(n)
			id, err := m.Get(ref)
			if err != nil {
				return nil, err
			}
			tips[ref.String()] = id
		}
	}
	return tips, nil
}
