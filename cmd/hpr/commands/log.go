package commands

import (
	"errors"
	"fmt"

	"hopper/pkg/core"
	"hopper/pkg/refs"

	"github.com/spf13/cobra"
)

func newLogCmd(c *cli) *cobra.Command {
	var (
		limit  int
		author string
	)
	cmd := &cobra.Command{
		Use:   "log [ref]",
		Short: "Show the tracker history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := "HEAD"
			if len(args) == 1 {
				start = args[0]
			}
			var (
				commits []*core.Commit
				err     error
			)
			if author != "" {
				if len(args) == 1 {
					return errors.New("--author only searches the current branch")
				}
				commits, err = c.app.Tracker.History(cmd.Context(), author, limit)
			} else {
				commits, err = c.app.Tracker.Commits(cmd.Context(), start, limit)
			}
			if errors.Is(err, refs.ErrNoHead) {
				fmt.Fprintln(cmd.OutOrStdout(), "No commits yet")
				return nil
			}
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			st := newStyles(w)
			for _, commit := range commits {
				printCommitLog(w, st, commit)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n commits")
	cmd.Flags().StringVar(&author, "author", "", "only commits by this author name or email")
	return cmd
}
