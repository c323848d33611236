package commands

import (
	"fmt"

	"hopper/pkg/document"

	"github.com/spf13/cobra"
)

func newCheckoutCmd(c *cli) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "checkout <ref>",
		Short: "Restore issues from a past commit",
		Long:  `Overwrite the issues directory with its content at ref. Files absent from ref are left alone. With --all the whole working tree is restored and HEAD moves to ref.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subpath := document.IssuesDir
			if all {
				subpath = ""
			}
			if err := c.app.Tracker.Checkout(cmd.Context(), args[0], subpath); err != nil {
				return fmt.Errorf("checkout failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checked out %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "restore the whole tree, not only issues")
	return cmd
}

func newWorkStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show uncommitted changes to issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.app.Tracker.Status(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if st.IsClean() {
				fmt.Fprintln(w, "nothing to commit, working tree clean")
				return nil
			}
			s := newStyles(w)
			for _, group := range []struct {
				label string
				paths []string
			}{
				{"new", st.New},
				{"modified", st.Modified},
				{"deleted", st.Deleted},
			} {
				for _, p := range group.paths {
					fmt.Fprintf(w, "%s %s\n", s.faint.Render(fmt.Sprintf("%-9s", group.label+":")), p)
				}
			}
			return nil
		},
	}
}

func newReindexCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the query mirror from the issue files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := c.app.Tracker.Reindex(ctx); err != nil {
				return err
			}
			n, err := c.app.Tracker.Count(ctx, "")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reindexed %d issues\n", n)
			return nil
		},
	}
}
