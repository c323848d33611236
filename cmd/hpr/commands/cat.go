package commands

import (
	"fmt"

	"hopper/pkg/exporter"
	"hopper/pkg/types"

	"github.com/spf13/cobra"
)

func newCatCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <object>",
		Short: "Print a stored object",
		Long:  `Pretty-print a commit or tree, or write a blob's raw content. The object is named by a ref or an abbreviated id.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r := c.app.Tracker.Repo()

			id, err := r.Resolve(ctx, args[0])
			if err != nil {
				if id, err = r.Store().ExpandHash(ctx, types.HashPrefix(args[0])); err != nil {
					return fmt.Errorf("cat failed: %w", err)
				}
			}
			return exporter.NewExporter(r.Store()).PrintObject(ctx, id, cmd.OutOrStdout())
		},
	}
}
