package commands

import (
	"fmt"

	"hopper/pkg/app"

	"github.com/spf13/cobra"
)

func newNewCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "new <path>",
		Short: "Create a new tracker",
		Long:  `Scaffold a tracker at path: a git repository holding a config file, a README and an empty issues directory, committed as the initial commit.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.CreateTracker(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			c.app = a

			fmt.Fprintf(cmd.OutOrStdout(), "Created tracker in %s\n", a.Tracker.Root())
			return nil
		},
	}
}
