package commands

import (
	"os/signal"
	"syscall"

	"hopper/pkg/server"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API",
		Long:  `Serve the tracker over HTTP until interrupted. Changes made by other processes are picked up through a file watcher.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tr := c.app.Tracker
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.New(tr).ListenAndServe(ctx, viper.GetString("server.addr"))
			})
			g.Go(func() error {
				return server.Watch(ctx, tr.Root(), tr)
			})
			return g.Wait()
		},
	}
	cmd.Flags().String("addr", ":5000", "listen address")
	mustBind("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}
