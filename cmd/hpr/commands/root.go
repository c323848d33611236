package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"hopper/pkg/app"
	"hopper/pkg/config"
	"hopper/pkg/document"
	"hopper/pkg/lock"
	"hopper/pkg/logging"
	"hopper/pkg/repo"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// cli is the state of one invocation, handed to every subcommand.
type cli struct {
	cfgFile string
	app     *app.App
	logs    io.Closer
}

// commands that run without an existing tracker
var standalone = map[string]bool{"new": true, "help": true, "completion": true}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "hpr",
		Short:         "Hopper: a git-backed issue tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.close()
		},
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.hopper/config.yaml)")
	// Tracker location: --tracker, HOPPER_TRACKER or the working directory
	root.PersistentFlags().StringP("tracker", "C", ".", "path to the tracker")
	root.PersistentFlags().Bool("no-color", false, "disable colored output")
	mustBind("tracker", root.PersistentFlags().Lookup("tracker"))
	mustBind("core.no_color", root.PersistentFlags().Lookup("no-color"))

	root.AddCommand(
		newNewCmd(c),
		newIssueCmd(c), newEditCmd(c), newDeleteCmd(c),
		newShowCmd(c), newCommentCmd(c),
		newStatusCmd(c, "close", "Close an issue", document.StatusClosed),
		newStatusCmd(c, "reopen", "Reopen a closed issue", document.StatusOpen),
		newListCmd(c), newSearchCmd(c), newCountCmd(c),
		newLogCmd(c), newCatCmd(c), newCheckoutCmd(c), newWorkStatusCmd(c), newReindexCmd(c),
		newBackupCmd(c), newServeCmd(c),
	)
	return root
}

// setup loads the config, installs the logger and opens the tracker.
func (c *cli) setup(cmd *cobra.Command) error {
	if err := config.Load(c.cfgFile); err != nil {
		return err
	}
	s := config.Current()
	var err error
	c.logs, err = logging.Setup(logging.Options{
		Level:      s.LogLevel,
		File:       s.LogFile,
		MaxSizeMB:  s.LogMaxSizeMB,
		MaxBackups: s.LogMaxBackups,
	})
	if err != nil {
		return err
	}
	for p := cmd; p != nil; p = p.Parent() {
		if standalone[p.Name()] {
			return nil
		}
	}

	c.app, err = app.NewApp(cmd.Context(), viper.GetString("tracker"))
	if err != nil {
		if errors.Is(err, repo.ErrNotInitialized) {
			return fmt.Errorf("%w\n(Did you run 'hpr new <path>'?)", err)
		}
		return fmt.Errorf("failed to open tracker: %w", err)
	}
	return nil
}

func (c *cli) close() error {
	var errs []error
	if c.app != nil {
		errs = append(errs, c.app.Close())
		c.app = nil
	}
	if c.logs != nil {
		errs = append(errs, c.logs.Close())
		c.logs = nil
	}
	return errors.Join(errs...)
}

// user is the configured identity, required by mutating commands.
func (c *cli) user() (document.Author, error) {
	name, email, err := c.app.Identity()
	if err != nil {
		return document.Author{}, err
	}
	return document.Author{Name: name, Email: email}, nil
}

func mustBind(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to bind flag:", err)
		os.Exit(1)
	}
}

// run executes args and closes whatever the run opened, also on failure.
func run(ctx context.Context, args []string, out io.Writer) error {
	c := &cli{}
	root := newRootCmd(c)
	root.SetArgs(args)
	if out != nil {
		root.SetOut(out)
		root.SetErr(out)
	}
	err := root.ExecuteContext(ctx)
	if err != nil {
		_ = c.close()
	}
	return err
}

// Execute runs the CLI with the process arguments.
func Execute() error {
	err := run(context.Background(), os.Args[1:], nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hpr:", explain(err))
	}
	return err
}

// explain adds a hint to errors users can act on.
func explain(err error) string {
	switch {
	case errors.Is(err, lock.ErrLockTimeout):
		return err.Error() + " (another hpr process holds the lock, try again)"
	case errors.Is(err, document.ErrAmbiguousReference):
		return err.Error() + " (supply more characters of the id)"
	case errors.Is(err, config.ErrNoIdentity):
		return err.Error() + " (hpr reads them from the config file, HOPPER_USER_NAME/HOPPER_USER_EMAIL or ~/.gitconfig)"
	default:
		return err.Error()
	}
}
