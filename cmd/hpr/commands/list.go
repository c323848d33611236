package commands

import (
	"fmt"
	"time"

	"hopper/pkg/mirror"
	"hopper/pkg/query"

	"github.com/spf13/cobra"
)

func newListCmd(c *cli) *cobra.Command {
	var (
		opts                query.Options
		since, after, until string
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List issues, newest activity first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !mirror.SortableColumn(opts.OrderBy) {
				return fmt.Errorf("cannot sort by %q", opts.OrderBy)
			}
			now := time.Now()
			for _, d := range []struct {
				text string
				into *time.Time
			}{
				{since, &opts.UpdatedSince},
				{after, &opts.CreatedAfter},
				{until, &opts.CreatedBefore},
			} {
				if d.text == "" {
					continue
				}
				t, err := query.ParseSince(d.text, now)
				if err != nil {
					return err
				}
				*d.into = t
			}

			res, err := c.app.Tracker.Issues(cmd.Context(), opts)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			st := newStyles(w)
			for _, i := range res.Issues {
				printIssueLine(w, st, i)
			}
			if len(res.Issues) < res.Total {
				fmt.Fprintln(w, st.faint.Render(fmt.Sprintf("(%d of %d issues)", len(res.Issues), res.Total)))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Status, "status", "open", "open, closed or all")
	f.StringVar(&opts.Label, "label", "", "only issues with this label")
	f.StringVar(&opts.OrderBy, "sort", query.DefaultOrder, "column to sort by")
	f.BoolVar(&opts.Reverse, "reverse", false, "oldest first")
	f.IntVarP(&opts.Limit, "limit", "n", 0, "maximum issues to show")
	f.IntVar(&opts.Offset, "offset", 0, "skip this many issues")
	f.StringVar(&since, "since", "", `only issues updated since, e.g. "2024-05-01" or "3 days ago"`)
	f.StringVar(&after, "created-after", "", "only issues created after this date")
	f.StringVar(&until, "created-before", "", "only issues created before this date")
	f.StringVar(&opts.TitlePrefix, "prefix", "", "only issues whose title starts with this")
	f.StringVar(&opts.EmailDomain, "domain", "", "only issues reported from this email domain")
	return cmd
}

func newSearchCmd(c *cli) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find issues whose title, content or comments mention text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := c.app.Tracker.Search(cmd.Context(), args[0], status, limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(found) == 0 {
				fmt.Fprintln(w, "No matching issues")
				return nil
			}
			st := newStyles(w)
			for _, i := range found {
				printIssueLine(w, st, i)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "open or closed, any when empty")
	cmd.Flags().IntVarP(&limit, "limit", "n", query.DefaultSearchLimit, "maximum results")
	return cmd
}

func newCountCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "count [open|closed]",
		Short: "Count issues",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := ""
			if len(args) == 1 {
				status = args[0]
			}
			n, err := c.app.Tracker.Count(cmd.Context(), status)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}
