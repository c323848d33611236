package commands

import (
	"fmt"
	"strings"

	"hopper/pkg/document"

	"github.com/spf13/cobra"
)

type issueFlags struct {
	title   string
	message string
	labels  []string
}

func (f *issueFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.title, "title", "t", "", "issue title")
	cmd.Flags().StringVarP(&f.message, "message", "m", "", "issue content")
	cmd.Flags().StringSliceVarP(&f.labels, "label", "l", nil, "labels (repeat or comma separate)")
}

func newIssueCmd(c *cli) *cobra.Command {
	var f issueFlags
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Open a new issue",
		Long:  `Create an issue. Without --title the configured editor is opened on a template whose first line is the title.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			author, err := c.user()
			if err != nil {
				return err
			}

			form := issueForm{Title: f.title, Content: f.message}
			if strings.TrimSpace(form.Title) == "" {
				if form, err = editIssue(c.app.Settings.Editor, form); err != nil {
					return err
				}
			}

			issue := &document.Issue{
				Title:   form.Title,
				Content: form.Content,
				Labels:  f.labels,
				Author:  author,
			}
			if err := c.app.Tracker.CreateIssue(cmd.Context(), issue); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created issue %s\n", issue.ID.Short())
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newEditCmd(c *cli) *cobra.Command {
	var f issueFlags
	cmd := &cobra.Command{
		Use:   "edit <issue>",
		Short: "Edit an issue's title, content or labels",
		Long:  `Change an issue. Flags replace single fields; without flags the editor opens on the current title and content.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			issue, err := c.app.Tracker.Issue(ctx, args[0])
			if err != nil {
				return err
			}

			changed := cmd.Flags().Changed
			form := issueForm{Title: issue.Title, Content: issue.Content}
			switch {
			case changed("title") || changed("message"):
				if changed("title") {
					form.Title = f.title
				}
				if changed("message") {
					form.Content = f.message
				}
			case !changed("label"):
				if form, err = editIssue(c.app.Settings.Editor, form); err != nil {
					return err
				}
			}
			if strings.TrimSpace(form.Title) == "" {
				return fmt.Errorf("%w: empty title", ErrAborted)
			}

			issue.Title, issue.Content = form.Title, form.Content
			if changed("label") {
				issue.Labels = f.labels
			}
			if err := c.app.Tracker.SaveIssue(ctx, issue); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated issue %s\n", issue.ID.Short())
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <issue>",
		Short: "Delete an issue and its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			issue, err := c.app.Tracker.Issue(ctx, args[0])
			if err != nil {
				return err
			}
			if err := c.app.Tracker.DeleteIssue(ctx, issue); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted issue %s\n", issue.ID.Short())
			return nil
		},
	}
}
