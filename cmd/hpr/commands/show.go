package commands

import (
	"fmt"

	"hopper/pkg/document"

	"github.com/spf13/cobra"
)

func newShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <issue>",
		Short: "Show an issue and its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			issue, err := c.app.Tracker.Issue(ctx, args[0])
			if err != nil {
				return err
			}
			comments, err := c.app.Tracker.Comments(ctx, issue, 0)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printIssue(w, newStyles(w), issue, comments)
			return nil
		},
	}
}

func newCommentCmd(c *cli) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "comment <issue>",
		Short: "Comment on an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			author, err := c.user()
			if err != nil {
				return err
			}
			issue, err := c.app.Tracker.Issue(ctx, args[0])
			if err != nil {
				return err
			}

			text := message
			if text == "" {
				form, err := editIssue(c.app.Settings.Editor, issueForm{Title: "Re: " + issue.Title})
				if err != nil {
					return err
				}
				text = form.Content
			}
			if text == "" {
				return fmt.Errorf("%w: empty comment", ErrAborted)
			}

			comment := &document.Comment{Author: author, Content: text}
			if err := c.app.Tracker.AddComment(ctx, issue, comment); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added comment %s to issue %s\n", comment.ID.Short(), issue.ID.Short())
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "comment text")
	return cmd
}

func newStatusCmd(c *cli, use, short string, to document.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <issue>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			author, err := c.user()
			if err != nil {
				return err
			}
			issue, err := c.app.Tracker.Issue(ctx, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if issue.Status == to {
				fmt.Fprintf(w, "Issue %s is already %s\n", issue.ID.Short(), to)
				return nil
			}
			if to == document.StatusClosed {
				err = c.app.Tracker.CloseIssue(ctx, issue, author)
			} else {
				err = c.app.Tracker.ReopenIssue(ctx, issue, author)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "Issue %s is now %s\n", issue.ID.Short(), to)
			return nil
		},
	}
}
