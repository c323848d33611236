package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"hopper/pkg/core"
	"hopper/pkg/document"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

type styles struct {
	id, title, open, closed, label, faint, event lipgloss.Style
}

// newStyles colors output only for terminals with color enabled.
func newStyles(w io.Writer) styles {
	if !useColor(w) {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		id:     lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		title:  lipgloss.NewStyle().Bold(true),
		open:   lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		closed: lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		label:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		faint:  lipgloss.NewStyle().Faint(true),
		event:  lipgloss.NewStyle().Italic(true).Faint(true),
	}
}

func useColor(w io.Writer) bool {
	if !viper.GetBool("core.color") || viper.GetBool("core.no_color") {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (s styles) status(st document.Status) string {
	if st == document.StatusClosed {
		return s.closed.Render(string(st))
	}
	return s.open.Render(string(st))
}

func (s styles) labels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	return s.label.Render("[" + strings.Join(labels, ", ") + "]")
}

func printIssueLine(w io.Writer, s styles, i *document.Issue) {
	line := fmt.Sprintf("%s  %-6s  %s", s.id.Render(i.ID.Short()), s.status(i.Status), s.title.Render(i.Title))
	if l := s.labels(i.Labels); l != "" {
		line += "  " + l
	}
	fmt.Fprintln(w, line)
}

func printIssue(w io.Writer, s styles, i *document.Issue, comments []*document.Comment) {
	fmt.Fprintf(w, "%s %s\n", s.id.Render("issue "+string(i.ID)), s.status(i.Status))
	fmt.Fprintf(w, "Author:  %s\n", i.Author)
	fmt.Fprintf(w, "Created: %s\n", i.Created.Local().Format(time.RFC1123))
	fmt.Fprintf(w, "Updated: %s\n", i.Updated.Local().Format(time.RFC1123))
	if l := s.labels(i.Labels); l != "" {
		fmt.Fprintf(w, "Labels:  %s\n", l)
	}
	fmt.Fprintf(w, "\n    %s\n", s.title.Render(i.Title))
	if i.Content != "" {
		fmt.Fprintf(w, "\n%s\n", indent(i.Content))
	}
	for _, c := range comments {
		fmt.Fprintln(w)
		if c.Event {
			fmt.Fprintln(w, s.event.Render(fmt.Sprintf("%s changed status to %s on %s",
				c.Author.Name, c.EventData["status"], c.Timestamp.Local().Format(time.RFC1123))))
			continue
		}
		fmt.Fprintf(w, "%s %s\n", s.faint.Render(c.ID.Short()), s.faint.Render(fmt.Sprintf("%s, %s", c.Author.Name, c.Timestamp.Local().Format(time.RFC1123))))
		fmt.Fprintln(w, indent(c.Content))
	}
}

func printCommitLog(w io.Writer, s styles, c *core.Commit) {
	fmt.Fprintln(w, s.id.Render("commit "+string(c.ID())))
	fmt.Fprintf(w, "Author: %s\n", c.Author)
	fmt.Fprintf(w, "Date:   %s\n", c.Author.When.Local().Format(time.RFC1123))
	fmt.Fprintf(w, "\n%s\n\n", indent(strings.TrimRight(c.Message, "\n")))
}

func indent(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
