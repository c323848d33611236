package commands

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var ErrAborted = errors.New("aborted")

const issueTemplate = `%s
%s
# The first line is the title. Everything after it is the issue content.
# Lines starting with '#' are ignored. An empty title aborts.
`

// issueForm is what the user typed into the editor.
type issueForm struct {
	Title   string
	Content string
}

func renderTemplate(f issueForm) string {
	content := f.Content
	if content != "" {
		content = "\n" + content
	}
	return fmt.Sprintf(issueTemplate, f.Title, content)
}

// parseTemplate reads the edited buffer: comment lines are dropped, the
// first line is the title and a single blank separator line is skipped.
func parseTemplate(text string) (issueForm, error) {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		if l := sc.Text(); !strings.HasPrefix(l, "#") {
			lines = append(lines, l)
		}
	}
	if err := sc.Err(); err != nil {
		return issueForm{}, err
	}
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return issueForm{}, fmt.Errorf("%w: empty title", ErrAborted)
	}
	rest := lines[1:]
	if len(rest) > 0 && strings.TrimSpace(rest[0]) == "" {
		rest = rest[1:]
	}
	return issueForm{
		Title:   strings.TrimSpace(lines[0]),
		Content: strings.TrimRight(strings.Join(rest, "\n"), "\n "),
	}, nil
}

// editIssue opens the template in editor and parses the result.
func editIssue(editor string, f issueForm) (issueForm, error) {
	tmp, err := os.CreateTemp("", "*.hpr")
	if err != nil {
		return issueForm{}, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(renderTemplate(f)); err != nil {
		tmp.Close()
		return issueForm{}, err
	}
	if err := tmp.Close(); err != nil {
		return issueForm{}, err
	}

	argv := strings.Fields(editor)
	if len(argv) == 0 {
		return issueForm{}, fmt.Errorf("invalid editor %q", editor)
	}
	cmd := exec.Command(argv[0], append(argv[1:], tmp.Name())...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return issueForm{}, fmt.Errorf("editor %s failed: %w", argv[0], err)
	}

	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		return issueForm{}, err
	}
	return parseTemplate(string(data))
}
