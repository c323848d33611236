package ignore

import (
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName is the per-tracker ignore file read next to .git.
const FileName = ".hopperignore"

// Matcher decides whether a working-tree path is invisible to add and status.
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher compiles the built-in rules plus rootPath/.hopperignore when present.
func NewMatcher(rootPath string) (*Matcher, error) {
	// 1. Rules that always apply
	defaultRules := []string{
		".git",
		".hopper/cache", // the mirror is rebuildable and must never be committed
		"*.lock",        // advisory markers from pkg/lock

		".DS_Store",
		"Thumbs.db",
	}

	var ignorer *gitignore.GitIgnore
	var err error

	// 2. Merge the user's file when it exists
	ignoreFilePath := filepath.Join(rootPath, FileName)
	if _, errStat := os.Stat(ignoreFilePath); errStat == nil {
		ignorer, err = gitignore.CompileIgnoreFileAndLines(ignoreFilePath, defaultRules...)
	} else {
		ignorer = gitignore.CompileIgnoreLines(defaultRules...)
	}
	if err != nil {
		return nil, err
	}

	return &Matcher{ignorer: ignorer}, nil
}

// Matches reports whether path (slash separated, relative to the root) is ignored.
func (m *Matcher) Matches(path string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(filepath.ToSlash(path))
}
