package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_Defaults(t *testing.T) {
	matcher, err := NewMatcher(t.TempDir())
	require.NoError(t, err)

	tests := []struct {
		path     string
		shouldIg bool
	}{
		{".git", true},
		{".git/objects/aa", true},
		{".hopper/cache", true},
		{".hopper/cache/tracker.db", true},
		{".hopper/cache/LAST_UPDATE", true},
		{"issues/abc/issue.lock", true},
		{".DS_Store", true},
		{".hopper/.placeholder", false},
		{"issues/abc/issue", false},
		{"config", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.shouldIg, matcher.Matches(tt.path), "Path: %s", tt.path)
		})
	}
}

func TestMatcher_WithUserFile(t *testing.T) {
	tmpDir := t.TempDir()
	ignoreContent := `
# scratch files
*.swp
drafts
!keep.swp
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, FileName), []byte(ignoreContent), 0644))

	matcher, err := NewMatcher(tmpDir)
	require.NoError(t, err)

	tests := []struct {
		path     string
		shouldIg bool
	}{
		{".git", true},
		{".hopper/cache/tracker.db", true},
		{"issue.swp", true},
		{"issues/abc/.issue.swp", true},
		{"drafts", true},
		{"drafts/one", true},
		{"issues/abc/issue", false},
		{"keep.swp", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.shouldIg, matcher.Matches(tt.path), "Path: %s", tt.path)
		})
	}
}

func TestMatcher_Nil(t *testing.T) {
	var m *Matcher
	assert.False(t, m.Matches("anything"))
}
