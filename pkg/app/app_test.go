package app

import (
	"context"
	"path/filepath"
	"testing"

	"hopper/pkg/config"
	"hopper/pkg/document"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupConfig(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	require.NoError(t, config.Load(""))
	viper.Set("user.name", "Ada")
	viper.Set("user.email", "ada@example.com")
}

func TestCreateAndOpen(t *testing.T) {
	setupConfig(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tracker")

	created, err := CreateTracker(ctx, path)
	require.NoError(t, err)
	require.NoError(t, created.Close())

	a, err := NewApp(ctx, path)
	require.NoError(t, err)
	defer a.Close()

	issue := &document.Issue{Title: "From the app"}
	require.NoError(t, a.Tracker.CreateIssue(ctx, issue))
	assert.Equal(t, "Ada", issue.Author.Name)
	assert.True(t, a.Tracker.Settings().Autocommit)
}

func TestNewApp_NotATracker(t *testing.T) {
	setupConfig(t)
	_, err := NewApp(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestUnreachableRedisFallsBack(t *testing.T) {
	setupConfig(t)
	viper.Set("cache.redis_url", "redis://127.0.0.1:1/0")
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tracker")

	a, err := CreateTracker(ctx, path)
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.cache)
	require.NoError(t, a.Tracker.CreateIssue(ctx, &document.Issue{Title: "still works"}))
}

func TestInitBackupStore_MissingBucket(t *testing.T) {
	store, err := initBackupStore(context.Background(), config.S3{Region: "us-east-1"})
	assert.Error(t, err)
	assert.Nil(t, store)
	assert.Contains(t, err.Error(), "bucket is required")
}
