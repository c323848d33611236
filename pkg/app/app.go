package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"hopper/pkg/backup"
	"hopper/pkg/config"
	"hopper/pkg/storage"
	"hopper/pkg/storage/cache"
	"hopper/pkg/storage/s3"
	"hopper/pkg/tracker"
)

// App is the dependency container of one process. CLI commands and the
// HTTP server receive it instead of reaching for globals.
type App struct {
	Settings config.Settings
	Tracker  *tracker.Tracker

	cache *cache.CachedStore
}

// NewApp opens the tracker at path with the loaded configuration.
func NewApp(ctx context.Context, path string) (*App, error) {
	a := &App{Settings: config.Current()}
	ts, err := a.trackerSettings()
	if err != nil {
		return nil, err
	}
	a.Tracker, err = tracker.Open(ctx, path, ts)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// CreateTracker scaffolds a new tracker at path and opens it.
func CreateTracker(ctx context.Context, path string) (*App, error) {
	a := &App{Settings: config.Current()}
	ts, err := a.trackerSettings()
	if err != nil {
		return nil, err
	}
	a.Tracker, err = tracker.New(ctx, path, ts)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) trackerSettings() (tracker.Settings, error) {
	s := a.Settings
	ts := tracker.Settings{
		Autocommit:  s.Autocommit,
		Mirror:      s.MirrorEnabled,
		MirrorDSN:   s.MirrorDSN,
		LockTimeout: s.LockTimeout,
	}
	name, email, err := s.Identity()
	if err != nil && !errors.Is(err, config.ErrNoIdentity) {
		return ts, err
	}
	ts.Name, ts.Email = name, email

	if s.RedisURL != "" {
		ts.StoreDecorator = a.withCache
	}
	return ts, nil
}

// withCache puts the Redis existence cache in front of the object database.
// The cache only accelerates, so an unreachable Redis leaves backend as is.
func (a *App) withCache(backend storage.Store) storage.Store {
	c, err := cache.NewCachedStore(backend, cache.Config{
		RedisURL: a.Settings.RedisURL,
		TTL:      a.Settings.CacheTTL,
	})
	if err != nil {
		slog.Warn("object cache disabled", "error", err)
		return backend
	}
	if a.cache != nil {
		// a repository handle opened earlier (e.g. by init) is gone by now
		a.cache.Close()
	}
	a.cache = c
	return c
}

// Identity is the signature of the tracker user, or an error asking the
// user to configure one.
func (a *App) Identity() (name, email string, err error) {
	return a.Settings.Identity()
}

// NewBackup builds an uploader from the tracker's objects to the
// configured S3 bucket.
func (a *App) NewBackup(ctx context.Context) (*backup.Uploader, error) {
	target, err := initBackupStore(ctx, a.Settings.Backup)
	if err != nil {
		return nil, err
	}
	return backup.New(a.Tracker.Repo().Store(), target, a.Settings.BackupParallel), nil
}

func initBackupStore(ctx context.Context, cfg config.S3) (*s3.Adapter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("backup.s3.bucket is required")
	}
	return s3.NewAdapter(ctx, s3.Config{
		Endpoint:        cfg.Endpoint,
		Region:          cfg.Region,
		Bucket:          cfg.Bucket,
		AccessKeyID:     cfg.AccessKey,
		SecretAccessKey: cfg.SecretKey,
	})
}

// Close releases the mirror and cache connections.
func (a *App) Close() error {
	var errs []error
	if a.Tracker != nil {
		errs = append(errs, a.Tracker.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	return errors.Join(errs...)
}
