package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hopper/pkg/core"
	"hopper/pkg/document"
	"hopper/pkg/mirror"
	"hopper/pkg/query"
	"hopper/pkg/repo"
	"hopper/pkg/storage"

	"github.com/natefinch/atomic"
	"gorm.io/gorm/logger"
)

const (
	ConfigFile = "config"
	ReadmeFile = "README.md"
	HopperDir  = ".hopper"
	CacheDir   = ".hopper/cache"
	MirrorFile = "tracker.db"
	// placeholder keeping otherwise empty directories in history
	emptyFile = "empty"
)

// The identity that signs the scaffold commit.
var scaffoldAuthor = core.Signature{Name: "Hopper", Email: "hopper@hopperhq.com"}

const readme = `**This is your Project Overview.**

It might contain notes on submitting issues, information about your
project, or both.

To replace this default message, edit the file ` + "`README.md`" + ` under 
` + "`$TRACKER/README.md`" + `.`

var ErrPathNotFound = errors.New("tracker path does not exist")

// Settings configure a Tracker for one process.
type Settings struct {
	Name  string // commit identity for autocommit
	Email string

	// Autocommit commits every mutation of an issue directory.
	Autocommit bool

	Mirror    bool
	MirrorDSN string // postgres instead of the local sqlite file

	LockTimeout time.Duration
	Clock       *document.Clock

	// StoreDecorator wraps the object database (Redis cache).
	StoreDecorator func(storage.Store) storage.Store
}

func (s Settings) repoOptions() []repo.Option {
	var opts []repo.Option
	if s.LockTimeout > 0 {
		opts = append(opts, repo.WithLockTimeout(s.LockTimeout))
	}
	if s.StoreDecorator != nil {
		opts = append(opts, repo.WithStoreDecorator(s.StoreDecorator))
	}
	return opts
}

// Tracker ties the repository, the documents and the mirror of one tracker
// directory together. It is the explicit per-process context.
type Tracker struct {
	root     string
	repo     *repo.Repository
	docs     *document.Store
	db       *mirror.DB
	sync     *mirror.Synchronizer
	query    *query.Engine
	settings Settings
}

// New creates a tracker at path with its scaffold and first commit.
func New(ctx context.Context, path string, s Settings) (*Tracker, error) {
	r, err := repo.Init(path, repo.InitOptions{}, s.repoOptions()...)
	if err != nil {
		return nil, err
	}
	root := r.Root()

	files := map[string]string{
		ConfigFile:                                  "",
		ReadmeFile:                                  readme,
		filepath.Join(document.IssuesDir, emptyFile): "",
		filepath.Join(HopperDir, emptyFile):          "",
	}
	for name, content := range files {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, err
		}
		if err := atomic.WriteFile(p, strings.NewReader(content)); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	if _, err := r.Add(ctx, ".", repo.AddOptions{Recursive: true, IncludeNew: true}); err != nil {
		return nil, err
	}
	author := scaffoldAuthor
	author.When = time.Now()
	if _, err := r.Commit(ctx, repo.CommitOptions{Author: author, Message: "Initial Commit"}); err != nil {
		return nil, fmt.Errorf("failed to commit scaffold: %w", err)
	}
	slog.Info("created tracker", "path", root)
	return Open(ctx, root, s)
}

// Open attaches to an existing tracker. The path may start with ~ and may
// be a glob, in which case the first match is used.
func Open(ctx context.Context, path string, s Settings) (*Tracker, error) {
	root, err := MatchPath(path)
	if err != nil {
		return nil, err
	}
	r, err := repo.Open(root, s.repoOptions()...)
	if err != nil {
		return nil, err
	}
	if r.IsBare() {
		return nil, repo.ErrBareRepository
	}

	var docOpts []document.Option
	if s.Clock != nil {
		docOpts = append(docOpts, document.WithClock(s.Clock))
	}
	if s.LockTimeout > 0 {
		docOpts = append(docOpts, document.WithLockOptions(lockOptions(s.LockTimeout)))
	}

	t := &Tracker{
		root:     r.Root(),
		repo:     r,
		docs:     document.NewStore(r.Root(), docOpts...),
		settings: s,
	}
	if s.Mirror {
		if err := t.openMirror(ctx); err != nil {
			slog.Warn("mirror disabled", "error", err)
		}
	}
	t.query = query.New(t.docs, t.sync)
	return t, nil
}

func (t *Tracker) openMirror(ctx context.Context) error {
	db, err := mirror.Open(ctx, mirror.Config{
		Path:     filepath.Join(t.root, CacheDir, MirrorFile),
		DSN:      t.settings.MirrorDSN,
		LogLevel: logger.Silent,
	})
	if err != nil {
		return err
	}
	t.db = db
	t.sync = mirror.NewSynchronizer(mirror.NewRepository(db), t.repo, t.docs, mirror.MarkerPath(filepath.Join(t.root, CacheDir)))
	return nil
}

// MatchPath expands ~ and globs, returning the first existing match.
func MatchPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	if _, err := os.Stat(path); err == nil {
		return filepath.Abs(path)
	}
	matches, err := filepath.Glob(path)
	if err != nil {
		return "", fmt.Errorf("bad tracker path %q: %w", path, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	return filepath.Abs(matches[0])
}

func (t *Tracker) Close() error {
	if t.db != nil {
		return t.db.Close()
	}
	return nil
}

func (t *Tracker) Root() string                 { return t.root }
func (t *Tracker) Repo() *repo.Repository       { return t.repo }
func (t *Tracker) Docs() *document.Store        { return t.docs }
func (t *Tracker) Query() *query.Engine         { return t.query }
func (t *Tracker) Mirror() *mirror.Synchronizer { return t.sync }
func (t *Tracker) Settings() Settings           { return t.settings }

// Invalidate makes the next query re-check the mirror.
func (t *Tracker) Invalidate() {
	if t.sync != nil {
		t.sync.Invalidate()
	}
}

// Reindex rebuilds the mirror from the issue directories.
func (t *Tracker) Reindex(ctx context.Context) error {
	if t.sync == nil {
		return errors.New("mirror is disabled")
	}
	return t.sync.Replicate(ctx)
}
