package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config selects the relational backend. SQLite at Path is the default;
// a Postgres DSN serves trackers shared by several hosts.
type Config struct {
	Path     string // e.g. <tracker>/.hopper/cache/tracker.db
	DSN      string // postgres DSN, overrides Path
	LogLevel logger.LogLevel
}

// DB wraps the gorm handle of the mirror.
type DB struct {
	conn *gorm.DB
}

// Open connects and migrates the mirror schema.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	level := cfg.LogLevel
	if level == 0 {
		level = logger.Silent
	}
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(level)}

	var dialector gorm.Dialector
	if cfg.DSN != "" {
		dialector = postgres.Open(cfg.DSN)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("mirror path not set")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
		// Several processes share the file: wait on SQLITE_BUSY instead of failing
		dialector = sqlite.Open(cfg.Path + "?_busy_timeout=5000&_journal_mode=WAL")
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.DSN != "" {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("mirror ping failed: %w", err)
	}

	d := &DB{conn: db}
	if err := d.AutoMigrate(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewWithConn wraps an existing gorm connection (tests, shared pools).
func NewWithConn(conn *gorm.DB) *DB {
	return &DB{conn: conn}
}

// AutoMigrate creates or updates the mirror tables.
func (d *DB) AutoMigrate() error {
	if err := d.conn.AutoMigrate(&IssueRow{}, &CommitRow{}); err != nil {
		return fmt.Errorf("auto migration failed: %w", err)
	}
	return nil
}

func (d *DB) Conn() *gorm.DB {
	return d.conn
}

func (d *DB) Close() error {
	sqlDB, err := d.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
