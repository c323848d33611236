package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/spf13/viper"
)

// ErrNoIdentity means neither hopper nor git knows who the user is.
var ErrNoIdentity = errors.New("no user identity: set user.name and user.email")

// Load initializes viper. cfgFile optionally names an explicit config file.
func Load(cfgFile string) error {
	// 1. Defaults
	setDefaults()

	// 2. Search paths
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(".hopper")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".hopper"))
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // config.yaml
	}

	// 3. Environment (HOPPER_USER_EMAIL etc.)
	viper.SetEnvPrefix("HOPPER")
	viper.SetEnvKeyReplacer(envKeys)
	viper.AutomaticEnv()

	// 4. Read the file
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("fatal error config file: %w", err)
		}
		slog.Debug("no config file found, using defaults and env")
	} else {
		slog.Debug("using config file", "path", viper.ConfigFileUsed())
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("core.editor", "vim")
	viper.SetDefault("core.autocommit", true)
	viper.SetDefault("core.color", true)

	viper.SetDefault("mirror.enabled", true)
	viper.SetDefault("lock.timeout", 5*time.Second)
	viper.SetDefault("cache.ttl", 24*time.Hour)
	viper.SetDefault("backup.s3.region", "us-east-1")
	viper.SetDefault("backup.parallel", 8)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.max_size_mb", 10)
	viper.SetDefault("log.max_backups", 3)

	viper.SetDefault("server.addr", ":5000")
}

// S3 is the backup bucket.
type S3 struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Settings is a typed snapshot of the viper keys.
type Settings struct {
	UserName   string
	UserEmail  string
	Editor     string
	Autocommit bool
	Color      bool

	MirrorEnabled bool
	MirrorDSN     string
	LockTimeout   time.Duration

	RedisURL string
	CacheTTL time.Duration

	Backup         S3
	BackupParallel int

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	ServerAddr string
}

// Current reads the settings from viper.
func Current() Settings {
	return Settings{
		UserName:   viper.GetString("user.name"),
		UserEmail:  viper.GetString("user.email"),
		Editor:     viper.GetString("core.editor"),
		Autocommit: viper.GetBool("core.autocommit"),
		Color:      viper.GetBool("core.color"),

		MirrorEnabled: viper.GetBool("mirror.enabled"),
		MirrorDSN:     viper.GetString("mirror.dsn"),
		LockTimeout:   viper.GetDuration("lock.timeout"),

		RedisURL: viper.GetString("cache.redis_url"),
		CacheTTL: viper.GetDuration("cache.ttl"),

		Backup: S3{
			Endpoint:  viper.GetString("backup.s3.endpoint"),
			Region:    viper.GetString("backup.s3.region"),
			Bucket:    viper.GetString("backup.s3.bucket"),
			AccessKey: viper.GetString("backup.s3.access_key"),
			SecretKey: viper.GetString("backup.s3.secret_key"),
		},
		BackupParallel: viper.GetInt("backup.parallel"),

		LogLevel:      viper.GetString("log.level"),
		LogFile:       viper.GetString("log.file"),
		LogMaxSizeMB:  viper.GetInt("log.max_size_mb"),
		LogMaxBackups: viper.GetInt("log.max_backups"),

		ServerAddr: viper.GetString("server.addr"),
	}
}

// Identity returns the configured user, completing missing fields from
// the global git config.
func (s Settings) Identity() (name, email string, err error) {
	name, email = s.UserName, s.UserEmail
	if name == "" || email == "" {
		if g, gerr := gitconfig.LoadConfig(gitconfig.GlobalScope); gerr == nil {
			if name == "" {
				name = g.User.Name
			}
			if email == "" {
				email = g.User.Email
			}
		} else {
			slog.Debug("failed to read global git config", "error", gerr)
		}
	}
	if name == "" || email == "" {
		return name, email, ErrNoIdentity
	}
	return name, email, nil
}
