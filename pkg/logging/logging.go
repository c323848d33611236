package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configure the process logger.
type Options struct {
	Level      string // debug, info, warn, error
	File       string // rotate JSON logs here instead of text on stderr
	MaxSizeMB  int
	MaxBackups int
}

// ParseLevel accepts the usual level names, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// New builds a logger and the closer of its output.
func New(opts Options, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	hopts := &slog.HandlerOptions{Level: level}

	if opts.File == "" {
		return slog.New(slog.NewTextHandler(stderr, hopts)), nopCloser{}, nil
	}
	out := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(out, hopts)), out, nil
}

// Setup installs the logger as the slog default.
func Setup(opts Options) (io.Closer, error) {
	logger, closer, err := New(opts, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
