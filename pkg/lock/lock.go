// Package lock implements the advisory marker-file convention shared by every
// process touching a tracker: "<file>.lock" exists while the file is written.
package lock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// ErrLockTimeout means the marker could not be created within the bound.
// Callers surface it as "repository busy".
var ErrLockTimeout = errors.New("repository busy: lock timeout")

const (
	Suffix       = ".lock"
	DefaultWait  = 5 * time.Second
	pollInterval = 10 * time.Millisecond
)

// Options tune Acquire.
type Options struct {
	Timeout time.Duration // total wait; DefaultWait when zero
	// StaleAfter breaks markers older than this (left by a crashed process).
	// Zero disables stale detection.
	StaleAfter time.Duration
}

// Lock is a held marker. Release it exactly once.
type Lock struct {
	path string
}

// Path returns the marker file path.
func (l *Lock) Path() string { return l.path }

// Acquire creates target+".lock" exclusively, polling until the timeout.
func Acquire(target string, opts Options) (*Lock, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultWait
	}
	marker := target + Suffix
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			// The pid is informational only
			f.WriteString(strconv.Itoa(os.Getpid()))
			f.Close()
			return &Lock{path: marker}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock %s: %w", marker, err)
		}

		if opts.StaleAfter > 0 && breakStale(marker, opts.StaleAfter) {
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s held for more than %s", ErrLockTimeout, marker, timeout)
		}
		time.Sleep(pollInterval)
	}
}

// Release removes the marker. Releasing twice is harmless.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Wait blocks while a marker for target exists, without taking it.
// Readers use it to avoid reading a file mid-write.
func Wait(target string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultWait
	}
	marker := target + Suffix
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(marker); os.IsNotExist(err) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, marker)
		}
		time.Sleep(pollInterval)
	}
}

// WithLock runs fn while holding the marker for target.
func WithLock(target string, opts Options, fn func() error) (err error) {
	l, err := Acquire(target, opts)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := l.Release(); err == nil {
			err = rerr
		}
	}()
	return fn()
}

func breakStale(marker string, age time.Duration) bool {
	info, err := os.Stat(marker)
	if err != nil {
		return os.IsNotExist(err)
	}
	if time.Since(info.ModTime()) < age {
		return false
	}
	return takeStale(marker, info)
}

// takeStale removes the marker judged stale as info. Another process may
// have broken it and taken a fresh lock since the stat, so the marker is
// renamed aside first and put back when it is not the stale file.
func takeStale(marker string, info os.FileInfo) bool {
	aside := fmt.Sprintf("%s.%d-%d%s", marker, os.Getpid(), time.Now().UnixNano(), Suffix)
	if err := os.Rename(marker, aside); err != nil {
		return os.IsNotExist(err)
	}
	defer os.Remove(aside)

	moved, err := os.Stat(aside)
	if err != nil {
		return false
	}
	if os.SameFile(info, moved) && moved.ModTime().Equal(info.ModTime()) {
		return true
	}
	// Link fails if yet another marker appeared; that one is live
	if err := os.Link(aside, marker); err != nil {
		slog.Warn("failed to restore a live lock", "path", marker, "error", err)
	}
	return false
}
