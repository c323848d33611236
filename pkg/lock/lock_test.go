package lock

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	target := filepath.Join(t.TempDir(), "issue")

	l, err := Acquire(target, Options{})
	require.NoError(t, err)
	assert.FileExists(t, target+Suffix)

	require.NoError(t, l.Release())
	assert.NoFileExists(t, target+Suffix)
	require.NoError(t, l.Release(), "double release is harmless")
}

func TestAcquire_TimesOut(t *testing.T) {
	target := filepath.Join(t.TempDir(), "issue")
	held, err := Acquire(target, Options{})
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = Acquire(target, Options{Timeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Less(t, time.Since(start), 2*time.Second, "wait is bounded")
}

func TestAcquire_BreaksStaleMarker(t *testing.T) {
	target := filepath.Join(t.TempDir(), "issue")
	require.NoError(t, os.WriteFile(target+Suffix, []byte("999999"), 0644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(target+Suffix, old, old))

	l, err := Acquire(target, Options{Timeout: 50 * time.Millisecond, StaleAfter: time.Minute})
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestTakeStale_KeepsReplacedMarker(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "issue") + Suffix
	require.NoError(t, os.WriteFile(marker, []byte("111"), 0644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(marker, old, old))
	stale, err := os.Stat(marker)
	require.NoError(t, err)

	// Another process breaks the stale marker and takes a fresh lock
	require.NoError(t, os.Remove(marker))
	require.NoError(t, os.WriteFile(marker, []byte("222"), 0644))

	assert.False(t, takeStale(marker, stale))
	data, err := os.ReadFile(marker)
	require.NoError(t, err, "the live marker is restored")
	assert.Equal(t, "222", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "nothing is left aside")
}

func TestTakeStale_RemovesStaleMarker(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "issue") + Suffix
	require.NoError(t, os.WriteFile(marker, []byte("111"), 0644))
	stale, err := os.Stat(marker)
	require.NoError(t, err)

	assert.True(t, takeStale(marker, stale))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.True(t, takeStale(marker, stale), "already broken by someone else")
}

func TestAcquire_MissingDirectory(t *testing.T) {
	_, err := Acquire(filepath.Join(t.TempDir(), "no", "such", "dir", "f"), Options{Timeout: 10 * time.Millisecond})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrLockTimeout), "I/O errors are not timeouts")
}

func TestWithLock_MutualExclusion(t *testing.T) {
	target := filepath.Join(t.TempDir(), "counter")
	var inside, maxInside int32
	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(target, Options{Timeout: 5 * time.Second}, func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside, "at most one holder at a time")
	assert.NoFileExists(t, target+Suffix)
}

func TestWait(t *testing.T) {
	target := filepath.Join(t.TempDir(), "issue")
	require.NoError(t, Wait(target, 10*time.Millisecond), "no marker, no wait")

	l, err := Acquire(target, Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, Wait(target, 30*time.Millisecond), ErrLockTimeout)

	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Release()
	}()
	assert.NoError(t, Wait(target, 2*time.Second))
}
