// Package filelock implements the advisory sidecar lock that guards session
// files. Locks are whole-file flock(2) locks held on a dedicated "<file>.lock"
// path, so they conflict across processes and across separate descriptors
// within one process. They are advisory: writers that skip the lock are not
// stopped.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"pkt.systems/filesession/internal/clock"
)

// Suffix is appended to a data file path to form its lock path.
const Suffix = ".lock"

// DefaultPollInterval is the retry cadence used while a lock is contended.
const DefaultPollInterval = 10 * time.Millisecond

// ErrTimeout is returned when the lock could not be obtained before the
// configured wait expired.
var ErrTimeout = errors.New("filelock: timeout waiting for lock")

// Options bounds how long Acquire waits for a contended lock.
type Options struct {
	// Timeout is the maximum wait. Zero tries exactly once.
	Timeout time.Duration
	// PollInterval is the delay between attempts (DefaultPollInterval when zero).
	PollInterval time.Duration
	Clock        clock.Clock
	FileMode     os.FileMode
}

// Lock is a held advisory lock.
type Lock struct {
	path string
	file *os.File
}

// PathFor returns the sidecar lock path for dataPath.
func PathFor(dataPath string) string {
	return dataPath + Suffix
}

// Acquire opens (creating when needed) the lock file at path and takes an
// exclusive lock on it, polling until opts.Timeout elapses or ctx ends.
func Acquire(ctx context.Context, path string, opts Options) (*Lock, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	clk := clock.Ensure(opts.Clock)
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	mode := opts.FileMode
	if mode == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, mode)
	if err != nil {
		return nil, fmt.Errorf("filelock: open %q: %w", path, err)
	}
	deadline := clk.Now().Add(opts.Timeout)
	for {
		err := tryLockFile(f)
		if err == nil {
			return &Lock{path: path, file: f}, nil
		}
		if !isContended(err) {
			f.Close()
			return nil, fmt.Errorf("filelock: lock %q: %w", path, err)
		}
		if !clk.Now().Before(deadline) {
			f.Close()
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-clk.After(poll):
		}
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Unlock releases the lock and closes the lock file. It is safe to call more
// than once.
func (l *Lock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if err := unlockFile(f); err != nil {
		f.Close()
		return fmt.Errorf("filelock: unlock %q: %w", l.path, err)
	}
	return f.Close()
}
