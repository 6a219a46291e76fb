// Package filelock implements the advisory lock file that guards a download
// destination across processes.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	lockFilePerm = 0o644
	minPoll      = 10 * time.Millisecond
	maxPoll      = 200 * time.Millisecond
)

// ErrTimeout is returned by Lock when the wait exceeds the lock timeout.
var ErrTimeout = errors.New("filelock: timeout")

// Lock is an exclusive advisory lock on a file. The OS lock belongs to the
// open file description, so two Locks on the same path exclude each other
// even inside one process. A single Lock is not safe for concurrent use.
type Lock struct {
	path    string
	timeout time.Duration
	file    *os.File
}

// New returns an unlocked Lock for path. The lock file and its parent
// directory are created on Lock.
func New(path string, timeout time.Duration) *Lock {
	return &Lock{path: path, timeout: timeout}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Lock blocks until the lock is held, the timeout elapses (ErrTimeout) or
// ctx is done.
func (l *Lock) Lock(ctx context.Context) error {
	if l.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, lockFilePerm)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(l.timeout)
	poll := minPoll

	for {
		locked, err := tryLock(f)
		if err != nil {
			f.Close()

			return fmt.Errorf("lock %s: %w", l.path, err)
		}

		if locked {
			l.file = f

			return nil
		}

		if !time.Now().Before(deadline) {
			f.Close()

			return fmt.Errorf("%w after %s waiting for %s", ErrTimeout, l.timeout, l.path)
		}

		select {
		case <-ctx.Done():
			f.Close()

			return ctx.Err()
		case <-time.After(poll):
		}

		if poll < maxPoll {
			poll *= 2
		}
	}
}

// Unlock releases the lock. It is safe to call on an unlocked Lock.
// The lock file is left in place; deleting it races with waiters that
// already opened the old inode.
func (l *Lock) Unlock() error {
	if l.file == nil {
		return nil
	}

	err := unlock(l.file)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}

	l.file = nil

	return err
}
