// Package hostlock serializes a critical section across every process on a
// host using an advisory file lock.
//
// The lock file lives at a fixed path in the shared temp directory. Its
// contents are never read; only the flock(2) on it matters. Acquisition
// blocks, polling until the lock is free or the context is done.
package hostlock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// FileName is the lock file name inside the temp directory.
const FileName = ".crucible-boot.lock"

// retryDelay is how often a blocked caller retries the lock.
const retryDelay = 250 * time.Millisecond

// filePerm lets builds running as other users open the lock file. flock only
// needs a read-only descriptor.
const filePerm = 0o644

// DefaultPath returns the host-wide lock path.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), FileName)
}

// Lock is a host-scoped mutex identified by a file path.
type Lock struct {
	path   string
	logger *zap.Logger
}

// New returns a Lock on path. An empty path selects DefaultPath.
func New(path string, logger *zap.Logger) *Lock {
	if path == "" {
		path = DefaultPath()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lock{path: path, logger: logger}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Acquire blocks until the lock is held and returns a release function and
// the time spent waiting. Release is idempotent.
func (l *Lock) Acquire(ctx context.Context) (func(), time.Duration, error) {
	fl := flock.New(l.path, flock.SetPermissions(filePerm))
	start := time.Now()

	locked, err := fl.TryLockContext(ctx, retryDelay)
	waited := time.Since(start)
	if err != nil {
		return nil, waited, fmt.Errorf("failed to acquire host lock %s: %w", l.path, err)
	}
	if !locked {
		return nil, waited, fmt.Errorf("failed to acquire host lock %s", l.path)
	}
	l.logger.Debug("host lock acquired", zap.String("path", l.path), zap.Duration("waited", waited))

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if err := fl.Unlock(); err != nil {
			l.logger.Warn("failed to release host lock", zap.String("path", l.path), zap.Error(err))
			return
		}
		l.logger.Debug("host lock released", zap.String("path", l.path))
	}
	return release, waited, nil
}

// With runs fn while holding the lock. The lock is released when fn returns
// or panics.
func (l *Lock) With(ctx context.Context, fn func(ctx context.Context) error) error {
	release, _, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}
