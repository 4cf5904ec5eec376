package vcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrTreeLocked is returned when another controller owns the working tree.
var ErrTreeLocked = errors.New("working tree is locked by another converge process")

// lockRetry is how often TryLockContext re-attempts the lock.
const lockRetry = 100 * time.Millisecond

// TreeLock is an exclusive advisory lock on one repository's working tree.
type TreeLock struct {
	fl *flock.Flock
}

// LockTree acquires <gitDir>/converge/tree.lock, waiting at most wait. A zero
// wait tries once.
func LockTree(ctx context.Context, gitDir string, wait time.Duration) (*TreeLock, error) {
	path := filepath.Join(gitDir, "converge", "tree.lock")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	fl := flock.New(path)
	if wait <= 0 {
		locked, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("%w: %s", ErrTreeLocked, path)
		}
		return &TreeLock{fl: fl}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrTreeLocked, path)
	}
	return &TreeLock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *TreeLock) Path() string { return l.fl.Path() }

// Unlock releases the lock.
func (l *TreeLock) Unlock() error {
	return l.fl.Unlock()
}
