package repo

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// lockFileName is the cross-process lock marker inside the repository
// root. The file content is the acquisition timestamp.
const lockFileName = ".lore.lock"

// FileLock is a cross-process mutex backed by a marker file created
// with exclusive-create semantics. A lock older than the staleness
// timeout is treated as abandoned by a dead process and cleared by the
// next acquirer.
type FileLock struct {
	path         string
	staleTimeout time.Duration
	maxAttempts  int
	backoffBase  time.Duration
	backoffCap   int
}

// NewFileLock creates a lock handle for the given marker path.
func NewFileLock(path string, opts Options) *FileLock {
	opts = opts.withDefaults()
	return &FileLock{
		path:         path,
		staleTimeout: opts.LockStaleTimeout,
		maxAttempts:  opts.LockMaxAttempts,
		backoffBase:  opts.LockBackoffBase,
		backoffCap:   opts.LockBackoffCap,
	}
}

// TryAcquire makes one acquisition attempt. Exactly one of two
// concurrent callers can succeed: O_EXCL creation is atomic at the
// filesystem level.
func (l *FileLock) TryAcquire() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err == nil {
		_, werr := f.WriteString(time.Now().UTC().Format(time.RFC3339Nano) + "\n")
		cerr := f.Close()
		if werr != nil || cerr != nil {
			_ = os.Remove(l.path)
			return false, fmt.Errorf("failed to write lock file: %w", werr)
		}
		return true, nil
	}
	if !os.IsExist(err) {
		return false, fmt.Errorf("failed to create lock file: %w", err)
	}

	// Lock exists. Clear it and retry once if the holder looks dead.
	if l.isStale() {
		_ = os.Remove(l.path)
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			return false, nil // lost the race to another acquirer
		}
		_, werr := f.WriteString(time.Now().UTC().Format(time.RFC3339Nano) + "\n")
		cerr := f.Close()
		if werr != nil || cerr != nil {
			_ = os.Remove(l.path)
			return false, fmt.Errorf("failed to write lock file: %w", werr)
		}
		return true, nil
	}

	return false, nil
}

// isStale reports whether the current lock holder exceeded the
// staleness timeout. An unreadable or unparsable lock file counts as
// stale.
func (l *FileLock) isStale() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		// Racing Release(); the next attempt will see a free lock.
		return os.IsNotExist(err)
	}

	acquired, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		return true
	}
	return time.Since(acquired) > l.staleTimeout
}

// Acquire blocks until the lock is held, retrying with capped
// exponential backoff up to the attempt budget.
func (l *FileLock) Acquire(ctx context.Context) error {
	backoff := l.backoffBase
	maxBackoff := l.backoffBase * time.Duration(l.backoffCap)

	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		ok, err := l.TryAcquire()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return fmt.Errorf("%w after %d attempts", ErrLockTimeout, l.maxAttempts)
}

// Release removes the marker file. Releasing an unheld lock is a no-op.
func (l *FileLock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
