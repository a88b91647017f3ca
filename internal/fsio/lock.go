package fsio

import (
	"errors"
	"fmt"
	"os"
)

// ErrLockHeld is returned when a non-blocking lock acquisition finds the
// entity already locked by another writer.
var ErrLockHeld = errors.New("entity lock held by another writer")

// Lock is an acquired advisory file lock. Release it with Unlock; Unlock is
// safe to call more than once so it can live in a defer alongside explicit
// early releases.
type Lock struct {
	path string
	f    *os.File
}

// AcquireLock takes an exclusive advisory lock on the given marker file,
// creating the file if needed. It blocks until the lock is available.
// Two concurrent writers to the same entity never interleave writes: the
// second blocks here until the first calls Unlock.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := flockExclusive(f, true); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &Lock{path: path, f: f}, nil
}

// TryAcquireLock is the non-blocking variant of AcquireLock. It returns
// ErrLockHeld if another writer holds the lock.
func TryAcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := flockExclusive(f, false); err != nil {
		_ = f.Close()
		if errors.Is(err, errWouldBlock) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &Lock{path: path, f: f}, nil
}

// Unlock releases the lock and closes the underlying file. The marker file
// is left in place; it carries no state beyond its existence.
func (l *Lock) Unlock() {
	if l == nil || l.f == nil {
		return
	}
	_ = flockRelease(l.f)
	_ = l.f.Close()
	l.f = nil
}

// Path returns the lock marker file path.
func (l *Lock) Path() string {
	return l.path
}
