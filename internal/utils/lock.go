package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileName = ".lock"

// StateLock is an advisory lock on the state directory, held by commands
// that write the cache, the session or a baseline.
type StateLock struct {
	lock *flock.Flock
	path string
}

func NewStateLock(stateDir string) (*StateLock, error) {
	absDir, err := filepath.Abs(stateDir)
	if err != nil {
		return nil, fmt.Errorf("could not resolve state dir: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create state dir: %w", err)
	}
	lockPath := filepath.Join(absDir, lockFileName)
	return &StateLock{
		lock: flock.New(lockPath),
		path: lockPath,
	}, nil
}

func (l *StateLock) Path() string { return l.path }

// Lock acquires the lock, waiting if necessary.
// It will print a message if it has to wait.
func (l *StateLock) Lock() error {
	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}

	if !locked {
		fmt.Fprintf(os.Stderr, "Another stine process is using %s, waiting for it to finish...\n", filepath.Dir(l.path))
		if err := l.lock.Lock(); err != nil {
			return fmt.Errorf("failed to acquire lock on %s after waiting: %w", l.path, err)
		}
	}
	return nil
}

// Unlock releases the lock.
func (l *StateLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil {
		// Suppress error if the lock file doesn't exist, as it means we don't hold the lock.
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}
