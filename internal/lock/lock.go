// Package lock keeps a single watcher running per user.
package lock

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/goodtune/usageminder/internal/storage"
)

// ErrHeld is returned when another process owns the lock.
var ErrHeld = errors.New("another instance is already running")

// Instance is an acquired instance lock.
type Instance struct {
	flock *flock.Flock
}

// Acquire takes the lock at path without blocking.
func Acquire(path string) (*Instance, error) {
	if err := storage.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, ErrHeld
	}
	return &Instance{flock: fl}, nil
}

// Path returns the lock file path.
func (i *Instance) Path() string {
	return i.flock.Path()
}

// Release unlocks. Calling it more than once is harmless.
func (i *Instance) Release() error {
	if err := i.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Running reports whether some process currently holds the lock at path.
func Running(path string) (bool, error) {
	inst, err := Acquire(path)
	if errors.Is(err, ErrHeld) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, inst.Release()
}
