// Package lock implements the single-instance file lock the Run
// Supervisor acquires at startup: if the lock file already exists,
// another instance is presumed running and this process exits
// immediately without touching anything else.
package lock

import (
	"fmt"
	"os"
	"strconv"
)

// Lock is a held single-instance lock. Release removes the lock file;
// it is safe to call more than once.
type Lock struct {
	path     string
	released bool
}

// Acquire creates path exclusively, writing this process's PID as its
// contents. If path already exists, ErrHeld is returned and no lock is
// held.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("lock: create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("lock: write pid to %s: %w", path, err)
	}

	return &Lock{path: path}, nil
}

// ErrHeld means the lock file already exists: another instance is
// presumed running.
var ErrHeld = lockErr("lock: already held by another instance")

type lockErr string

func (e lockErr) Error() string { return string(e) }

// Release removes the lock file. Call on every exit path, including
// after a panic recovery, so a crashed run never wedges the next one.
func (l *Lock) Release() error {
	if l.released {
		return nil
	}
	l.released = true
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lock: remove %s: %w", l.path, err)
	}
	return nil
}
