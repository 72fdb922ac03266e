// Package lock keeps two processes from rewriting the same archive at once.
package lock

import (
	"errors"
	"os"
	"path/filepath"
)

var ErrBusy = errors.New("archive is being modified by another process")

type Lock struct {
	f *os.File
}

// Path is the lock file guarding name, a hidden sibling of it.
func Path(name string) string {
	return filepath.Join(filepath.Dir(name), "."+filepath.Base(name)+".lock")
}

// Acquire takes an exclusive advisory lock on Path(name) without waiting.
func Acquire(name string) (*Lock, error) {
	f, err := os.OpenFile(Path(name), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := flock(f); err != nil {
		f.Close()
		return nil, err
	}
	return &Lock{f: f}, nil
}

// Release drops the lock. The lock file is never removed, so every
// process contends on the same inode.
func (l *Lock) Release() error {
	unflock(l.f)
	return l.f.Close()
}
