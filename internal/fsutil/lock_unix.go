//go:build unix

package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"cardsync-go/internal/agent"
)

// Lock is an exclusive advisory lock on a file.
type Lock struct {
	f *os.File
}

// AcquireLock takes a non-blocking exclusive flock on path, creating it if needed.
// Returns agent.ErrLocked if another process holds it.
func AcquireLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, agent.ErrLocked
		}
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}

	return &Lock{f: f}, nil
}

// Release drops the lock. The lock file is left in place so that a racing
// process never locks an unlinked inode.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
