//go:build !unix

package fsutil

// Lock is a no-op on platforms without flock.
type Lock struct{}

// AcquireLock always succeeds on platforms without flock.
func AcquireLock(path string) (*Lock, error) {
	return &Lock{}, nil
}

// Release is a no-op.
func (l *Lock) Release() error { return nil }
