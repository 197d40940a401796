//go:build linux || darwin

package volume

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// identify uses the filesystem id from statfs. A directory on the same
// filesystem as the media root is an empty mount point, not a card.
func identify(root, path string) (string, bool, error) {
	var rootFS, volFS unix.Statfs_t
	if err := unix.Statfs(root, &rootFS); err != nil {
		return "", false, fmt.Errorf("statfs %s: %w", root, err)
	}
	if err := unix.Statfs(path, &volFS); err != nil {
		return "", false, fmt.Errorf("statfs %s: %w", path, err)
	}
	if rootFS.Fsid == volFS.Fsid {
		return "", false, nil
	}
	return cardID(filepath.Base(path), volFS.Fsid.Val), true, nil
}
