//go:build !linux

package fsutil

import (
	"io/fs"
	"time"
)

// CreatedAt returns the modification time on platforms without a portable
// stat layout.
func CreatedAt(info fs.FileInfo) time.Time {
	return info.ModTime()
}
