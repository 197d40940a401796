//go:build linux

package fsutil

import (
	"io/fs"
	"syscall"
	"time"
)

// CreatedAt returns the best available creation time for a file.
// Linux stat does not expose birth time, so the inode change time is used
// and falls back to the modification time when stat data is unavailable.
func CreatedAt(info fs.FileInfo) time.Time {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime()
	}
	ctime := time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec)
	if ctime.After(info.ModTime()) {
		return info.ModTime()
	}
	return ctime
}
