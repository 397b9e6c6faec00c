//go:build unix

package entry

import (
	"io/fs"
	"syscall"
)

// identity extracts the device/inode pair and hard-link count from info.
func identity(info fs.FileInfo) (DevIno, uint64) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return DevIno{}, 0
	}
	//nolint:unconvert // Dev and Nlink widths differ across platforms
	return DevIno{Dev: uint64(stat.Dev), Ino: uint64(stat.Ino)}, uint64(stat.Nlink)
}
