//go:build linux || darwin

package links

import (
	"os"

	"golang.org/x/sys/unix"
)

// hardLink creates dst as a new name for src. AT_SYMLINK_FOLLOW makes a
// symlink source link the file it resolves to rather than the symlink.
func hardLink(src, dst string) error {
	if err := unix.Linkat(unix.AT_FDCWD, src, unix.AT_FDCWD, dst, unix.AT_SYMLINK_FOLLOW); err != nil {
		return &os.LinkError{Op: "link", Old: src, New: dst, Err: err}
	}
	return nil
}
