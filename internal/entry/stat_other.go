//go:build !unix

package entry

import "io/fs"

// identity is unavailable without syscall.Stat_t; callers treat a zero link
// count as unknown.
func identity(fs.FileInfo) (DevIno, uint64) {
	return DevIno{}, 0
}
