//go:build !linux && !darwin

package links

import (
	"os"
	"path/filepath"
)

// hardLink creates dst as a new name for the file src resolves to.
func hardLink(src, dst string) error {
	real, err := filepath.EvalSymlinks(src)
	if err != nil {
		return err
	}
	return os.Link(real, dst)
}
