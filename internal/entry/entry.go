// Package entry describes filesystem entries under inspection: their kind,
// their file identity and their hard-link count.
package entry

import (
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Kind is the closed set of entry kinds the link subsystem acts on.
type Kind int

const (
	Regular Kind = iota + 1
	Directory
	Symlink
)

var kindNames = [...]string{
	Regular:   "file",
	Directory: "directory",
	Symlink:   "symlink",
}

func (k Kind) String() string {
	if k > 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// KindOf classifies a file mode. ok is false for devices, sockets, fifos and
// other entries the link subsystem never operates on.
func KindOf(mode fs.FileMode) (kind Kind, ok bool) {
	switch {
	case mode&fs.ModeSymlink != 0:
		return Symlink, true
	case mode.IsDir():
		return Directory, true
	case mode.IsRegular():
		return Regular, true
	default:
		return 0, false
	}
}

// DevIno uniquely identifies an inode.
type DevIno struct {
	Dev uint64 `json:"dev"`
	Ino uint64 `json:"ino"`
}

func (d DevIno) String() string {
	return fmt.Sprintf("%d:%d", d.Dev, d.Ino)
}

// Descriptor is a transient view of one directory entry.
type Descriptor struct {
	ModTime   time.Time `json:"modTime"`
	RelPath   string    `json:"path"` // root-relative, forward slashes, no leading slash
	AbsPath   string    `json:"absolutePath"`
	Size      int64     `json:"size"`
	ID        DevIno    `json:"id"`        // zero for symlinks
	LinkCount uint64    `json:"linkCount"` // meaningful for Regular only
	Kind      Kind      `json:"kind"`
}

// HasIdentity reports whether the descriptor carries a usable file identity.
func (d Descriptor) HasIdentity() bool {
	switch d.Kind {
	case Regular, Directory:
		return d.ID != (DevIno{})
	case Symlink:
		return false
	default:
		return false
	}
}

// FromFileInfo builds a Descriptor from info. ok is false when the entry kind
// is not one of Regular, Directory or Symlink.
func FromFileInfo(info fs.FileInfo, relPath, absPath string) (d Descriptor, ok bool) {
	kind, ok := KindOf(info.Mode())
	if !ok {
		return Descriptor{}, false
	}
	d = Descriptor{
		RelPath: relPath,
		AbsPath: absPath,
		Kind:    kind,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}

	switch kind {
	case Regular:
		d.ID, d.LinkCount = identity(info)
	case Directory:
		d.ID, _ = identity(info)
	case Symlink:
	}
	return d, true
}

// Lstat describes absPath without following a final symlink.
func Lstat(absPath, relPath string) (Descriptor, bool, error) {
	info, err := os.Lstat(absPath)
	if err != nil {
		return Descriptor{}, false, err
	}
	d, ok := FromFileInfo(info, relPath, absPath)
	return d, ok, nil
}

// Stat describes absPath, following symlinks.
func Stat(absPath, relPath string) (Descriptor, bool, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return Descriptor{}, false, err
	}
	d, ok := FromFileInfo(info, relPath, absPath)
	return d, ok, nil
}
