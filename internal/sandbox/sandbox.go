// Package sandbox confines client-supplied paths to a single root directory.
//
// Every other package reaches the filesystem through Resolve, which is the
// only place the containment boundary is enforced.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/bamsammich/warren/internal/linkerr"
)

var (
	errEscapes  = errors.New("resolves outside sandbox root")
	errDangling = errors.New("ancestor is a dangling symlink")
)

// Sandbox maps root-relative paths to absolute paths below a fixed root.
// It is immutable and safe for concurrent use.
type Sandbox struct {
	root string
}

// New creates a sandbox rooted at root. The root is made absolute and has its
// own symlinks evaluated so containment checks compare physical paths.
func New(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox root %q: %w", root, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("sandbox root %q: %w", root, err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, fmt.Errorf("sandbox root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %q is not a directory", root)
	}
	return &Sandbox{root: real}, nil
}

// Root returns the absolute sandbox root.
func (s *Sandbox) Root() string { return s.root }

// Contains reports whether abs (already cleaned) is the root or lies below it.
func (s *Sandbox) Contains(abs string) bool {
	if abs == s.root {
		return true
	}
	prefix := s.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(abs, prefix)
}

// Resolve maps a client-supplied relative path to an absolute path inside the
// sandbox. A leading slash is accepted and means the sandbox root.
//
// The final path component is never followed, so callers can lstat a symlink
// they resolved. Every existing ancestor directory is evaluated physically and
// must stay inside the root as well.
func (s *Sandbox) Resolve(rel string) (string, error) {
	if !utf8.ValidString(rel) || strings.ContainsRune(rel, 0) {
		return "", linkerr.New(linkerr.AccessDenied, "resolve", rel, errors.New("invalid path encoding"))
	}

	clean := strings.TrimLeft(filepath.FromSlash(rel), string(filepath.Separator))
	abs := filepath.Join(s.root, clean)
	if !s.Contains(abs) {
		return "", linkerr.New(linkerr.AccessDenied, "resolve", rel, errEscapes)
	}

	if err := s.checkAncestors(abs); err != nil {
		if errors.Is(err, errEscapes) || errors.Is(err, errDangling) {
			return "", linkerr.New(linkerr.AccessDenied, "resolve", rel, err)
		}
		return "", fmt.Errorf("resolve %s: %w", rel, err)
	}
	return abs, nil
}

// checkAncestors finds the deepest existing ancestor of abs and verifies its
// physical location is contained. Only errEscapes and errDangling are
// containment failures; anything else is an I/O fault.
func (s *Sandbox) checkAncestors(abs string) error {
	dir := filepath.Dir(abs)
	for s.Contains(dir) {
		_, err := os.Lstat(dir)
		switch {
		case err == nil:
			real, evalErr := filepath.EvalSymlinks(dir)
			if evalErr != nil {
				if unresolvable(dir) {
					return fmt.Errorf("%w: %s: %w", errDangling, dir, evalErr)
				}
				return fmt.Errorf("evaluate %s: %w", dir, evalErr)
			}
			if !s.Contains(real) {
				return errEscapes
			}
			return nil
		case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
			dir = filepath.Dir(dir)
		default:
			return fmt.Errorf("lstat %s: %w", dir, err)
		}
	}
	return nil
}

// unresolvable reports whether following abs ends at nothing: a missing
// target, a non-directory in the chain, or a symlink loop.
func unresolvable(abs string) bool {
	_, err := os.Stat(abs)
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) ||
		errors.Is(err, syscall.ELOOP)
}

// ToRelative maps an absolute path inside the sandbox back to the
// root-relative, forward-slash form returned to clients. The root itself maps
// to "".
func (s *Sandbox) ToRelative(abs string) string {
	rel := strings.TrimPrefix(filepath.Clean(abs), s.root)
	rel = strings.TrimLeft(rel, string(filepath.Separator))
	return filepath.ToSlash(rel)
}
