package links

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bamsammich/warren/internal/entry"
	"github.com/bamsammich/warren/internal/event"
	"github.com/bamsammich/warren/internal/linkerr"
)

// CreateSymlink creates a symbolic link at target pointing at the absolute
// path of source. Missing parent directories of target are created. An
// existing entry at target is never overwritten.
func (s *Service) CreateSymlink(ctx context.Context, source, target string) (res LinkResult, err error) {
	_, finish := s.begin(ctx, OpCreateSymlink, target)
	defer func() { finish(err) }()

	srcAbs, dstAbs, err := s.prepare("symlink", source, target)
	if err != nil {
		return LinkResult{}, s.fail(OpCreateSymlink, target, err)
	}

	if err := makeParent(dstAbs, target); err != nil {
		return LinkResult{}, s.fail(OpCreateSymlink, target, err)
	}
	if err := s.symlink(srcAbs, dstAbs); err != nil {
		return LinkResult{}, s.fail(OpCreateSymlink, target, createError("symlink", target, err))
	}

	res = LinkResult{Source: s.sb.ToRelative(srcAbs), Target: s.sb.ToRelative(dstAbs), Type: Symbolic}
	ev := event.New(event.SymlinkCreated, res.Target)
	ev.Target = res.Source
	s.emit(ev)
	return res, nil
}

// CreateHardLink adds a new name for the regular file at source. A symlink
// source links the file it points at.
func (s *Service) CreateHardLink(ctx context.Context, source, target string) (res LinkResult, err error) {
	_, finish := s.begin(ctx, OpCreateHardLink, target)
	defer func() { finish(err) }()

	srcAbs, dstAbs, err := s.prepare("hardlink", source, target)
	if err != nil {
		return LinkResult{}, s.fail(OpCreateHardLink, target, err)
	}

	src, ok, err := entry.Stat(srcAbs, source)
	switch {
	case err != nil && isNotExist(err):
		// Dangling symlink source.
		return LinkResult{}, s.fail(OpCreateHardLink, target, linkerr.New(linkerr.SourceNotFound, "hardlink", source, err))
	case err != nil:
		return LinkResult{}, s.fail(OpCreateHardLink, target, fmt.Errorf("stat %s: %w", source, err))
	case !ok || src.Kind != entry.Regular:
		return LinkResult{}, s.fail(OpCreateHardLink, target, linkerr.New(linkerr.NotAFile, "hardlink", source, nil))
	}

	// The link follows a symlink source, so the file it reaches must be
	// inside the sandbox too.
	if real, err := filepath.EvalSymlinks(srcAbs); err != nil || !s.sb.Contains(real) {
		return LinkResult{}, s.fail(OpCreateHardLink, target, linkerr.New(linkerr.AccessDenied, "hardlink", source, err))
	}

	if err := makeParent(dstAbs, target); err != nil {
		return LinkResult{}, s.fail(OpCreateHardLink, target, err)
	}
	if err := hardLink(srcAbs, dstAbs); err != nil {
		return LinkResult{}, s.fail(OpCreateHardLink, target, createError("hardlink", target, err))
	}

	res = LinkResult{Source: s.sb.ToRelative(srcAbs), Target: s.sb.ToRelative(dstAbs), Type: Hard}
	ev := event.New(event.HardlinkCreated, res.Target)
	ev.Target = res.Source
	s.emit(ev)
	return res, nil
}

// prepare resolves both paths and checks the source exists and the target
// does not. It changes nothing on disk.
func (s *Service) prepare(op, source, target string) (srcAbs, dstAbs string, err error) {
	if srcAbs, err = s.sb.Resolve(source); err != nil {
		return "", "", err
	}
	if dstAbs, err = s.sb.Resolve(target); err != nil {
		return "", "", err
	}

	if _, err := os.Lstat(srcAbs); err != nil {
		if isNotExist(err) {
			return "", "", linkerr.New(linkerr.SourceNotFound, op, source, err)
		}
		return "", "", fmt.Errorf("lstat %s: %w", source, err)
	}

	if _, err := os.Lstat(dstAbs); err == nil {
		return "", "", linkerr.New(linkerr.DestinationExists, op, target, nil)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", "", fmt.Errorf("lstat %s: %w", target, err)
	}
	return srcAbs, dstAbs, nil
}

// makeParent creates the missing parent directories of a new link. It runs
// only once every precondition has passed.
func makeParent(dstAbs, target string) error {
	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", target, err)
	}
	return nil
}

// createError classifies a failed link creation. EEXIST means another
// writer won the race for the target name.
func createError(op, target string, err error) error {
	if errors.Is(err, fs.ErrExist) {
		return linkerr.New(linkerr.DestinationExists, op, target, err)
	}
	return fmt.Errorf("%s %s: %w", op, target, err)
}
