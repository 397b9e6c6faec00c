package links

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/bamsammich/warren/internal/entry"
	"github.com/bamsammich/warren/internal/event"
	"github.com/bamsammich/warren/internal/linkerr"
)

// InspectSymlink reads the symlink at rel and reports where it points. A
// target outside the sandbox is rejected with AccessDenied.
func (s *Service) InspectSymlink(ctx context.Context, rel string) (res SymlinkTarget, err error) {
	_, finish := s.begin(ctx, OpInspect, rel)
	defer func() { finish(err) }()

	abs, err := s.requireSymlink("inspect", rel)
	if err != nil {
		return SymlinkTarget{}, err
	}

	raw, err := os.Readlink(abs)
	if err != nil {
		if isNotExist(err) {
			return SymlinkTarget{}, linkerr.New(linkerr.NotFound, "inspect", rel, err)
		}
		return SymlinkTarget{}, fmt.Errorf("readlink %s: %w", rel, err)
	}

	targetAbs := raw
	if !filepath.IsAbs(targetAbs) {
		targetAbs = filepath.Join(filepath.Dir(abs), raw)
	}
	targetAbs = filepath.Clean(targetAbs)
	if !s.sb.Contains(targetAbs) {
		return SymlinkTarget{}, linkerr.New(linkerr.AccessDenied, "inspect", rel, nil)
	}
	targetRel := s.sb.ToRelative(targetAbs)
	// The target's own ancestors must not lead out either.
	if _, err := s.sb.Resolve(targetRel); err != nil {
		return SymlinkTarget{}, linkerr.New(linkerr.AccessDenied, "inspect", rel, nil)
	}

	broken, err := isBroken(abs)
	if err != nil {
		return SymlinkTarget{}, fmt.Errorf("stat %s: %w", rel, err)
	}

	return SymlinkTarget{
		Link:           s.sb.ToRelative(abs),
		Target:         targetRel,
		AbsoluteTarget: targetAbs,
		Raw:            raw,
		Broken:         broken,
	}, nil
}

// isBroken follows the link. A missing target or a symlink loop is broken.
func isBroken(abs string) (bool, error) {
	_, err := os.Stat(abs)
	switch {
	case err == nil:
		return false, nil
	case isNotExist(err), errors.Is(err, syscall.ELOOP):
		return true, nil
	default:
		return false, err
	}
}

// UpdateSymlink points the symlink at rel to newTarget. The old link is
// removed before the new one is created; if creation fails the link is
// absent and UpdateIncomplete is returned.
func (s *Service) UpdateSymlink(ctx context.Context, rel, newTarget string) (res UpdateResult, err error) {
	_, finish := s.begin(ctx, OpUpdate, rel)
	defer func() { finish(err) }()

	abs, err := s.requireSymlink("update-symlink", rel)
	if err != nil {
		return UpdateResult{}, s.fail(OpUpdate, rel, err)
	}
	targetAbs, err := s.sb.Resolve(newTarget)
	if err != nil {
		return UpdateResult{}, s.fail(OpUpdate, rel, err)
	}

	if err := os.Remove(abs); err != nil {
		if isNotExist(err) {
			return UpdateResult{}, s.fail(OpUpdate, rel, linkerr.New(linkerr.NotFound, "update-symlink", rel, err))
		}
		return UpdateResult{}, s.fail(OpUpdate, rel, fmt.Errorf("remove %s: %w", rel, err))
	}
	if err := s.symlink(targetAbs, abs); err != nil {
		return UpdateResult{}, s.fail(OpUpdate, rel, linkerr.New(linkerr.UpdateIncomplete, "update-symlink", rel, err))
	}

	res = UpdateResult{Link: s.sb.ToRelative(abs), NewTarget: s.sb.ToRelative(targetAbs)}
	ev := event.New(event.SymlinkRetargeted, res.Link)
	ev.Target = res.NewTarget
	s.emit(ev)
	return res, nil
}

// requireSymlink resolves rel and confirms it names a symlink, without
// following it.
func (s *Service) requireSymlink(op, rel string) (string, error) {
	abs, err := s.sb.Resolve(rel)
	if err != nil {
		return "", err
	}
	d, ok, err := entry.Lstat(abs, rel)
	if err != nil {
		if isNotExist(err) {
			return "", linkerr.New(linkerr.NotFound, op, rel, err)
		}
		return "", fmt.Errorf("lstat %s: %w", rel, err)
	}
	if !ok || d.Kind != entry.Symlink {
		return "", linkerr.New(linkerr.NotASymlink, op, rel, nil)
	}
	return abs, nil
}
