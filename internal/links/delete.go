package links

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bamsammich/warren/internal/entry"
	"github.com/bamsammich/warren/internal/event"
	"github.com/bamsammich/warren/internal/linkerr"
)

// DeleteLink removes the directory entry at rel. Regular files and symlinks
// are removable; the inode's data is released by the filesystem once its
// last name is gone.
func (s *Service) DeleteLink(ctx context.Context, rel string) (err error) {
	_, finish := s.begin(ctx, OpDelete, rel)
	defer func() { finish(err) }()

	abs, err := s.sb.Resolve(rel)
	if err != nil {
		return s.fail(OpDelete, rel, err)
	}
	d, ok, err := entry.Lstat(abs, rel)
	if err != nil {
		if isNotExist(err) {
			return s.fail(OpDelete, rel, linkerr.New(linkerr.NotFound, "delete", rel, err))
		}
		return s.fail(OpDelete, rel, fmt.Errorf("lstat %s: %w", rel, err))
	}
	if !ok {
		return s.fail(OpDelete, rel, linkerr.New(linkerr.NotAFile, "delete", rel, nil))
	}

	switch d.Kind {
	case entry.Regular, entry.Symlink:
	case entry.Directory:
		return s.fail(OpDelete, rel, linkerr.New(linkerr.NotAFile, "delete", rel, nil))
	}

	if err := os.Remove(abs); err != nil {
		if isNotExist(err) {
			return s.fail(OpDelete, rel, linkerr.New(linkerr.NotFound, "delete", rel, err))
		}
		return s.fail(OpDelete, rel, fmt.Errorf("remove %s: %w", rel, err))
	}

	ev := event.New(event.LinkDeleted, s.sb.ToRelative(abs))
	ev.Count = 1
	s.emit(ev)
	return nil
}

// DeleteAllLinks removes every discovered hard link of the file at rel and
// keeps the origin. Each link is re-checked before removal and only removed
// if it still names the same inode.
func (s *Service) DeleteAllLinks(ctx context.Context, rel string) (res DeleteAllResult, err error) {
	ctx, finish := s.begin(ctx, OpDeleteAll, rel)
	defer func() { finish(err) }()

	set, err := s.ix.FindHardLinks(ctx, rel)
	if err != nil {
		return DeleteAllResult{}, s.fail(OpDeleteAll, rel, err)
	}

	res = DeleteAllResult{
		Origin:  set.Origin.RelPath,
		Deleted: make([]string, 0, len(set.Discovered)),
		Skipped: []string{},
		Partial: set.Partial,
	}

	for _, d := range set.Discovered {
		if err := ctx.Err(); err != nil {
			return res, s.fail(OpDeleteAll, rel, err)
		}

		cur, ok, err := entry.Lstat(d.AbsPath, d.RelPath)
		if err != nil || !ok || cur.Kind != entry.Regular || cur.ID != set.Inode {
			slog.Debug("hard link changed before removal, skipping", "path", d.RelPath)
			res.Skipped = append(res.Skipped, d.RelPath)
			continue
		}

		if err := os.Remove(d.AbsPath); err != nil {
			if isNotExist(err) {
				res.Skipped = append(res.Skipped, d.RelPath)
				continue
			}
			return res, s.fail(OpDeleteAll, rel, fmt.Errorf("remove %s: %w", d.RelPath, err))
		}
		res.Deleted = append(res.Deleted, d.RelPath)
	}

	ev := event.New(event.LinksPurged, res.Origin)
	ev.Count = res.DeletedCount()
	s.emit(ev)
	return res, nil
}
