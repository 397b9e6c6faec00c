package links

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/warren/internal/event"
	"github.com/bamsammich/warren/internal/indexer"
	"github.com/bamsammich/warren/internal/linkerr"
	"github.com/bamsammich/warren/internal/metrics"
	"github.com/bamsammich/warren/internal/sandbox"
)

type fixture struct {
	svc    *Service
	events chan event.Event
	root   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sb, err := sandbox.New(t.TempDir())
	require.NoError(t, err)
	events := make(chan event.Event, 64)
	svc := New(sb, indexer.New(sb, indexer.Config{}),
		WithEvents(events),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
	return &fixture{svc: svc, events: events, root: sb.Root()}
}

func (f *fixture) abs(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(f.abs(rel)), 0o755))
	require.NoError(t, os.WriteFile(f.abs(rel), []byte(content), 0o644))
}

func (f *fixture) drain() []event.Event {
	var out []event.Event
	for {
		select {
		case ev := <-f.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestResolvePath(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	abs, err := f.svc.ResolvePath("a/b")
	require.NoError(t, err)
	assert.Equal(t, f.abs("a/b"), abs)

	_, err = f.svc.ResolvePath("../../etc/passwd")
	assert.ErrorIs(t, err, linkerr.ErrAccessDenied)
}

func TestCreateSymlinkThenInspect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "data/a.txt", "a")

	res, err := f.svc.CreateSymlink(ctx, "data/a.txt", "links/new/b.txt")
	require.NoError(t, err)
	assert.Equal(t, LinkResult{Source: "data/a.txt", Target: "links/new/b.txt", Type: Symbolic}, res)

	raw, err := os.Readlink(f.abs("links/new/b.txt"))
	require.NoError(t, err)
	assert.Equal(t, f.abs("data/a.txt"), raw, "symlinks store the absolute source path")

	tgt, err := f.svc.InspectSymlink(ctx, "links/new/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "data/a.txt", tgt.Target)
	assert.Equal(t, f.abs("data/a.txt"), tgt.AbsoluteTarget)
	assert.False(t, tgt.Broken)

	evs := f.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, event.SymlinkCreated, evs[0].Type)
	assert.Equal(t, "links/new/b.txt", evs[0].Path)
	assert.Equal(t, "data/a.txt", evs[0].Target)
}

func TestInspectSymlinkBroken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "a.txt", "a")

	_, err := f.svc.CreateSymlink(ctx, "a.txt", "b.txt")
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.abs("a.txt")))

	tgt, err := f.svc.InspectSymlink(ctx, "b.txt")
	require.NoError(t, err)
	assert.True(t, tgt.Broken)
	assert.Equal(t, "a.txt", tgt.Target)
}

func TestInspectSymlinkRelative(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "dir/real.txt", "r")
	require.NoError(t, os.MkdirAll(f.abs("other"), 0o755))
	require.NoError(t, os.Symlink("../dir/real.txt", f.abs("other/rel")))

	tgt, err := f.svc.InspectSymlink(context.Background(), "other/rel")
	require.NoError(t, err)
	assert.Equal(t, "dir/real.txt", tgt.Target)
	assert.Equal(t, "../dir/real.txt", tgt.Raw)
	assert.False(t, tgt.Broken)
}

func TestInspectSymlinkOutsideSandboxDenied(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.NoError(t, os.Symlink("/etc/passwd", f.abs("abs-escape")))
	require.NoError(t, os.Symlink("../../../../../../../../etc", f.abs("rel-escape")))

	for _, rel := range []string{"abs-escape", "rel-escape"} {
		_, err := f.svc.InspectSymlink(context.Background(), rel)
		assert.ErrorIs(t, err, linkerr.ErrAccessDenied, rel)
	}
}

func TestInspectSymlinkErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, "plain.txt", "p")

	_, err := f.svc.InspectSymlink(context.Background(), "plain.txt")
	assert.ErrorIs(t, err, linkerr.ErrNotASymlink)

	_, err = f.svc.InspectSymlink(context.Background(), "missing")
	assert.ErrorIs(t, err, linkerr.ErrNotFound)

	_, err = f.svc.InspectSymlink(context.Background(), "../x")
	assert.ErrorIs(t, err, linkerr.ErrAccessDenied)
}

func TestCreateSymlinkErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "src.txt", "s")
	f.write(t, "taken.txt", "original")

	_, err := f.svc.CreateSymlink(ctx, "missing.txt", "new.txt")
	assert.ErrorIs(t, err, linkerr.ErrSourceNotFound)

	_, err = f.svc.CreateSymlink(ctx, "src.txt", "taken.txt")
	assert.ErrorIs(t, err, linkerr.ErrDestinationExists)
	content, readErr := os.ReadFile(f.abs("taken.txt"))
	require.NoError(t, readErr)
	assert.Equal(t, "original", string(content), "existing entries are never overwritten")

	_, err = f.svc.CreateSymlink(ctx, "../outside", "new.txt")
	assert.ErrorIs(t, err, linkerr.ErrAccessDenied)
	assert.NotContains(t, err.Error(), f.root)

	_, err = f.svc.CreateSymlink(ctx, "src.txt", "../../new.txt")
	assert.ErrorIs(t, err, linkerr.ErrAccessDenied)

	_, err = f.svc.CreateSymlink(ctx, "missing.txt", "nested/deep/new.txt")
	assert.ErrorIs(t, err, linkerr.ErrSourceNotFound)
	_, err = os.Lstat(f.abs("nested"))
	assert.ErrorIs(t, err, os.ErrNotExist, "no parent directory is created on failure")

	evs := f.drain()
	require.NotEmpty(t, evs)
	for _, ev := range evs {
		assert.Equal(t, event.OperationFailed, ev.Type)
		assert.Error(t, ev.Error)
	}
}

func TestCreateHardLink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "a.txt", "hello")

	res, err := f.svc.CreateHardLink(ctx, "a.txt", "sub/b.txt")
	require.NoError(t, err)
	assert.Equal(t, Hard, res.Type)

	a, err := os.Stat(f.abs("a.txt"))
	require.NoError(t, err)
	b, err := os.Stat(f.abs("sub/b.txt"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(a, b))

	set, err := f.svc.FindHardLinks(ctx, "a.txt")
	require.NoError(t, err)
	require.Len(t, set.Discovered, 1)
	assert.Equal(t, "sub/b.txt", set.Discovered[0].RelPath)
	assert.Equal(t, uint64(2), set.LinkCount)
}

func TestCreateHardLinkThroughSymlinkSource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "real.txt", "r")
	require.NoError(t, os.Symlink(f.abs("real.txt"), f.abs("alias.txt")))

	_, err := f.svc.CreateHardLink(ctx, "alias.txt", "hard.txt")
	require.NoError(t, err)

	real, err := os.Stat(f.abs("real.txt"))
	require.NoError(t, err)
	hard, err := os.Lstat(f.abs("hard.txt"))
	require.NoError(t, err)
	assert.True(t, hard.Mode().IsRegular())
	assert.True(t, os.SameFile(real, hard))
}

func TestCreateHardLinkErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, os.Mkdir(f.abs("dir"), 0o755))
	f.write(t, "a.txt", "a")
	f.write(t, "b.txt", "b")
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("s"), 0o600))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret"), f.abs("escape")))

	tests := []struct {
		want   error
		source string
		target string
	}{
		{source: "dir", target: "x", want: linkerr.ErrNotAFile},
		{source: "dir", target: "nested/by/dir/x", want: linkerr.ErrNotAFile},
		{source: "missing", target: "nested/by/missing/x", want: linkerr.ErrSourceNotFound},
		{source: "a.txt", target: "b.txt", want: linkerr.ErrDestinationExists},
		{source: "escape", target: "nested/by/escape/x", want: linkerr.ErrAccessDenied},
		{source: "a.txt", target: "../x", want: linkerr.ErrAccessDenied},
	}
	for _, tt := range tests {
		_, err := f.svc.CreateHardLink(ctx, tt.source, tt.target)
		assert.ErrorIs(t, err, tt.want, "%s -> %s", tt.source, tt.target)
	}
	_, err := os.Lstat(f.abs("x"))
	assert.ErrorIs(t, err, os.ErrNotExist, "no entry is created on failure")
	_, err = os.Lstat(f.abs("nested"))
	assert.ErrorIs(t, err, os.ErrNotExist, "no parent directory is created on failure")
}

func TestUpdateSymlink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "old.txt", "o")
	f.write(t, "new.txt", "n")
	_, err := f.svc.CreateSymlink(ctx, "old.txt", "link")
	require.NoError(t, err)
	f.drain()

	res, err := f.svc.UpdateSymlink(ctx, "link", "new.txt")
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{Link: "link", NewTarget: "new.txt"}, res)

	tgt, err := f.svc.InspectSymlink(ctx, "link")
	require.NoError(t, err)
	assert.Equal(t, "new.txt", tgt.Target)

	evs := f.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, event.SymlinkRetargeted, evs[0].Type)
}

func TestUpdateSymlinkErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "file.txt", "f")
	require.NoError(t, os.Symlink(f.abs("file.txt"), f.abs("link")))

	_, err := f.svc.UpdateSymlink(ctx, "file.txt", "x")
	assert.ErrorIs(t, err, linkerr.ErrNotASymlink)

	_, err = f.svc.UpdateSymlink(ctx, "missing", "x")
	assert.ErrorIs(t, err, linkerr.ErrNotFound)

	_, err = f.svc.UpdateSymlink(ctx, "link", "../../etc/passwd")
	assert.ErrorIs(t, err, linkerr.ErrAccessDenied)
	// A rejected target leaves the link untouched.
	raw, err := os.Readlink(f.abs("link"))
	require.NoError(t, err)
	assert.Equal(t, f.abs("file.txt"), raw)
}

func TestUpdateSymlinkIncomplete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "file.txt", "f")
	require.NoError(t, os.Symlink(f.abs("file.txt"), f.abs("link")))
	f.svc.symlink = func(string, string) error { return os.ErrPermission }

	_, err := f.svc.UpdateSymlink(ctx, "link", "file.txt")
	assert.ErrorIs(t, err, linkerr.ErrUpdateIncomplete)
	assert.ErrorIs(t, err, os.ErrPermission)

	_, err = os.Lstat(f.abs("link"))
	assert.ErrorIs(t, err, os.ErrNotExist, "the old link is gone")
}

func TestDeleteLink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "a.txt", "a")
	require.NoError(t, os.Link(f.abs("a.txt"), f.abs("b.txt")))
	require.NoError(t, os.Symlink(f.abs("a.txt"), f.abs("sym")))
	require.NoError(t, os.Mkdir(f.abs("dir"), 0o755))

	require.NoError(t, f.svc.DeleteLink(ctx, "b.txt"))
	require.NoError(t, f.svc.DeleteLink(ctx, "sym"))

	_, err := os.Lstat(f.abs("b.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Lstat(f.abs("sym"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	data, err := os.ReadFile(f.abs("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(data), "removing one name keeps the inode")

	assert.ErrorIs(t, f.svc.DeleteLink(ctx, "dir"), linkerr.ErrNotAFile)
	assert.ErrorIs(t, f.svc.DeleteLink(ctx, "missing"), linkerr.ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteLink(ctx, "../a.txt"), linkerr.ErrAccessDenied)
}

func TestDeleteAllLinks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "f.txt", "f")
	require.NoError(t, os.Link(f.abs("f.txt"), f.abs("g.txt")))
	require.NoError(t, os.MkdirAll(f.abs("deep/er"), 0o755))
	require.NoError(t, os.Link(f.abs("f.txt"), f.abs("deep/er/h.txt")))
	f.drain()

	res, err := f.svc.DeleteAllLinks(ctx, "f.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, res.DeletedCount())
	assert.ElementsMatch(t, []string{"g.txt", "deep/er/h.txt"}, res.Deleted)
	assert.Empty(t, res.Skipped)
	assert.False(t, res.Partial)

	_, err = os.Stat(f.abs("f.txt"))
	require.NoError(t, err, "origin stays")

	set, err := f.svc.FindHardLinks(ctx, "f.txt")
	require.NoError(t, err)
	assert.Empty(t, set.Discovered)
	assert.Equal(t, uint64(1), set.LinkCount)

	var purged bool
	for _, ev := range f.drain() {
		if ev.Type == event.LinksPurged {
			purged = true
			assert.Equal(t, 2, ev.Count)
		}
	}
	assert.True(t, purged)
}

func TestDeleteAllLinksThroughSymlinkOrigin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "data.txt", "payload")
	require.NoError(t, os.Link(f.abs("data.txt"), f.abs("data2.txt")))
	require.NoError(t, os.Symlink("data.txt", f.abs("alias")))
	f.drain()

	res, err := f.svc.DeleteAllLinks(ctx, "alias")
	require.NoError(t, err)
	assert.Equal(t, "data.txt", res.Origin)
	assert.Equal(t, []string{"data2.txt"}, res.Deleted)
	assert.Empty(t, res.Skipped)

	data, err := os.ReadFile(f.abs("data.txt"))
	require.NoError(t, err, "the physical file survives")
	assert.Equal(t, "payload", string(data))

	target, err := os.Readlink(f.abs("alias"))
	require.NoError(t, err)
	assert.Equal(t, "data.txt", target)
	data, err = os.ReadFile(f.abs("alias"))
	require.NoError(t, err, "the symlink still resolves")
	assert.Equal(t, "payload", string(data))
}

func TestDeleteAllLinksErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, os.Mkdir(f.abs("dir"), 0o755))

	_, err := f.svc.DeleteAllLinks(ctx, "dir")
	assert.ErrorIs(t, err, linkerr.ErrNotAFile)
	_, err = f.svc.DeleteAllLinks(ctx, "nope")
	assert.ErrorIs(t, err, linkerr.ErrNotFound)
	_, err = f.svc.DeleteAllLinks(ctx, "../../x")
	assert.ErrorIs(t, err, linkerr.ErrAccessDenied)
}

func TestEventsNeverBlock(t *testing.T) {
	t.Parallel()
	sb, err := sandbox.New(t.TempDir())
	require.NoError(t, err)
	full := make(chan event.Event) // unbuffered, nobody reading
	svc := New(sb, indexer.New(sb, indexer.Config{}), WithEvents(full))
	require.NoError(t, os.WriteFile(filepath.Join(sb.Root(), "a"), nil, 0o644))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.CreateSymlink(context.Background(), "a", "b")
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("CreateSymlink blocked on the event channel")
	}
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "NotFound", outcome(linkerr.New(linkerr.NotFound, "x", "y", nil)))
	assert.Equal(t, "error", outcome(os.ErrPermission))
}
