// Package indexer discovers every hard link inside the sandbox that shares an
// inode with a given regular file.
//
// Discovery runs in two phases. The fast path inspects the origin's own
// directory. When the filesystem link count says more links exist, a bounded
// walk of the whole sandbox follows. A shortfall against the link count is
// reported as a partial result, never as an error.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"syscall"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/bamsammich/warren/internal/entry"
	"github.com/bamsammich/warren/internal/filter"
	"github.com/bamsammich/warren/internal/linkerr"
	"github.com/bamsammich/warren/internal/metrics"
	"github.com/bamsammich/warren/internal/sandbox"
	"github.com/bamsammich/warren/internal/stats"
	"github.com/bamsammich/warren/internal/telemetry"
)

// DefaultMaxDepth bounds the tree-wide walk. The sandbox root is depth 0.
const DefaultMaxDepth = 20

// Config controls the tree-wide walk.
type Config struct {
	// Exclude prunes directories from the walk. Nil descends everywhere.
	Exclude *filter.Chain

	// Limiter throttles lstat calls. Nil means unthrottled.
	Limiter *rate.Limiter

	Metrics *metrics.Metrics

	// MaxDepth is the deepest directory level listed. Zero means DefaultMaxDepth.
	MaxDepth int

	// Workers is the number of goroutines sharing the walk. Values below 1
	// mean one.
	Workers int
}

// Indexer performs hard-link discovery. It is safe for concurrent use; all
// per-scan state lives in the call.
type Indexer struct {
	sb  *sandbox.Sandbox
	cfg Config
}

// New creates an Indexer over sb.
func New(sb *sandbox.Sandbox, cfg Config) *Indexer {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Indexer{sb: sb, cfg: cfg}
}

// DefaultWorkers is a worker count suited to the host.
func DefaultWorkers() int {
	return min(runtime.NumCPU(), 8)
}

// NewStatLimiter caps lstat calls at perSec. The burst is capped at 64 so a
// throttled walk still makes steady progress through small directories.
func NewStatLimiter(perSec int) *rate.Limiter {
	burst := 64
	if perSec < burst {
		burst = perSec
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// HardLinkSet is the result of one discovery scan.
type HardLinkSet struct {
	Origin entry.Descriptor `json:"origin"`

	// Discovered holds the other names of the origin's inode, sorted by
	// RelPath. The origin itself is never included.
	Discovered []entry.Descriptor `json:"hardlinks"`

	Stats stats.Snapshot `json:"stats"`
	Inode entry.DevIno   `json:"inode"`

	// LinkCount is the filesystem's link count for the inode, origin included.
	// Zero means the platform reported none.
	LinkCount uint64 `json:"linkCount"`

	// Partial is set when fewer links were found than LinkCount promises:
	// some live outside the sandbox, below the depth cap or in excluded or
	// unreadable directories.
	Partial bool `json:"partial"`

	// Complete is set when every link promised by LinkCount was found.
	Complete bool `json:"complete"`
}

// Found returns the number of discovered links, origin excluded.
func (s HardLinkSet) Found() int { return len(s.Discovered) }

// FindHardLinks discovers every other name of the regular file at rel.
func (ix *Indexer) FindHardLinks(ctx context.Context, rel string) (HardLinkSet, error) {
	ctx, span := telemetry.StartSpan(ctx, "indexer.FindHardLinks",
		attribute.String(telemetry.AttrPath, rel))
	defer span.End()

	set, err := ix.findHardLinks(ctx, rel)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return HardLinkSet{}, err
	}

	telemetry.SetAttributes(ctx,
		attribute.String(telemetry.AttrInode, set.Inode.String()),
		attribute.Int64(telemetry.AttrLinkCount, int64(set.LinkCount)), //nolint:gosec // link counts fit in int64
		attribute.Int(telemetry.AttrFound, set.Found()),
		attribute.Bool(telemetry.AttrPartial, set.Partial),
		attribute.Bool(telemetry.AttrTreeWalk, set.Stats.TreeWalked),
	)
	ix.cfg.Metrics.ObserveScan(set.Stats, set.Found(), set.Partial)
	slog.Debug("hard-link scan finished",
		"path", set.Origin.RelPath,
		"inode", set.Inode.String(),
		"links", set.LinkCount,
		"found", set.Found(),
		"partial", set.Partial,
		"stats", set.Stats.String(),
	)
	return set, nil
}

func (ix *Indexer) findHardLinks(ctx context.Context, rel string) (HardLinkSet, error) {
	abs, err := ix.sb.Resolve(rel)
	if err != nil {
		return HardLinkSet{}, err
	}

	// The origin is the physical file. A symlink origin must lead to a file
	// inside the sandbox, and the walk then treats the file's own name as the
	// origin rather than as one of its links.
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// EvalSymlinks reports loops with its own error, so ask the kernel.
		if _, statErr := os.Stat(abs); isNotExist(statErr) || errors.Is(statErr, syscall.ELOOP) {
			return HardLinkSet{}, linkerr.New(linkerr.NotFound, "find-hardlinks", rel, err)
		}
		return HardLinkSet{}, fmt.Errorf("resolve %s: %w", rel, err)
	}
	if !ix.sb.Contains(real) {
		return HardLinkSet{}, linkerr.New(linkerr.AccessDenied, "find-hardlinks", rel, nil)
	}

	origin, ok, err := entry.Lstat(real, ix.sb.ToRelative(real))
	if err != nil {
		if isNotExist(err) {
			return HardLinkSet{}, linkerr.New(linkerr.NotFound, "find-hardlinks", rel, err)
		}
		return HardLinkSet{}, fmt.Errorf("stat %s: %w", rel, err)
	}
	if !ok || origin.Kind != entry.Regular {
		return HardLinkSet{}, linkerr.New(linkerr.NotAFile, "find-hardlinks", rel, nil)
	}

	sc := newScan(ix, origin)
	if err := sc.fastPath(ctx); err != nil {
		return HardLinkSet{}, err
	}
	if !sc.complete() {
		sc.collector.MarkTreeWalked()
		if err := sc.walk(ctx); err != nil {
			return HardLinkSet{}, err
		}
	}
	return sc.result(), nil
}

func (sc *scan) result() HardLinkSet {
	found := sc.snapshot()
	sort.Slice(found, func(i, j int) bool { return found[i].RelPath < found[j].RelPath })

	set := HardLinkSet{
		Origin:     sc.origin,
		Inode:      sc.origin.ID,
		LinkCount:  sc.origin.LinkCount,
		Discovered: found,
		Stats:      sc.collector.Snapshot(),
	}
	if set.LinkCount > 0 {
		total := uint64(len(found)) + 1
		set.Partial = total < set.LinkCount
		set.Complete = total >= set.LinkCount
	}
	return set
}

// lstat throttles through the limiter, then describes abs without following
// a final symlink.
func (sc *scan) lstat(ctx context.Context, abs string) (entry.Descriptor, bool, error) {
	if lim := sc.ix.cfg.Limiter; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return entry.Descriptor{}, false, err
		}
	}
	sc.collector.AddEntriesChecked(1)
	return entry.Lstat(abs, sc.ix.sb.ToRelative(abs))
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
