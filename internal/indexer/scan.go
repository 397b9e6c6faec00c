package indexer

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bamsammich/warren/internal/entry"
	"github.com/bamsammich/warren/internal/stats"
)

// scan is the state of one FindHardLinks call.
type scan struct {
	ix        *Indexer
	collector *stats.Collector
	found     map[string]entry.Descriptor // by absolute path
	visited   map[entry.DevIno]struct{}
	origin    entry.Descriptor
	originDir string

	// originDirID is the physical identity of the origin's directory, so the
	// walk recognises it under any name.
	originDirID entry.DevIno
	rootDev     uint64

	mu sync.Mutex
}

func newScan(ix *Indexer, origin entry.Descriptor) *scan {
	sc := &scan{
		ix:        ix,
		collector: stats.NewCollector(),
		found:     make(map[string]entry.Descriptor),
		visited:   make(map[entry.DevIno]struct{}),
		origin:    origin,
		originDir: filepath.Dir(origin.AbsPath),
	}
	if d, ok, err := entry.Stat(sc.originDir, ""); err == nil && ok {
		sc.originDirID = d.ID
	}
	return sc
}

// add records a discovered link. Duplicates by path are ignored.
func (sc *scan) add(d entry.Descriptor) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if _, dup := sc.found[d.AbsPath]; dup {
		return false
	}
	sc.found[d.AbsPath] = d
	sc.collector.AddMatches(1)
	return true
}

// complete reports whether the link count is satisfied. An unknown link count
// never completes, so the walk always runs to the end.
func (sc *scan) complete() bool {
	if sc.origin.LinkCount == 0 {
		return false
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return uint64(len(sc.found))+1 >= sc.origin.LinkCount
}

func (sc *scan) snapshot() []entry.Descriptor {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]entry.Descriptor, 0, len(sc.found))
	for _, d := range sc.found {
		out = append(out, d)
	}
	return out
}

// markVisited returns false if the directory was already seen.
func (sc *scan) markVisited(id entry.DevIno) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if _, seen := sc.visited[id]; seen {
		return false
	}
	sc.visited[id] = struct{}{}
	return true
}

// matches reports whether d is another name of the origin's inode.
func (sc *scan) matches(d entry.Descriptor) bool {
	switch d.Kind {
	case entry.Regular:
		return d.ID == sc.origin.ID && d.AbsPath != sc.origin.AbsPath
	case entry.Directory, entry.Symlink:
		return false
	default:
		return false
	}
}

// fastPath inspects the origin's own directory.
func (sc *scan) fastPath(ctx context.Context) error {
	if sc.complete() {
		return nil
	}
	entries, err := os.ReadDir(sc.originDir)
	if err != nil {
		sc.collector.AddEntriesSkipped(1)
	}
	sc.collector.AddDirsVisited(1)

	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		abs := filepath.Join(sc.originDir, de.Name())
		if abs == sc.origin.AbsPath {
			continue
		}
		d, ok, err := sc.lstat(ctx, abs)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			sc.collector.AddEntriesSkipped(1)
			continue
		}
		if ok && sc.matches(d) && sc.add(d) {
			sc.collector.AddFastPathHits(1)
			if sc.complete() {
				return nil
			}
		}
	}
	return nil
}

// frame is one directory waiting on the work stack.
type frame struct {
	abs   string
	id    entry.DevIno
	depth int
}

// walk searches the whole sandbox with Workers goroutines sharing one stack.
func (sc *scan) walk(ctx context.Context) error {
	root := sc.ix.sb.Root()
	rootDesc, ok, err := entry.Lstat(root, "")
	if err != nil || !ok {
		sc.collector.AddEntriesSkipped(1)
		return ctx.Err()
	}
	sc.rootDev = rootDesc.ID.Dev
	sc.markVisited(rootDesc.ID)

	stack := newWorkStack()
	stack.push(frame{abs: root, id: rootDesc.ID, depth: 0})

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, stack.close)
	defer stop()

	for range sc.ix.cfg.Workers {
		g.Go(func() error {
			for {
				f, ok := stack.pop()
				if !ok {
					return nil
				}
				err := sc.walkDir(gctx, f, stack)
				stack.done()
				if err != nil {
					return err
				}
				if sc.complete() {
					stack.close()
					return nil
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// walkDir inspects one directory and pushes its eligible subdirectories. Only
// context errors are returned; everything else is counted and skipped.
func (sc *scan) walkDir(ctx context.Context, f frame, stack *workStack) error {
	entries, err := os.ReadDir(f.abs)
	if err != nil {
		// ReadDir returns what it read before the error.
		sc.collector.AddEntriesSkipped(1)
	}
	sc.collector.AddDirsVisited(1)

	inOriginDir := f.abs == sc.originDir ||
		(sc.originDirID != (entry.DevIno{}) && f.id == sc.originDirID)

	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if sc.complete() {
			return nil
		}

		// Files in the origin's directory were covered by the fast path.
		if inOriginDir && !de.IsDir() {
			continue
		}

		abs := filepath.Join(f.abs, de.Name())
		d, ok, err := sc.lstat(ctx, abs)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			sc.collector.AddEntriesSkipped(1)
			continue
		}
		if !ok {
			continue
		}

		switch d.Kind {
		case entry.Regular:
			if !inOriginDir && sc.matches(d) {
				sc.add(d)
			}
		case entry.Directory:
			sc.descend(d, f.depth+1, stack)
		case entry.Symlink:
			// Never followed: a symlink is not a hard link and a directory
			// symlink may lead out of the sandbox or into a cycle.
		}
	}
	return nil
}

// descend pushes dir unless it is excluded, on another device, too deep or
// already visited.
func (sc *scan) descend(dir entry.Descriptor, depth int, stack *workStack) {
	switch {
	case !sc.ix.cfg.Exclude.Match(dir.RelPath, true):
		sc.collector.AddDirsPruned(1)
	case dir.ID.Dev != sc.rootDev:
		sc.collector.AddDirsPruned(1)
	case depth > sc.ix.cfg.MaxDepth:
		sc.collector.AddDepthLimited(1)
	case !sc.markVisited(dir.ID):
		sc.collector.AddDirsPruned(1)
	default:
		stack.push(frame{abs: dir.AbsPath, id: dir.ID, depth: depth})
	}
}

// workStack is a LIFO of directories shared by the walk workers. pop blocks
// while the stack is empty but some worker may still push.
type workStack struct {
	cond   *sync.Cond
	items  []frame
	active int
	closed bool
	mu     sync.Mutex
}

func newWorkStack() *workStack {
	w := &workStack{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *workStack) push(f frame) {
	w.mu.Lock()
	w.items = append(w.items, f)
	w.mu.Unlock()
	w.cond.Signal()
}

// pop returns the next directory, or false once the walk is over.
func (w *workStack) pop() (frame, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.items) == 0 && w.active > 0 && !w.closed {
		w.cond.Wait()
	}
	if w.closed || len(w.items) == 0 {
		return frame{}, false
	}
	f := w.items[len(w.items)-1]
	w.items = w.items[:len(w.items)-1]
	w.active++
	return f, true
}

// done marks a popped directory as finished.
func (w *workStack) done() {
	w.mu.Lock()
	w.active--
	w.mu.Unlock()
	w.cond.Broadcast()
}

func (w *workStack) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cond.Broadcast()
}
