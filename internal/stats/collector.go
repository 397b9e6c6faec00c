// Package stats tracks counters for a single hard-link discovery scan.
package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Collector tracks scan statistics using lock-free atomic counters. One
// Collector belongs to one scan; walkers on several goroutines share it.
type Collector struct {
	startTime time.Time

	dirsVisited    atomic.Int64
	entriesChecked atomic.Int64
	entriesSkipped atomic.Int64
	dirsPruned     atomic.Int64
	depthLimited   atomic.Int64
	matches        atomic.Int64
	fastPathHits   atomic.Int64
	treeWalked     atomic.Bool
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	DirsVisited    int64         `json:"dirsVisited"`
	EntriesChecked int64         `json:"entriesChecked"`
	EntriesSkipped int64         `json:"entriesSkipped"`
	DirsPruned     int64         `json:"dirsPruned"`
	DepthLimited   int64         `json:"depthLimited"`
	Matches        int64         `json:"matches"`
	FastPathHits   int64         `json:"fastPathHits"`
	TreeWalked     bool          `json:"treeWalked"`
	Elapsed        time.Duration `json:"elapsedNs"`
}

// AddDirsVisited counts directories whose entries were listed.
func (c *Collector) AddDirsVisited(n int64) { c.dirsVisited.Add(n) }

// AddEntriesChecked counts entries that were lstat'ed.
func (c *Collector) AddEntriesChecked(n int64) { c.entriesChecked.Add(n) }

// AddEntriesSkipped counts entries or directories that vanished or could not be read.
func (c *Collector) AddEntriesSkipped(n int64) { c.entriesSkipped.Add(n) }

// AddDirsPruned counts directories not descended: excluded, already visited or on another device.
func (c *Collector) AddDirsPruned(n int64) { c.dirsPruned.Add(n) }

// AddDepthLimited counts directories not descended because of the depth cap.
func (c *Collector) AddDepthLimited(n int64) { c.depthLimited.Add(n) }

// AddMatches counts discovered hard links.
func (c *Collector) AddMatches(n int64) { c.matches.Add(n) }

// AddFastPathHits counts hard links found in the origin's own directory.
func (c *Collector) AddFastPathHits(n int64) { c.fastPathHits.Add(n) }

// MarkTreeWalked records that the tree-wide fallback ran.
func (c *Collector) MarkTreeWalked() { c.treeWalked.Store(true) }

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		DirsVisited:    c.dirsVisited.Load(),
		EntriesChecked: c.entriesChecked.Load(),
		EntriesSkipped: c.entriesSkipped.Load(),
		DirsPruned:     c.dirsPruned.Load(),
		DepthLimited:   c.depthLimited.Load(),
		Matches:        c.matches.Load(),
		FastPathHits:   c.fastPathHits.Load(),
		TreeWalked:     c.treeWalked.Load(),
		Elapsed:        c.Elapsed(),
	}
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"dirs=%d checked=%d skipped=%d pruned=%d depth-limited=%d matches=%d fast=%d tree=%t",
		s.DirsVisited, s.EntriesChecked, s.EntriesSkipped, s.DirsPruned,
		s.DepthLimited, s.Matches, s.FastPathHits, s.TreeWalked,
	)
}
