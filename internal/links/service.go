// Package links implements single-link lifecycle operations inside the
// sandbox: creating, inspecting, retargeting and deleting symbolic and hard
// links, plus hard-link discovery through the indexer.
package links

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/bamsammich/warren/internal/event"
	"github.com/bamsammich/warren/internal/indexer"
	"github.com/bamsammich/warren/internal/linkerr"
	"github.com/bamsammich/warren/internal/metrics"
	"github.com/bamsammich/warren/internal/sandbox"
	"github.com/bamsammich/warren/internal/telemetry"
)

// Operation names, shared by metrics, spans and events.
const (
	OpResolve        = "resolvePath"
	OpCreateSymlink  = "createSymlink"
	OpCreateHardLink = "createHardLink"
	OpInspect        = "inspectSymlink"
	OpUpdate         = "updateSymlink"
	OpDelete         = "deleteLink"
	OpFind           = "findHardLinks"
	OpDeleteAll      = "deleteAllLinks"
)

// LinkType is the kind of link a create operation made.
type LinkType string

const (
	Symbolic LinkType = "symbolic"
	Hard     LinkType = "hard"
)

// LinkResult describes a created link.
type LinkResult struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   LinkType `json:"type"`
}

// SymlinkTarget is the resolved relationship between a symlink and what it
// points at.
type SymlinkTarget struct {
	Link           string `json:"source"`
	Target         string `json:"target"` // root-relative
	AbsoluteTarget string `json:"absoluteTarget"`
	Raw            string `json:"-"` // readlink value
	Broken         bool   `json:"broken"`
}

// UpdateResult describes a retargeted symlink.
type UpdateResult struct {
	Link      string `json:"link"`
	NewTarget string `json:"newTarget"`
}

// DeleteAllResult reports the outcome of removing every other name of an
// inode.
type DeleteAllResult struct {
	Origin  string   `json:"origin"`
	Deleted []string `json:"deleted"`

	// Skipped lists discovered links that vanished or changed identity
	// before they could be removed.
	Skipped []string `json:"skipped"`

	// Partial carries over from discovery: links may remain in unscanned
	// regions.
	Partial bool `json:"partial"`
}

// DeletedCount returns the number of removed links.
func (r DeleteAllResult) DeletedCount() int { return len(r.Deleted) }

// Service performs link operations. It holds no mutable state and is safe
// for concurrent use.
type Service struct {
	sb      *sandbox.Sandbox
	ix      *indexer.Indexer
	events  chan<- event.Event
	metrics *metrics.Metrics
	symlink func(oldname, newname string) error
}

// Option configures a Service.
type Option func(*Service)

// WithEvents delivers an event for every mutation and scan to ch. Sends
// never block; events are dropped when ch is full.
func WithEvents(ch chan<- event.Event) Option {
	return func(s *Service) { s.events = ch }
}

// WithMetrics records operation counts and latencies.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a Service over sb, using ix for hard-link discovery.
func New(sb *sandbox.Sandbox, ix *indexer.Indexer, opts ...Option) *Service {
	s := &Service{sb: sb, ix: ix, symlink: os.Symlink}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sandbox returns the sandbox the service operates in.
func (s *Service) Sandbox() *sandbox.Sandbox { return s.sb }

// ResolvePath maps a client path to its absolute location in the sandbox.
func (s *Service) ResolvePath(rel string) (string, error) {
	start := time.Now()
	abs, err := s.sb.Resolve(rel)
	s.metrics.ObserveOperation(OpResolve, outcome(err), time.Since(start))
	return abs, err
}

// FindHardLinks discovers every other name of the regular file at rel.
func (s *Service) FindHardLinks(ctx context.Context, rel string) (indexer.HardLinkSet, error) {
	ctx, finish := s.begin(ctx, OpFind, rel)
	s.emit(event.New(event.ScanStarted, rel))

	set, err := s.ix.FindHardLinks(ctx, rel)
	finish(err)
	if err != nil {
		return set, err
	}

	ev := event.New(event.ScanComplete, set.Origin.RelPath)
	ev.Count = set.Found()
	s.emit(ev)
	return set, nil
}

// begin starts the span for op and returns a function that closes it and
// records the outcome.
func (s *Service) begin(ctx context.Context, op, rel string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "links."+op,
		attribute.String(telemetry.AttrOperation, op),
		attribute.String(telemetry.AttrPath, rel),
	)
	return ctx, func(err error) {
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
		span.End()
		s.metrics.ObserveOperation(op, outcome(err), time.Since(start))
	}
}

// emit delivers ev without blocking.
func (s *Service) emit(ev event.Event) {
	if s.events == nil {
		return
	}
	if !event.Emit(s.events, ev) {
		s.metrics.EventDropped()
	}
}

// fail emits an OperationFailed event for a mutation and returns err.
func (s *Service) fail(op, rel string, err error) error {
	ev := event.New(event.OperationFailed, rel)
	ev.Target = op
	ev.Error = err
	s.emit(ev)
	return err
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := linkerr.CodeOf(err); code != 0 {
		return code.String()
	}
	return "error"
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
