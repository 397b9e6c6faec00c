// Package event carries notifications about link mutations and hard-link
// scans from the link service to whoever is listening.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event.
type Type int

const (
	SymlinkCreated Type = iota + 1
	HardlinkCreated
	SymlinkRetargeted
	LinkDeleted
	LinksPurged
	ScanStarted
	ScanComplete
	OperationFailed
)

var typeNames = [...]string{
	SymlinkCreated:    "SymlinkCreated",
	HardlinkCreated:   "HardlinkCreated",
	SymlinkRetargeted: "SymlinkRetargeted",
	LinkDeleted:       "LinkDeleted",
	LinksPurged:       "LinksPurged",
	ScanStarted:       "ScanStarted",
	ScanComplete:      "ScanComplete",
	OperationFailed:   "OperationFailed",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Mutation reports whether events of this type record a filesystem change.
func (t Type) Mutation() bool {
	switch t {
	case SymlinkCreated, HardlinkCreated, SymlinkRetargeted, LinkDeleted, LinksPurged:
		return true
	default:
		return false
	}
}

// Event is a single notification. Paths are sandbox-relative.
type Event struct {
	Timestamp time.Time
	Error     error
	ID        string
	Path      string
	Target    string // symlink target or hard-link source
	Type      Type
	Count     int // links found or removed
}

// New stamps an event of type t for path with a fresh ID and the current time.
func New(t Type, path string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Path:      path,
		Timestamp: time.Now(),
	}
}

// Emit sends ev on ch without blocking. A nil channel or a full buffer drops
// the event and Emit reports false.
func Emit(ch chan<- Event, ev Event) bool {
	if ch == nil {
		return false
	}
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}
