// Package linkerr defines the failure taxonomy shared by the sandbox, the
// inode indexer and the link service. It is a leaf package so every layer can
// classify errors without import cycles.
package linkerr

import (
	"errors"
	"fmt"
)

// Code classifies a client-caused failure. The zero value means the error is
// not classified and should be treated as a service fault.
type Code int

const (
	// AccessDenied: the path resolves outside the sandbox root.
	AccessDenied Code = iota + 1
	// NotFound: the resolved path does not exist.
	NotFound
	// SourceNotFound: the source of a link creation does not exist.
	SourceNotFound
	// NotAFile: the operation requires a regular file.
	NotAFile
	// NotASymlink: the operation requires a symbolic link.
	NotASymlink
	// DestinationExists: creating the entry would overwrite an existing one.
	DestinationExists
	// UpdateIncomplete: a symlink retarget removed the old link but could not
	// create the new one, so the link is now absent.
	UpdateIncomplete
)

var codeNames = [...]string{
	AccessDenied:      "AccessDenied",
	NotFound:          "NotFound",
	SourceNotFound:    "SourceNotFound",
	NotAFile:          "NotAFile",
	NotASymlink:       "NotASymlink",
	DestinationExists: "DestinationExists",
	UpdateIncomplete:  "UpdateIncomplete",
}

func (c Code) String() string {
	if c > 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "Unknown"
}

// Sentinel values for errors.Is comparisons.
var (
	ErrAccessDenied      = &Error{Code: AccessDenied}
	ErrNotFound          = &Error{Code: NotFound}
	ErrSourceNotFound    = &Error{Code: SourceNotFound}
	ErrNotAFile          = &Error{Code: NotAFile}
	ErrNotASymlink       = &Error{Code: NotASymlink}
	ErrDestinationExists = &Error{Code: DestinationExists}
	ErrUpdateIncomplete  = &Error{Code: UpdateIncomplete}
)

// Error is a classified failure of a single operation.
//
// Path is always the client-supplied relative path, never the resolved
// absolute path, so the message is safe to return to callers.
type Error struct {
	Err  error
	Op   string
	Path string
	Code Code
}

// New returns a classified error for op on the client path rel.
func New(code Code, op, rel string, err error) *Error {
	return &Error{Op: op, Path: rel, Code: code, Err: err}
}

func (e *Error) Error() string {
	msg := describe(e.Code)
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", e.Path, msg)
	}
	if e.Op != "" {
		msg = e.Op + " " + msg
	}
	// AccessDenied never carries the cause: it usually embeds resolved paths.
	if e.Err != nil && e.Code != AccessDenied {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel (or any *Error) with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the classification of err, or 0 if err is not classified.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// Describe returns the user-facing description of a code.
func Describe(c Code) string { return describe(c) }

func describe(c Code) string {
	switch c {
	case AccessDenied:
		return "access denied"
	case NotFound:
		return "path not found"
	case SourceNotFound:
		return "source path not found"
	case NotAFile:
		return "not a regular file"
	case NotASymlink:
		return "not a symbolic link"
	case DestinationExists:
		return "destination already exists"
	case UpdateIncomplete:
		return "symlink update incomplete: old link removed, new link not created"
	default:
		return "internal error"
	}
}
