// Package watch reports edits to plugin sources on disk.
//
// A Watcher follows one directory with fsnotify, keeps only files with the
// plugin extension, and coalesces bursts of events for the same file (an
// editor save is often a create, several writes and a rename) into a single
// Change delivered after the debounce delay.
package watch

import (
	"errors"
	"strings"
	"time"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed = errors.New("watcher is closed")
	ErrPathNotExist  = errors.New("path does not exist")
)

// Op represents the type of file system operation.
type Op uint32

const (
	// OpCreate indicates a file was created.
	OpCreate Op = 1 << iota
	// OpWrite indicates a file was written to.
	OpWrite
	// OpRemove indicates a file was removed.
	OpRemove
	// OpRename indicates a file was renamed away.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	var names []string
	for _, o := range []struct {
		op   Op
		name string
	}{{OpCreate, "CREATE"}, {OpWrite, "WRITE"}, {OpRemove, "REMOVE"}, {OpRename, "RENAME"}} {
		if op.Has(o.op) {
			names = append(names, o.name)
		}
	}
	if len(names) == 0 {
		return "UNKNOWN"
	}
	return strings.Join(names, "|")
}

// Has returns true if the operation includes the given op.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Change is a debounced edit of one plugin file.
type Change struct {
	// Path is the virtual path of the file.
	Path string

	// OSPath is the file on disk.
	OSPath string

	// Op combines every operation seen during the debounce window.
	Op Op

	// Timestamp is when the last operation occurred.
	Timestamp time.Time

	// Removed is set when the file no longer exists once the window closes.
	Removed bool
}
