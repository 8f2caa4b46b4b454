// Package store is the engine's view of the hierarchical file store.
//
// The engine only needs three operations: read the text at a virtual path,
// list plugin files in a directory, and write text back for the save
// gesture. Paths are virtual: absolute, slash separated, independent of the
// host operating system.
package store

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when no file exists at a path.
var ErrNotFound = errors.New("file not found")

// File is a stored plugin source.
type File struct {
	ID   int64
	Path string
	Text string
}

// Store reads and writes plugin sources.
type Store interface {
	// ReadText returns the file at p.
	ReadText(ctx context.Context, p string) (File, error)

	// List returns the paths of files directly under dir whose name ends
	// with ext, sorted.
	List(ctx context.Context, dir, ext string) ([]string, error)

	// WriteText creates or replaces the file at p.
	WriteText(ctx context.Context, p, text string) (File, error)
}

// Clean normalises a virtual path to absolute slash form.
func Clean(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return path.Clean("/" + p)
}

// Memory is an in-memory Store.
type Memory struct {
	mu     sync.RWMutex
	files  map[string]File
	nextID int64
}

// NewMemory creates a store holding files (path to text).
func NewMemory(files map[string]string) *Memory {
	m := &Memory{files: make(map[string]File), nextID: 1}
	for p, text := range files {
		m.put(p, text)
	}
	return m
}

// ReadText implements Store.
func (m *Memory) ReadText(ctx context.Context, p string) (File, error) {
	if err := ctx.Err(); err != nil {
		return File{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[Clean(p)]
	if !ok {
		return File{}, &PathError{Op: "read", Path: Clean(p), Err: ErrNotFound}
	}
	return f, nil
}

// List implements Store.
func (m *Memory) List(ctx context.Context, dir, ext string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir = Clean(dir)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var paths []string
	for p := range m.files {
		if path.Dir(p) == dir && strings.HasSuffix(p, ext) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// WriteText implements Store.
func (m *Memory) WriteText(ctx context.Context, p, text string) (File, error) {
	if err := ctx.Err(); err != nil {
		return File{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(p, text), nil
}

func (m *Memory) put(p, text string) File {
	p = Clean(p)
	f, ok := m.files[p]
	if !ok {
		f = File{ID: m.nextID, Path: p}
		m.nextID++
	}
	f.Text = text
	m.files[p] = f
	return f
}

// PathError records a failed store operation.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error {
	return e.Err
}

var _ Store = (*Memory)(nil)
