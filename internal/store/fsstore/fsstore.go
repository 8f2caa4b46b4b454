// Package fsstore maps virtual plugin paths onto a directory on disk.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/runnit/runnit/internal/store"
)

// Store serves virtual paths from files under Root.
type Store struct {
	root string
}

// New creates a store rooted at root. The directory must exist.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("store root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("store root %s: not a directory", abs)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// OSPath returns the on-disk path for a virtual path.
func (s *Store) OSPath(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(store.Clean(p)))
}

// VirtualPath returns the virtual path for an on-disk path under Root.
func (s *Store) VirtualPath(osPath string) (string, bool) {
	rel, err := filepath.Rel(s.root, osPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return store.Clean(filepath.ToSlash(rel)), true
}

// ReadText implements store.Store.
func (s *Store) ReadText(ctx context.Context, p string) (store.File, error) {
	if err := ctx.Err(); err != nil {
		return store.File{}, err
	}
	p = store.Clean(p)
	data, err := os.ReadFile(s.OSPath(p))
	if err != nil {
		return store.File{}, pathError("read", p, err)
	}
	return store.File{ID: fileID(p), Path: p, Text: string(data)}, nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, dir, ext string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir = store.Clean(dir)
	entries, err := os.ReadDir(s.OSPath(dir))
	if err != nil {
		return nil, pathError("list", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		paths = append(paths, path.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// WriteText implements store.Store.
func (s *Store) WriteText(ctx context.Context, p, text string) (store.File, error) {
	if err := ctx.Err(); err != nil {
		return store.File{}, err
	}
	p = store.Clean(p)
	target := s.OSPath(p)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return store.File{}, pathError("write", p, err)
	}

	// Write to a sibling and rename so watchers never see a partial file.
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return store.File{}, pathError("write", p, err)
	}
	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return store.File{}, pathError("write", p, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return store.File{}, pathError("write", p, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return store.File{}, pathError("write", p, err)
	}
	return store.File{ID: fileID(p), Path: p, Text: text}, nil
}

func pathError(op, p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		err = store.ErrNotFound
	}
	return &store.PathError{Op: op, Path: p, Err: err}
}

// fileID derives a stable id from the virtual path; the disk has no row ids.
func fileID(p string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(p))
	return int64(h.Sum64() >> 1)
}

var _ store.Store = (*Store)(nil)
