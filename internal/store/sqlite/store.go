// Package sqlite persists plugin sources in a SQLite file table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/runnit/runnit/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	path       TEXT    NOT NULL UNIQUE,
	parent     TEXT    NOT NULL,
	name       TEXT    NOT NULL,
	text       TEXT    NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS files_parent ON files (parent);
`

// Store persists files in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens (creating if needed) the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(dbPath) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// ReadText implements store.Store.
func (s *Store) ReadText(ctx context.Context, p string) (store.File, error) {
	p = store.Clean(p)
	var f store.File
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, path, text FROM files WHERE path = ?`, p,
	).Scan(&f.ID, &f.Path, &f.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return store.File{}, &store.PathError{Op: "read", Path: p, Err: store.ErrNotFound}
	}
	if err != nil {
		return store.File{}, fmt.Errorf("read %s: %w", p, err)
	}
	return f, nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, dir, ext string) ([]string, error) {
	dir = store.Clean(dir)
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT path FROM files WHERE parent = ? ORDER BY path`, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		if strings.HasSuffix(p, ext) {
			paths = append(paths, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return paths, nil
}

// WriteText implements store.Store.
func (s *Store) WriteText(ctx context.Context, p, text string) (store.File, error) {
	p = store.Clean(p)
	if p == "/" {
		return store.File{}, fmt.Errorf("write %s: path names a directory", p)
	}
	var id int64
	err := s.sqlDB.QueryRowContext(ctx,
		`INSERT INTO files (path, parent, name, text, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET text = excluded.text, updated_at = excluded.updated_at
		 RETURNING id`,
		p, path.Dir(p), path.Base(p), text, s.now().UTC().UnixMilli(),
	).Scan(&id)
	if err != nil {
		return store.File{}, fmt.Errorf("write %s: %w", p, err)
	}
	return store.File{ID: id, Path: p, Text: text}, nil
}

var _ store.Store = (*Store)(nil)
