// Package store persists the entry table to SQLite. It is the source of truth
// across restarts: read in full once at startup, written through on every
// state transition.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/photoman/internal/graph"
	"github.com/agentic-research/photoman/internal/logging"
)

// ErrPersist wraps every failed durable write. When it is returned the
// in-memory state has not been changed.
var ErrPersist = errors.New("persist")

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	handle       INTEGER PRIMARY KEY,
	name         TEXT NOT NULL,
	remote_id    TEXT NOT NULL,
	kind         TEXT NOT NULL,
	parent       INTEGER NOT NULL,
	is_directory INTEGER NOT NULL,
	children     TEXT,
	content_path TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_remote_id ON entries(remote_id);
`

// Writer is the set of durable mutations. Both *SQLiteStore (one statement
// per call) and *Tx (grouped) implement it.
type Writer interface {
	Append(ctx context.Context, e *graph.Entry) (graph.Handle, error)
	UpdateChildren(ctx context.Context, h graph.Handle, c graph.ChildSet) error
	UpdateContentPath(ctx context.Context, h graph.Handle, c graph.Content) error
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLiteStore is the on-disk mirror of the entry table.
type SQLiteStore struct {
	db   *sql.DB
	path string
	log  *zap.Logger
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: writes are serialized by the tree cache anyway, and a
	// single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path, log: logging.Named("store")}, nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadAll reconstructs every row. A directory row whose children column is
// absent or unparseable loads as not-loaded; likewise a leaf row's absent
// content_path. Neither is an error.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]*graph.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT handle, name, remote_id, kind, parent, is_directory, children, content_path
		FROM entries ORDER BY handle`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var out []*graph.Entry
	for rows.Next() {
		var (
			handle, parent int64
			name, remoteID string
			kind           string
			isDir          bool
			children       sql.NullString
			contentPath    sql.NullString
		)
		if err := rows.Scan(&handle, &name, &remoteID, &kind, &parent, &isDir, &children, &contentPath); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		h, err := toHandle(handle)
		if err != nil {
			return nil, err
		}
		p, err := toHandle(parent)
		if err != nil {
			return nil, err
		}

		e := graph.NewEntry(name, remoteID, kind, p)
		e.Handle = h
		if e.IsDir != isDir {
			s.log.Warn("is_directory disagrees with kind, trusting kind",
				logging.Handle(h), zap.String("kind", kind), zap.Bool("column", isDir))
		}

		if e.IsDir {
			if children.Valid {
				hs, perr := ParseHandles(children.String)
				if perr != nil {
					s.log.Warn("unparseable children column, treating as not loaded",
						logging.Handle(h), zap.Error(perr))
				} else {
					e.Children = graph.LoadedChildren(hs...)
				}
			}
		} else if contentPath.Valid && contentPath.String != "" {
			e.Content = graph.LoadedContent(contentPath.String)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// Append inserts e and returns the handle the database assigned to it.
// This is the authority for handle numbering.
func (s *SQLiteStore) Append(ctx context.Context, e *graph.Entry) (graph.Handle, error) {
	return appendEntry(ctx, s.db, e)
}

// AppendRoot persists the root directory under the reserved handle 0.
func (s *SQLiteStore) AppendRoot(ctx context.Context) (*graph.Entry, error) {
	root := graph.NewRoot()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (handle, name, remote_id, kind, parent, is_directory)
		VALUES (?, ?, ?, ?, ?, ?)`,
		int64(root.Handle), root.Name, root.RemoteID, root.Kind, int64(root.Parent), root.IsDir)
	if err != nil {
		return nil, fmt.Errorf("%w: insert root: %w", ErrPersist, err)
	}
	return root, nil
}

// UpdateChildren overwrites the children column. A not-loaded set writes NULL.
func (s *SQLiteStore) UpdateChildren(ctx context.Context, h graph.Handle, c graph.ChildSet) error {
	return updateChildren(ctx, s.db, h, c)
}

// UpdateContentPath overwrites the content_path column. A not-loaded state
// writes NULL.
func (s *SQLiteStore) UpdateContentPath(ctx context.Context, h graph.Handle, c graph.Content) error {
	return updateContentPath(ctx, s.db, h, c)
}

// WithTx runs fn inside a single transaction. Nothing is visible on disk
// unless fn returns nil and the commit succeeds.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(w Writer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrPersist, err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrPersist, err)
	}
	return nil
}

// Tx groups writes; obtained through WithTx.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Append(ctx context.Context, e *graph.Entry) (graph.Handle, error) {
	return appendEntry(ctx, t.tx, e)
}

func (t *Tx) UpdateChildren(ctx context.Context, h graph.Handle, c graph.ChildSet) error {
	return updateChildren(ctx, t.tx, h, c)
}

func (t *Tx) UpdateContentPath(ctx context.Context, h graph.Handle, c graph.Content) error {
	return updateContentPath(ctx, t.tx, h, c)
}

func appendEntry(ctx context.Context, db execer, e *graph.Entry) (graph.Handle, error) {
	var children, content any
	if e.IsDir && e.Children.Loaded() {
		children = FormatHandles(e.Children.Handles())
	}
	if !e.IsDir && e.Content.Loaded() {
		content = e.Content.Path()
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO entries (name, remote_id, kind, parent, is_directory, children, content_path)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Name, e.RemoteID, e.Kind, int64(e.Parent), e.IsDir, children, content)
	if err != nil {
		return 0, fmt.Errorf("%w: append %q: %w", ErrPersist, e.RemoteID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: append %q: %w", ErrPersist, e.RemoteID, err)
	}
	return toHandle(id)
}

func updateChildren(ctx context.Context, db execer, h graph.Handle, c graph.ChildSet) error {
	var v any
	if c.Loaded() {
		v = FormatHandles(c.Handles())
	}
	return updateColumn(ctx, db, "children", h, v)
}

func updateContentPath(ctx context.Context, db execer, h graph.Handle, c graph.Content) error {
	var v any
	if c.Loaded() {
		v = c.Path()
	}
	return updateColumn(ctx, db, "content_path", h, v)
}

// updateColumn requires exactly one row to change so a write against an
// unknown handle cannot silently succeed.
func updateColumn(ctx context.Context, db execer, column string, h graph.Handle, v any) error {
	res, err := db.ExecContext(ctx, "UPDATE entries SET "+column+" = ? WHERE handle = ?", v, int64(h))
	if err != nil {
		return fmt.Errorf("%w: update %s of %d: %w", ErrPersist, column, h, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update %s of %d: %w", ErrPersist, column, h, err)
	}
	if n != 1 {
		return fmt.Errorf("%w: update %s of %d: %w", ErrPersist, column, h, graph.ErrNotFound)
	}
	return nil
}

func toHandle(v int64) (graph.Handle, error) {
	if v < 0 || v > math.MaxUint32 {
		return 0, fmt.Errorf("handle %d out of range", v)
	}
	return graph.Handle(v), nil
}

// Interface compliance
var (
	_ Writer = (*SQLiteStore)(nil)
	_ Writer = (*Tx)(nil)
)
