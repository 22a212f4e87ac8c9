// Package sqlite is a single-file repository for local and CLI runs.
// Processes pointed at the same file share contents, tasks and sessions,
// so an import in one command is visible to a dispatch in the next.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bull/confrag/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS contents (
	id   TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS files (
	id         TEXT PRIMARY KEY,
	content_id TEXT NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_content ON files(content_id);
CREATE TABLE IF NOT EXISTS tasks (
	task_id      TEXT    PRIMARY KEY,
	session_id   TEXT    NOT NULL,
	status       TEXT    NOT NULL,
	submitted_at INTEGER NOT NULL,
	data         TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id, submitted_at);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, submitted_at);
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	data       TEXT NOT NULL
);
`

type SQLite struct {
	db       *sql.DB
	path     string
	content  *contentRepository
	files    *fileRepository
	tasks    *taskRepository
	sessions *sessionRepository
}

var _ repository.Repository = &SQLite{}

// New opens or creates the database at path.
func New(path string) (*SQLite, error) {
	if path == "" {
		return nil, goerr.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, goerr.Wrap(err, "failed to create database directory", goerr.V("path", path))
		}
	}

	// Writers take the lock at BEGIN so read-modify-write updates from
	// separate processes never interleave.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("path", path))
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to create schema", goerr.V("path", path))
	}

	return &SQLite{
		db:       db,
		path:     path,
		content:  &contentRepository{db: db},
		files:    &fileRepository{db: db},
		tasks:    &taskRepository{db: db},
		sessions: &sessionRepository{db: db},
	}, nil
}

func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) Content() repository.ContentRepository {
	return s.content
}

func (s *SQLite) Files() repository.FileRepository {
	return s.files
}

func (s *SQLite) Tasks() repository.TaskRepository {
	return s.tasks
}

func (s *SQLite) Sessions() repository.SessionRepository {
	return s.sessions
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction, committing when it returns nil.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit transaction")
	}
	return nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// load decodes the data column of the row selected by query into out.
// found is false when there is no such row.
func load(ctx context.Context, q rowQuerier, out any, query string, args ...any) (found bool, err error) {
	var data string
	err = q.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to query row")
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, goerr.Wrap(err, "failed to decode row")
	}
	return true, nil
}

// loadAll decodes the data column of every row selected by query.
func loadAll[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query rows")
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, goerr.Wrap(err, "failed to scan row")
		}
		v := new(T)
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return nil, goerr.Wrap(err, "failed to decode row")
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate rows")
	}
	return out, nil
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", goerr.Wrap(err, "failed to encode row")
	}
	return string(data), nil
}
