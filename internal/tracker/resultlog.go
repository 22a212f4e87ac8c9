package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bull/confrag/internal/model"
)

// ErrNoResult is returned by ResultLog.Latest for a task with no entries.
var ErrNoResult = errors.New("no result logged for task")

// Entry is one logged status check.
type Entry struct {
	TaskID    string
	SessionID string
	Status    model.TaskStatus
	Attempts  int
	Message   string
	CheckedAt time.Time
}

// ResultLog is an append-only SQLite log of check results keyed by task id.
// Offline runs use it to skip tasks that were already resolved.
type ResultLog struct {
	db   *sql.DB
	path string
}

const resultLogSchema = `
CREATE TABLE IF NOT EXISTS task_results (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id    TEXT    NOT NULL,
	session_id TEXT    NOT NULL,
	status     TEXT    NOT NULL,
	attempts   INTEGER NOT NULL,
	message    TEXT    NOT NULL DEFAULT '',
	checked_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_results_task ON task_results(task_id, id);
`

// OpenResultLog opens or creates the log database at path.
func OpenResultLog(path string) (*ResultLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating result log directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening result log: %w", err)
	}
	// Appends from concurrent checks are serialized on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(resultLogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating result log schema: %w", err)
	}
	return &ResultLog{db: db, path: path}, nil
}

func (l *ResultLog) Path() string {
	return l.path
}

func (l *ResultLog) Close() error {
	return l.db.Close()
}

// Append records one check result.
func (l *ResultLog) Append(ctx context.Context, e Entry) error {
	if e.CheckedAt.IsZero() {
		e.CheckedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO task_results (task_id, session_id, status, attempts, message, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.TaskID, e.SessionID, string(e.Status), e.Attempts, e.Message,
		e.CheckedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("appending result for task %s: %w", e.TaskID, err)
	}
	return nil
}

// Latest returns the most recent entry for a task.
func (l *ResultLog) Latest(ctx context.Context, taskID string) (*Entry, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT task_id, session_id, status, attempts, message, checked_at
		 FROM task_results WHERE task_id = ? ORDER BY id DESC LIMIT 1`, taskID)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNoResult)
	}
	if err != nil {
		return nil, fmt.Errorf("reading result for task %s: %w", taskID, err)
	}
	return e, nil
}

// Resolved returns the final status of every task whose latest entry is final.
func (l *ResultLog) Resolved(ctx context.Context) (map[string]model.TaskStatus, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT r.task_id, r.status FROM task_results r
		 WHERE r.id = (SELECT MAX(id) FROM task_results WHERE task_id = r.task_id)`)
	if err != nil {
		return nil, fmt.Errorf("querying resolved tasks: %w", err)
	}
	defer rows.Close()

	resolved := make(map[string]model.TaskStatus)
	for rows.Next() {
		var taskID, status string
		if err := rows.Scan(&taskID, &status); err != nil {
			return nil, fmt.Errorf("scanning resolved task: %w", err)
		}
		if s := model.TaskStatus(status); s.IsFinal() {
			resolved[taskID] = s
		}
	}
	return resolved, rows.Err()
}

func scanEntry(row *sql.Row) (*Entry, error) {
	var (
		e         Entry
		status    string
		checkedAt string
	)
	if err := row.Scan(&e.TaskID, &e.SessionID, &status, &e.Attempts, &e.Message, &checkedAt); err != nil {
		return nil, err
	}
	e.Status = model.TaskStatus(status)
	t, err := time.Parse(time.RFC3339Nano, checkedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing checked_at %q: %w", checkedAt, err)
	}
	e.CheckedAt = t
	return &e, nil
}
