// Package state provides SQLite-based persistence for stagehand: tasks,
// backlog items, artifacts, gates, rollbacks, agent questions and the
// single-flight agent lease.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection with stagehand-specific operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// ProjectDBPath returns the default database location inside a repository.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".stagehand", "state.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Per-connection pragmas go in the DSN so every pooled connection gets them.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// OpenProject opens the project-local database.
func OpenProject(projectRoot string) (*DB, error) {
	return Open(ProjectDBPath(projectRoot))
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Items},
		{2, migrationV2Records},
		{3, migrationV3Questions},
		{4, migrationV4Lease},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Items = `
CREATE TABLE IF NOT EXISTS backlog_items (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	acceptance_criteria TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	assigned_agent TEXT NOT NULL DEFAULT '',
	has_error INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	is_paused INTEGER NOT NULL DEFAULT 0,
	pause_reason TEXT NOT NULL DEFAULT '',
	paused_at TEXT,
	recommended_next_state TEXT NOT NULL DEFAULT '',
	confidence REAL,
	needs_human_input INTEGER NOT NULL DEFAULT 0,
	human_input_reason TEXT NOT NULL DEFAULT '',
	pending_gate INTEGER NOT NULL DEFAULT 0,
	detected_language TEXT NOT NULL DEFAULT '',
	detected_framework TEXT NOT NULL DEFAULT '',
	task_count INTEGER NOT NULL DEFAULT 0,
	completed_task_count INTEGER NOT NULL DEFAULT 0,
	refinement_iteration INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	assigned_agent TEXT NOT NULL DEFAULT '',
	has_error INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	is_paused INTEGER NOT NULL DEFAULT 0,
	pause_reason TEXT NOT NULL DEFAULT '',
	paused_at TEXT,
	recommended_next_state TEXT NOT NULL DEFAULT '',
	confidence REAL,
	needs_human_input INTEGER NOT NULL DEFAULT 0,
	human_input_reason TEXT NOT NULL DEFAULT '',
	pending_gate INTEGER NOT NULL DEFAULT 0,
	detected_language TEXT NOT NULL DEFAULT '',
	detected_framework TEXT NOT NULL DEFAULT '',
	backlog_id TEXT REFERENCES backlog_items(id) ON DELETE SET NULL,
	execution_order INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
CREATE INDEX IF NOT EXISTS idx_tasks_backlog_id ON tasks(backlog_id);
CREATE INDEX IF NOT EXISTS idx_backlog_items_state ON backlog_items(state);
`

const migrationV2Records = `
CREATE TABLE IF NOT EXISTS artifacts (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	owner_kind TEXT NOT NULL CHECK (owner_kind IN ('task', 'backlog')),
	owner_id TEXT NOT NULL,
	state TEXT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	confidence REAL,
	needs_human_input INTEGER NOT NULL DEFAULT 0,
	human_input_reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_artifacts_owner ON artifacts(owner_kind, owner_id);

CREATE TABLE IF NOT EXISTS gates (
	id TEXT PRIMARY KEY,
	owner_kind TEXT NOT NULL CHECK (owner_kind IN ('task', 'backlog')),
	owner_id TEXT NOT NULL,
	subject_id TEXT NOT NULL DEFAULT '',
	gate_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	confidence REAL,
	reason TEXT NOT NULL DEFAULT '',
	requested_at TEXT NOT NULL,
	resolved_at TEXT,
	resolved_by TEXT NOT NULL DEFAULT '',
	resolution_note TEXT NOT NULL DEFAULT '',
	context_snapshot TEXT
);

CREATE INDEX IF NOT EXISTS idx_gates_owner ON gates(owner_kind, owner_id);
CREATE INDEX IF NOT EXISTS idx_gates_status ON gates(status);

CREATE TABLE IF NOT EXISTS rollbacks (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	owner_kind TEXT NOT NULL CHECK (owner_kind IN ('task', 'backlog')),
	owner_id TEXT NOT NULL,
	trigger_kind TEXT NOT NULL,
	created_at TEXT NOT NULL,
	state_before TEXT NOT NULL,
	action_taken TEXT NOT NULL,
	preserved_artifacts TEXT NOT NULL,
	recovery_options TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_rollbacks_owner ON rollbacks(owner_kind, owner_id);
`

const migrationV3Questions = `
CREATE TABLE IF NOT EXISTS questions (
	id TEXT PRIMARY KEY,
	owner_kind TEXT NOT NULL CHECK (owner_kind IN ('task', 'backlog')),
	owner_id TEXT NOT NULL,
	tool_call_id TEXT NOT NULL DEFAULT '',
	questions TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	requested_at TEXT NOT NULL,
	timeout_at TEXT,
	answered_at TEXT,
	answers TEXT
);

CREATE INDEX IF NOT EXISTS idx_questions_status ON questions(status);
`

const migrationV4Lease = `
CREATE TABLE IF NOT EXISTS agent_lease (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	holder_kind TEXT,
	owner_kind TEXT,
	owner_id TEXT,
	holder_id TEXT,
	acquired_at TEXT,
	pid INTEGER
);

INSERT OR IGNORE INTO agent_lease (id) VALUES (1);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

// nullableTime formats an optional time for storage.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// nullableFloat stores an optional score.
func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// nullableString stores "" as NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
