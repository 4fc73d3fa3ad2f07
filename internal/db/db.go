package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion is the schema version this build expects.
const SchemaVersion = 1

// DB wraps the SQLite connection holding the transition and audit logs.
type DB struct {
	conn *sql.DB
	path string
}

// OpenOptions controls how a database is opened.
type OpenOptions struct {
	CreateIfNotExists bool
	InitSchema        bool
	ReadOnly          bool
}

// Open opens (creating if needed) the database at path and initialises the schema.
func Open(path string) (*DB, error) {
	return OpenWithOptions(path, OpenOptions{CreateIfNotExists: true, InitSchema: true})
}

// OpenAndMigrate opens the database and applies any pending migrations.
func OpenAndMigrate(path string) (*DB, error) {
	d, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := d.ApplyMigrations(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// OpenWithOptions opens the database at path.
func OpenWithOptions(path string, opts OpenOptions) (*DB, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return nil, fmt.Errorf("database path %s is a directory", path)
	case errors.Is(err, os.ErrNotExist):
		if !opts.CreateIfNotExists || opts.ReadOnly {
			return nil, fmt.Errorf("database %s does not exist", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat database %s: %w", path, err)
	}

	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	if opts.ReadOnly {
		q.Set("mode", "ro")
	} else {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	conn, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer keeps commit order identical to log order.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	d := &DB{conn: conn, path: path}
	if opts.InitSchema && !opts.ReadOnly {
		if err := d.initSchema(context.Background()); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return d, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Exec runs a statement directly. Intended for tests and maintenance.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decision_transitions (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	decision_id   TEXT NOT NULL,
	from_status   TEXT NOT NULL,
	to_status     TEXT NOT NULL,
	occurred_at   TEXT NOT NULL,
	entry_id      TEXT NOT NULL,
	snapshot_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_decision ON decision_transitions(decision_id, seq);

CREATE TABLE IF NOT EXISTS audit_entries (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_id    TEXT NOT NULL UNIQUE,
	decision_id TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	actor       TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	entry_json  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_decision ON audit_entries(decision_id, seq);
CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_entries(occurred_at);

CREATE TRIGGER IF NOT EXISTS audit_entries_no_update BEFORE UPDATE ON audit_entries
BEGIN SELECT RAISE(ABORT, 'audit entries are write-once'); END;
CREATE TRIGGER IF NOT EXISTS audit_entries_no_delete BEFORE DELETE ON audit_entries
BEGIN SELECT RAISE(ABORT, 'audit entries are write-once'); END;
CREATE TRIGGER IF NOT EXISTS transitions_no_update BEFORE UPDATE ON decision_transitions
BEGIN SELECT RAISE(ABORT, 'transition log is append-only'); END;
CREATE TRIGGER IF NOT EXISTS transitions_no_delete BEFORE DELETE ON decision_transitions
BEGIN SELECT RAISE(ABORT, 'transition log is append-only'); END;
`

func (db *DB) initSchema(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_migrations(version, applied_at) VALUES(?, ?)`,
		SchemaVersion, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return nil
}

// ApplyMigrations brings the schema up to SchemaVersion. Safe to call repeatedly.
func (db *DB) ApplyMigrations(ctx context.Context) error {
	return db.initSchema(ctx)
}

// GetSchemaVersion returns the highest applied schema version.
func (db *DB) GetSchemaVersion() (int, error) {
	var v sql.NullInt64
	if err := db.conn.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return int(v.Int64), nil
}

// ValidateSchema checks that the database was written by a compatible build.
func (db *DB) ValidateSchema() error {
	v, err := db.GetSchemaVersion()
	if err != nil {
		return err
	}
	if v != SchemaVersion {
		return fmt.Errorf("schema version mismatch: database=%d expected=%d", v, SchemaVersion)
	}
	return nil
}

// Stats summarises the persisted logs.
type Stats struct {
	SchemaVersion int `json:"schema_version"`
	Transitions   int `json:"transitions"`
	AuditEntries  int `json:"audit_entries"`
	Decisions     int `json:"decisions"`
}

// GetStats returns row counts for the persisted logs.
func (db *DB) GetStats() (*Stats, error) {
	v, err := db.GetSchemaVersion()
	if err != nil {
		return nil, err
	}
	s := &Stats{SchemaVersion: v}
	row := db.conn.QueryRow(`SELECT
		(SELECT COUNT(*) FROM decision_transitions),
		(SELECT COUNT(*) FROM audit_entries),
		(SELECT COUNT(DISTINCT decision_id) FROM decision_transitions)`)
	if err := row.Scan(&s.Transitions, &s.AuditEntries, &s.Decisions); err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}
	return s, nil
}
