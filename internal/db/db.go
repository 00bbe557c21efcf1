package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB with leadgate-specific helpers.
type DB struct {
	*sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	d := &DB{DB: sqlDB, path: path}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// OpenMemory creates an in-memory SQLite database (useful for testing).
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}

	d := &DB{DB: sqlDB, path: ":memory:"}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// migrate runs all schema migrations.
func (d *DB) migrate() error {
	_, err := d.Exec(schema)
	return err
}

// Path returns the filesystem path of the database.
func (d *DB) Path() string {
	return d.path
}

// schema contains the full database schema. New tables are added here.
const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    lead_id TEXT PRIMARY KEY,
    facts TEXT NOT NULL DEFAULT '{}',
    history_summary TEXT NOT NULL DEFAULT '',
    verifications TEXT NOT NULL DEFAULT '[]',
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS lead_contexts (
    lead_id TEXT PRIMARY KEY,
    active_procedure TEXT NOT NULL DEFAULT '',
    active_step TEXT NOT NULL DEFAULT '',
    waiting TEXT,
    last_automation TEXT NOT NULL DEFAULT '',
    last_kb_topic TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS reply_timeline (
    id TEXT PRIMARY KEY,
    lead_id TEXT NOT NULL,
    automation_id TEXT NOT NULL,
    target TEXT NOT NULL,
    prompt_text TEXT NOT NULL DEFAULT '',
    consumed INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_timeline_lead ON reply_timeline(lead_id, created_at);

CREATE TABLE IF NOT EXISTS cooldowns (
    lead_id TEXT NOT NULL,
    automation_id TEXT NOT NULL,
    last_sent_at DATETIME NOT NULL,
    PRIMARY KEY (lead_id, automation_id)
);

CREATE TABLE IF NOT EXISTS confirmations (
    key TEXT PRIMARY KEY,
    lead_id TEXT NOT NULL,
    target TEXT NOT NULL,
    polarity TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0,
    source TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_confirmations_lead ON confirmations(lead_id);

CREATE TABLE IF NOT EXISTS applied_decisions (
    decision_id TEXT PRIMARY KEY,
    lead_id TEXT NOT NULL DEFAULT '',
    result TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS audit_entries (
    id TEXT PRIMARY KEY,
    timestamp DATETIME NOT NULL DEFAULT (datetime('now')),
    lead_id TEXT NOT NULL DEFAULT '',
    decision_id TEXT NOT NULL DEFAULT '',
    stage TEXT NOT NULL,
    outcome TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_entries(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_lead ON audit_entries(lead_id);
CREATE INDEX IF NOT EXISTS idx_audit_decision ON audit_entries(decision_id);
CREATE INDEX IF NOT EXISTS idx_audit_stage ON audit_entries(stage);
`
