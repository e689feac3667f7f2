package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend persists state, snapshots, and flat kv entries in a
// single SQLite database. WAL mode is enabled for concurrent reads.
type SQLiteBackend struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the conventional database location under
// XDG_DATA_HOME (or ~/.local/share).
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "claude-flow", "swarm.db")
}

// OpenSQLite opens (or creates) the database at path and applies
// pending schema migrations.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	b := &SQLiteBackend{conn: conn, path: path}
	if err := b.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

// Name identifies this backend in logs.
func (b *SQLiteBackend) Name() string { return "sqlite" }

// Path returns the database file path.
func (b *SQLiteBackend) Path() string { return b.path }

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.Close()
}

// migrate applies all pending schema migrations.
func (b *SQLiteBackend) migrate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := b.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1State},
		{2, migrationV2Snapshots},
		{3, migrationV3KV},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := b.conn.Begin()
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

// Migration SQL statements
const migrationV1State = `
CREATE TABLE IF NOT EXISTS state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL,
	payload TEXT NOT NULL,
	saved_at DATETIME NOT NULL
);
`

const migrationV2Snapshots = `
CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_created_at ON snapshots(created_at);
`

const migrationV3KV = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// SaveState upserts the singleton state row.
func (b *SQLiteBackend) SaveState(state *UnifiedState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	_, err = b.conn.Exec(`
		INSERT INTO state (id, version, payload, saved_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET version=excluded.version, payload=excluded.payload, saved_at=excluded.saved_at
	`, StateVersion, string(payload), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// LoadState returns the persisted state, or nil when none exists.
func (b *SQLiteBackend) LoadState() (*UnifiedState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var payload string
	row := b.conn.QueryRow("SELECT payload FROM state WHERE id = 1")
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load state: %w", err)
	}

	state := NewUnifiedState()
	if err := json.Unmarshal([]byte(payload), state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	ensureMaps(state)
	return state, nil
}

// SaveSnapshot inserts or replaces a snapshot row.
func (b *SQLiteBackend) SaveSnapshot(snap *Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("save snapshot: empty id")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	_, err = b.conn.Exec(`
		INSERT OR REPLACE INTO snapshots (id, version, payload, created_at) VALUES (?, ?, ?, ?)
	`, snap.ID, snap.Version, string(payload), formatTime(snap.Timestamp))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns a snapshot by ID, or nil when it does not exist.
func (b *SQLiteBackend) LoadSnapshot(id string) (*Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var payload string
	row := b.conn.QueryRow("SELECT payload FROM snapshots WHERE id = ?", id)
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.State != nil {
		ensureMaps(snap.State)
	}
	return &snap, nil
}

// ListSnapshots returns snapshot IDs ordered oldest first.
func (b *SQLiteBackend) ListSnapshots() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, err := b.conn.Query("SELECT id FROM snapshots ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan snapshot id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSnapshot removes a snapshot row. Missing rows are ignored.
func (b *SQLiteBackend) DeleteSnapshot(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.conn.Exec("DELETE FROM snapshots WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return nil
}

// Put stores a flat key-value entry.
func (b *SQLiteBackend) Put(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.conn.Exec(`
		INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	`, key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get returns the value for a key.
func (b *SQLiteBackend) Get(key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var value []byte
	row := b.conn.QueryRow("SELECT value FROM kv WHERE key = ?", key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// DeleteKey removes a key. Missing keys are ignored.
func (b *SQLiteBackend) DeleteKey(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.conn.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete key %s: %w", key, err)
	}
	return nil
}

// Keys returns all keys with the given prefix, ordered.
func (b *SQLiteBackend) Keys(prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, err := b.conn.Query("SELECT key FROM kv WHERE key LIKE ? || '%' ORDER BY key", prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
