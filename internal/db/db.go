package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/linkerlin/nanoalarm.go/internal/types"
)

// DB wraps a *sql.DB with nanoalarm-specific operations.
type DB struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS kv (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS alarms (
  alarm_id INTEGER PRIMARY KEY,
  trigger_at INTEGER NOT NULL,
  label TEXT NOT NULL DEFAULT '',
  group_id TEXT NOT NULL DEFAULT '',
  media_paths TEXT NOT NULL DEFAULT '[]',
  repeat_days_mask INTEGER NOT NULL DEFAULT 0,
  hour INTEGER NOT NULL DEFAULT -1,
  minute INTEGER NOT NULL DEFAULT -1,
  updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alarms_trigger ON alarms(trigger_at);
`

// Open opens (or creates) the SQLite database at the given path.
func Open(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	sqldb.SetMaxOpenConns(1)
	if _, err := sqldb.Exec(schema); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{db: sqldb}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Get returns the value stored under key.
func (d *DB) Get(key string) (string, bool, error) {
	var v string
	err := d.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

// Put inserts or replaces the value stored under key.
func (d *DB) Put(key, value string) error {
	_, err := d.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (d *DB) Delete(key string) error {
	if _, err := d.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// SaveAlarm records a pending alarm, replacing any row with the same id.
// Snoozed instances arrive under their negative snooze key.
func (d *DB) SaveAlarm(a types.AlarmDescriptor) error {
	paths, err := json.Marshal(nonNil(a.MediaPaths))
	if err != nil {
		return fmt.Errorf("encode media paths: %w", err)
	}
	_, err = d.db.Exec(`
		INSERT OR REPLACE INTO alarms (alarm_id, trigger_at, label, group_id, media_paths, repeat_days_mask, hour, minute, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AlarmID, a.TriggerAt, a.Label, a.GroupID, string(paths),
		a.RepeatDaysMask, a.Hour, a.Minute, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save alarm %d: %w", a.AlarmID, err)
	}
	return nil
}

// DeleteAlarm removes the pending alarm with the given id.
func (d *DB) DeleteAlarm(id int) error {
	if _, err := d.db.Exec(`DELETE FROM alarms WHERE alarm_id = ?`, id); err != nil {
		return fmt.Errorf("delete alarm %d: %w", id, err)
	}
	return nil
}

// ListAlarms returns all pending alarms ordered by trigger time.
func (d *DB) ListAlarms() ([]types.AlarmDescriptor, error) {
	rows, err := d.db.Query(`
		SELECT alarm_id, trigger_at, label, group_id, media_paths, repeat_days_mask, hour, minute
		FROM alarms ORDER BY trigger_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlarms(rows)
}

func scanAlarms(rows *sql.Rows) ([]types.AlarmDescriptor, error) {
	var alarms []types.AlarmDescriptor
	for rows.Next() {
		var a types.AlarmDescriptor
		var paths string
		if err := rows.Scan(&a.AlarmID, &a.TriggerAt, &a.Label, &a.GroupID, &paths,
			&a.RepeatDaysMask, &a.Hour, &a.Minute); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(paths), &a.MediaPaths); err != nil {
			return nil, fmt.Errorf("decode media paths for alarm %d: %w", a.AlarmID, err)
		}
		alarms = append(alarms, a)
	}
	return alarms, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
