// Package store persists the bot's durable state in SQLite: the provider
// usage log, per-user preferences and pending reminders.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// OpenDB opens (or creates) a SQLite database at the given path, ensuring
// that the parent directory exists.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	return db, nil
}

// InitSchema creates all tables: usage_log, prefs, reminders.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider TEXT NOT NULL,
			kind TEXT NOT NULL,
			success INTEGER NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
		CREATE INDEX IF NOT EXISTS idx_usage_log_created_at ON usage_log(created_at);

		CREATE TABLE IF NOT EXISTS prefs (
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT (unixepoch()),
			PRIMARY KEY (user_id, key)
		);

		CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			text TEXT NOT NULL,
			due_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
		CREATE INDEX IF NOT EXISTS idx_reminders_due_at ON reminders(due_at);
	`)
	return err
}

// Store wraps the database with the bot's query surface.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append records one provider invocation in the usage log. Satisfies the
// router's usage-log interface.
func (s *Store) Append(provider, kind string, success bool) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_log (provider, kind, success) VALUES (?, ?, ?)`,
		provider, kind, boolToInt(success),
	)
	if err != nil {
		return fmt.Errorf("insert usage entry: %w", err)
	}
	return nil
}

// UsageCounts returns per-provider call counts since the given time.
func (s *Store) UsageCounts(since time.Time) (map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT provider, COUNT(*) FROM usage_log WHERE created_at >= ? GROUP BY provider`,
		since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var provider string
		var n int
		if err := rows.Scan(&provider, &n); err != nil {
			return nil, err
		}
		counts[provider] = n
	}
	return counts, rows.Err()
}

// SetPref stores one key/value preference for a user, overwriting any
// previous value.
func (s *Store) SetPref(userID, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO prefs (user_id, key, value, updated_at) VALUES (?, ?, ?, unixepoch())
		 ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = unixepoch()`,
		userID, key, value,
	)
	if err != nil {
		return fmt.Errorf("upsert pref %s: %w", key, err)
	}
	return nil
}

// GetPref returns the stored value, or "" when the user never set the key.
func (s *Store) GetPref(userID, key string) (string, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM prefs WHERE user_id = ? AND key = ?`,
		userID, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query pref %s: %w", key, err)
	}
	return value, nil
}

// Reminder is one pending reminder row.
type Reminder struct {
	ID        string
	UserID    string
	ChannelID string
	Text      string
	DueAt     time.Time
}

// InsertReminder stores a pending reminder.
func (s *Store) InsertReminder(r Reminder) error {
	_, err := s.db.Exec(
		`INSERT INTO reminders (id, user_id, channel_id, text, due_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.ChannelID, r.Text, r.DueAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

// DueReminders returns reminders whose due time has passed, oldest first.
func (s *Store) DueReminders(now time.Time) ([]Reminder, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, channel_id, text, due_at FROM reminders WHERE due_at <= ? ORDER BY due_at`,
		now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer rows.Close()

	var due []Reminder
	for rows.Next() {
		var r Reminder
		var dueAt int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.ChannelID, &r.Text, &dueAt); err != nil {
			return nil, err
		}
		r.DueAt = time.Unix(dueAt, 0)
		due = append(due, r)
	}
	return due, rows.Err()
}

// DeleteReminder removes a reminder once delivered.
func (s *Store) DeleteReminder(id string) error {
	_, err := s.db.Exec(`DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete reminder %s: %w", id, err)
	}
	return nil
}

// PendingReminders counts reminders not yet delivered.
func (s *Store) PendingReminders() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM reminders`).Scan(&n)
	return n, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
