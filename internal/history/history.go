// Package history records build runs in a SQLite database so past
// invocations can be inspected with `pake history`.
//
// The state file is the source of truth for up-to-date decisions; the
// history database is a best-effort log. Insert failures are logged
// and never fail a build.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Entry is one recorded target run.
type Entry struct {
	ID        int64
	Timestamp string
	Target    string
	Action    string // "built", "cached" or "failed"
	Reason    string
	Duration  time.Duration
}

// Store wraps the history database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening history db %s: %w", path, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			ts          TEXT NOT NULL,
			target      TEXT NOT NULL,
			action      TEXT NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			duration_us INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_runs_target ON runs(target);
		CREATE INDEX IF NOT EXISTS idx_runs_ts ON runs(ts);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Record inserts one run row. Implements the engine's Recorder.
func (s *Store) Record(target, action, reason string, elapsed time.Duration) {
	_, err := s.db.Exec(
		`INSERT INTO runs (ts, target, action, reason, duration_us) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), target, action, reason, elapsed.Microseconds(),
	)
	if err != nil {
		slog.Error("history insert failed", "target", target, "error", err)
	}
}

// Tail returns the most recent entries, newest first, optionally
// filtered to one target.
func (s *Store) Tail(target string, limit int) ([]Entry, error) {
	query := `SELECT id, ts, target, action, reason, duration_us FROM runs`
	var args []any
	if target != "" {
		query += ` WHERE target = ?`
		args = append(args, target)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var us int64
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Target, &e.Action, &e.Reason, &us); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.Duration = time.Duration(us) * time.Microsecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
