// Package eventlog persists the event stream on sqlite. The store only
// appends and replays: ordering comes from the sequence column, and the
// runtime treats replayed order as authoritative.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/orchard/internal/event"
)

const (
	// Schema ledger: replays are gated on an exact version + checksum
	// match so a downgraded binary never misreads a newer log.
	schemaVersion  = 1
	schemaChecksum = "orchard-v1-2026-08-eventlog"
)

// Store is the sqlite-backed event log.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the event log at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		`CREATE TABLE IF NOT EXISTS events (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			kind       TEXT NOT NULL,
			payload    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS schema_ledger (
			version  INTEGER NOT NULL,
			checksum TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("eventlog init: %w", err)
		}
	}

	var version int
	var checksum string
	err := s.db.QueryRow("SELECT version, checksum FROM schema_ledger LIMIT 1").Scan(&version, &checksum)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.Exec("INSERT INTO schema_ledger (version, checksum) VALUES (?, ?)", schemaVersion, schemaChecksum)
		return err
	case err != nil:
		return fmt.Errorf("eventlog ledger: %w", err)
	case version != schemaVersion || checksum != schemaChecksum:
		return fmt.Errorf("eventlog schema mismatch: have v%d (%s), want v%d (%s)", version, checksum, schemaVersion, schemaChecksum)
	}
	return nil
}

// Append durably records one event.
func (s *Store) Append(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventlog encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO events (kind, payload, created_at) VALUES (?, ?, ?)",
		string(ev.Kind), string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("eventlog append: %w", err)
	}
	return nil
}

// Replay streams every event in sequence order through fn.
func (s *Store) Replay(ctx context.Context, fn func(event.Event) error) error {
	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM events ORDER BY seq ASC")
	if err != nil {
		return fmt.Errorf("eventlog replay: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return err
		}
		var ev event.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return fmt.Errorf("eventlog decode: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Len returns the number of stored events.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
