package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/autopilot/internal/observability"
	"github.com/harun/autopilot/internal/tracing"
	"github.com/harun/autopilot/pkg/eventstream"
)

// SQLiteStore keeps events in one table ordered by insertion sequence.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path. ":memory:" is
// accepted for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	observability.EnsureRegistered()

	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; an in-memory database also lives on a single connection
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info().Str("path", path).Msg("SQLite session store initialized")
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			type TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			body TEXT NOT NULL,
			UNIQUE (session_id, event_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, seq)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Put inserts ev, or replaces the body of an event already stored.
func (s *SQLiteStore) Put(ctx context.Context, sessionID string, ev eventstream.Event) (err error) {
	ctx, span := tracing.StartSpan(ctx, "autopilot.session", "session.put",
		attribute.String("session_id", sessionID),
		attribute.String("event_type", string(ev.Type)))
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("sqlite", "put", time.Since(start), err == nil)
		tracing.EndSpan(span, err)
	}()

	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (session_id, event_id, type, created_at, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, event_id) DO UPDATE SET body = excluded.body
	`, sessionID, ev.ID, string(ev.Type), ev.Timestamp, string(body))
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// Load returns a session's events in insertion order.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (events []eventstream.Event, err error) {
	ctx, span := tracing.StartSpan(ctx, "autopilot.session", "session.load",
		attribute.String("session_id", sessionID))
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("sqlite", "load", time.Since(start), err == nil)
		tracing.EndSpan(span, err)
	}()

	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM events WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var ev eventstream.Event
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			log.Warn().Str("session_id", sessionID).Err(err).Msg("Failed to decode event, skipping")
			continue
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events, nil
}

// List returns stored session ids, oldest first.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM events GROUP BY session_id ORDER BY MIN(seq)`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes every event of a session.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
