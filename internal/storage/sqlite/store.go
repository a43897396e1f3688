// Package sqlite persists diagnostic events in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/agentcore-guard/internal/observe"
)

// Store is a SQLite-backed diagnostics log. It implements observe.Sink.
type Store struct {
	db *sql.DB
}

var _ observe.Sink = (*Store)(nil)

// ListOptions filters ListEvents. Zero values match everything.
type ListOptions struct {
	SessionID string
	RequestID string
	Type      observe.EventType
	Since     time.Time
	Limit     int
	Offset    int
}

// New opens (or creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			request_id TEXT,
			session_id TEXT,
			attrs TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_request ON events(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// SaveEvent inserts one event. Missing ids and timestamps are filled in.
func (s *Store) SaveEvent(ctx context.Context, event observe.Event) error {
	event.Normalize()

	var attrs []byte
	if len(event.Attrs) > 0 {
		var err error
		attrs, err = json.Marshal(event.Attrs)
		if err != nil {
			return fmt.Errorf("failed to marshal attrs: %w", err)
		}
	}

	query := `INSERT INTO events (id, type, request_id, session_id, attrs, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		event.ID, string(event.Type), event.RequestID, event.SessionID,
		nullString(attrs), event.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}

	return nil
}

// Emit implements observe.Sink.
func (s *Store) Emit(ctx context.Context, event observe.Event) error {
	return s.SaveEvent(ctx, event)
}

// ListEvents returns matching events oldest first.
func (s *Store) ListEvents(ctx context.Context, opts ListOptions) ([]observe.Event, error) {
	query := `SELECT id, type, request_id, session_id, attrs, created_at FROM events WHERE 1=1`
	var args []any

	if opts.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, opts.SessionID)
	}
	if opts.RequestID != "" {
		query += ` AND request_id = ?`
		args = append(args, opts.RequestID)
	}
	if opts.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(opts.Type))
	}
	if !opts.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, opts.Since.UTC())
	}

	limit := opts.Limit
	if limit == 0 {
		limit = 100 // default limit
	}
	query += ` ORDER BY created_at ASC, rowid ASC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []observe.Event
	for rows.Next() {
		var (
			ev        observe.Event
			typ       string
			requestID sql.NullString
			sessionID sql.NullString
			attrs     sql.NullString
		)
		if err := rows.Scan(&ev.ID, &typ, &requestID, &sessionID, &attrs, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = observe.EventType(typ)
		ev.RequestID = requestID.String
		ev.SessionID = sessionID.String
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &ev.Attrs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attrs: %w", err)
			}
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// DeleteBefore removes events older than cutoff and reports how many went.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
