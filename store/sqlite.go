package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/calyptra/flume/event"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is a durable event store backed by SQLite with WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens a SQLite database at the given path and
// applies the schema. Idempotent.
//
// The database is configured with WAL mode for concurrent reads during
// writes, NORMAL synchronous mode, a 5-second busy timeout, and foreign
// key enforcement.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

const upsertEventSQL = `
	INSERT INTO events
	(event_id, event_type, timestamp, conversation_id, execution_id, request_id, user_id, context, data)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(event_id) DO UPDATE SET
		timestamp = excluded.timestamp,
		context   = excluded.context,
		data      = excluded.data
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func writeEvent(ctx context.Context, db execer, ev event.Event) error {
	env, err := ev.Envelope()
	if err != nil {
		return fmt.Errorf("write event %s: %w", ev.ID(), err)
	}
	_, err = db.ExecContext(ctx, upsertEventSQL,
		env.EventID,
		string(env.EventType),
		env.Timestamp.UTC().Format(time.RFC3339Nano),
		env.ExecutionContext.ConversationID,
		env.ExecutionContext.ExecutionID,
		env.ExecutionContext.RequestID,
		env.ExecutionContext.UserID,
		string(env.Context),
		env.Data,
	)
	if err != nil {
		return fmt.Errorf("write event %s: %w", ev.ID(), err)
	}
	return nil
}

// RecordEvent upserts a single event by id.
func (s *SQLiteStore) RecordEvent(ctx context.Context, ev event.Event) error {
	return writeEvent(ctx, s.db, ev)
}

// RecordEvents writes the batch in one transaction: either every event of
// the batch is durable or none is.
func (s *SQLiteStore) RecordEvents(ctx context.Context, evs []event.Event) error {
	if len(evs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record events: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, ev := range evs {
		if err := writeEvent(ctx, tx, ev); err != nil {
			return fmt.Errorf("record events: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record events: commit: %w", err)
	}
	return nil
}

const selectEventSQL = `
	SELECT event_id, event_type, timestamp, conversation_id, execution_id, request_id, user_id, context, data
	FROM events
`

func scanEvent(rows interface{ Scan(...any) error }) (event.Event, error) {
	var (
		env       event.Envelope
		eventType string
		timestamp string
		contextJS string
	)
	err := rows.Scan(
		&env.EventID,
		&eventType,
		&timestamp,
		&env.ExecutionContext.ConversationID,
		&env.ExecutionContext.ExecutionID,
		&env.ExecutionContext.RequestID,
		&env.ExecutionContext.UserID,
		&contextJS,
		&env.Data,
	)
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	env.EventType = event.EventType(eventType)
	env.Context = json.RawMessage(contextJS)
	env.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, fmt.Errorf("scan event %s: parse timestamp: %w", env.EventID, err)
	}
	return env.Decode()
}

func (s *SQLiteStore) queryEvents(ctx context.Context, where string, arg string) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEventSQL+where+" ORDER BY rowid ASC", arg)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// RequestEvents returns all events for the request id in recorded order.
func (s *SQLiteStore) RequestEvents(ctx context.Context, requestID string) ([]event.Event, error) {
	return s.queryEvents(ctx, " WHERE request_id = ?", requestID)
}

// ConversationEvents returns all events for the conversation id in
// recorded order.
func (s *SQLiteStore) ConversationEvents(ctx context.Context, conversationID string) ([]event.Event, error) {
	return s.queryEvents(ctx, " WHERE conversation_id = ?", conversationID)
}

// Event returns the event with the given id, or ErrNotFound.
func (s *SQLiteStore) Event(ctx context.Context, eventID string) (event.Event, error) {
	row := s.db.QueryRowContext(ctx, selectEventSQL+" WHERE event_id = ?", eventID)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ev, nil
}

// ListRequestIDs returns all distinct request ids in the database,
// ordered by first appearance. Used by the trace and replay commands.
func (s *SQLiteStore) ListRequestIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id FROM events
		GROUP BY request_id
		ORDER BY MIN(rowid)
	`)
	if err != nil {
		return nil, fmt.Errorf("list request ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan request id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request ids: %w", err)
	}
	return ids, nil
}
