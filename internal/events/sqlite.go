package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nvprime/nvprime/internal/foundation/errors"
)

// Journal is a Sink that stores events in SQLite.
type Journal struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenJournal opens or creates the journal at path, creating parent
// directories as needed. Use ":memory:" for a throwaway journal.
func OpenJournal(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, errors.JournalError("create journal directory").
				WithCause(err).
				WithContext("path", path).
				Build()
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.JournalError("open journal").WithCause(err).WithContext("path", path).Build()
	}
	// A single connection keeps ":memory:" databases shared across queries.
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.initialize(); err != nil {
		_ = db.Close()
		return nil, errors.JournalError("initialize journal schema").WithCause(err).WithContext("path", path).Build()
	}
	return j, nil
}

func (j *Journal) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		request_id TEXT,
		pid INTEGER,
		trigger TEXT,
		timestamp INTEGER NOT NULL,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_pid ON events(pid);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record appends e to the journal.
func (j *Journal) Record(ctx context.Context, e Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var metadataJSON []byte
	if len(e.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO events (event_type, request_id, pid, trigger, timestamp, metadata) VALUES (?, ?, ?, ?, ?, ?)",
		string(e.Type), e.RequestID, e.PID, e.Trigger, ts.UnixMilli(), metadataJSON,
	)
	if err != nil {
		return errors.JournalError("insert event").WithCause(err).Build()
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.QueryContext(ctx,
		"SELECT id, event_type, request_id, pid, trigger, timestamp, metadata FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, errors.JournalError("query events").WithCause(err).Build()
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// ByPID returns every event for pid, oldest first.
func (j *Journal) ByPID(ctx context.Context, pid int) ([]Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.QueryContext(ctx,
		"SELECT id, event_type, request_id, pid, trigger, timestamp, metadata FROM events WHERE pid = ? ORDER BY id",
		pid,
	)
	if err != nil {
		return nil, errors.JournalError("query events").WithCause(err).Build()
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	events := []Event{}
	for rows.Next() {
		var (
			e            Event
			typ          string
			requestID    sql.NullString
			pid          sql.NullInt64
			trigger      sql.NullString
			tsMillis     int64
			metadataJSON []byte
		)
		if err := rows.Scan(&e.ID, &typ, &requestID, &pid, &trigger, &tsMillis, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = Type(typ)
		e.RequestID = requestID.String
		e.PID = int(pid.Int64)
		e.Trigger = trigger.String
		e.Timestamp = time.UnixMilli(tsMillis)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return events, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}
