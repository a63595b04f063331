// Package storage provides the durable event log backing the in-memory
// bus's ring buffer with a queryable history that survives restarts.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flowline-dev/flowline/internal/events"
)

const eventLogSchema = `
CREATE TABLE IF NOT EXISTS events (
	id           TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL DEFAULT '',
	type         TEXT NOT NULL,
	ts           TEXT NOT NULL,
	source       TEXT NOT NULL,
	payload      TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_events_workspace_ts ON events(workspace_id, ts);
`

// EventLog persists every bus event into a sqlite database.
type EventLog struct {
	db          *sql.DB
	unsubscribe func()
	done        chan struct{}
}

// NewEventLog opens (creating if needed) the event database at path and
// subscribes to the bus. Writes are best-effort: a failed insert is logged
// and dropped, never propagated back to the publisher.
func NewEventLog(path string, bus *events.Bus) (*EventLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	// sqlite allows one writer at a time; the bus dispatch goroutine is the
	// only writer, so a single connection avoids lock contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(eventLogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init event log schema: %w", err)
	}

	l := &EventLog{db: db, done: make(chan struct{})}
	if bus != nil {
		// Writes run on their own goroutine so the bus dispatch loop never
		// waits on disk. The channel drops on overflow, matching the bus's
		// at-most-once delivery.
		ch, unsubscribe := bus.SubscribeChan(1024)
		l.unsubscribe = unsubscribe
		go func() {
			defer close(l.done)
			for e := range ch {
				l.record(e)
			}
		}()
	} else {
		close(l.done)
	}
	return l, nil
}

func (l *EventLog) record(e events.Event) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		payload = []byte("{}")
	}
	_, err = l.db.Exec(
		`INSERT OR IGNORE INTO events (id, workspace_id, type, ts, source, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkspaceID, string(e.Type), e.Timestamp.Format(time.RFC3339Nano), string(e.Source), string(payload),
	)
	if err != nil {
		slog.Warn("event log write", "event_id", e.ID, "error", err)
	}
}

// Tail returns the most recent events in chronological order, optionally
// scoped to one workspace.
func (l *EventLog) Tail(workspaceID string, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, workspace_id, type, ts, source, payload FROM events`
	args := []any{}
	if workspaceID != "" {
		query += ` WHERE workspace_id = ?`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query event log: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var e events.Event
		var ts, payload string
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.Type, &ts, &e.Source, &payload); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			e.Payload = nil
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; flip to chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close unsubscribes from the bus, drains in-flight writes, and closes
// the database.
func (l *EventLog) Close() error {
	if l.unsubscribe != nil {
		l.unsubscribe()
		l.unsubscribe = nil
	}
	<-l.done
	return l.db.Close()
}
