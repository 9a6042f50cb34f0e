// Package store implements the Message Store (C7): durable persistence for messages and their
// render-event history in PostgreSQL, accessed through an externally-owned pgxpool.Pool. The
// caller creates and closes the pool; this package only ever queries it.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Message Store. The zero value is not usable; construct with New.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the messages/message_events tables and their indexes. Safe to call repeatedly;
// every statement is idempotent.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content_text TEXT NOT NULL DEFAULT '',
			content_render JSONB,
			last_seq BIGINT NOT NULL DEFAULT 0,
			stream_status TEXT NOT NULL DEFAULT 'in_progress',
			total_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS messages_session_idx ON messages(session_id)`,

		`CREATE TABLE IF NOT EXISTS message_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			stream_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			render_payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS message_events_session_seq_idx ON message_events(session_id, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: init: %w", err)
		}
	}
	return nil
}

// CreateMessage inserts a new message row and returns its generated id. Assistant messages start
// life with stream_status "in_progress" as a placeholder the background turn fills in; any other
// role (currently just "user") is recorded as already complete.
func (s *Store) CreateMessage(ctx context.Context, sessionID, content, role string) (string, error) {
	id := uuid.NewString()
	status := "completed"
	if role == "assistant" {
		status = "in_progress"
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, session_id, role, content_text, stream_status)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, sessionID, role, stripNullBytes(content), status)
	if err != nil {
		return "", fmt.Errorf("store: create message: %w", err)
	}
	return id, nil
}

// Event is one row to append to message_events, either singly via AppendEvent or batched via
// AppendEventsBatch.
type Event struct {
	SessionID     string
	MessageID     string
	StreamID      string
	Seq           int64
	EventType     string
	RenderPayload []byte // already-marshaled JSON
}

// AppendEvent inserts a single message_event row.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO message_events (id, session_id, message_id, stream_id, seq, event_type, render_payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)`,
		uuid.NewString(), evt.SessionID, evt.MessageID, evt.StreamID, evt.Seq, evt.EventType,
		stripNullBytes(string(evt.RenderPayload)))
	if err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	return nil
}

// AppendEventsBatch inserts multiple message_event rows in one round trip via pgx's batch
// protocol and returns the first error if any row fails. It does not retry; the per-row fallback
// lives in the Stream Runtime's flush, which calls AppendEvent for each row after a batch error.
func (s *Store) AppendEventsBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, evt := range events {
		batch.Queue(
			`INSERT INTO message_events (id, session_id, message_id, stream_id, seq, event_type, render_payload)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)`,
			uuid.NewString(), evt.SessionID, evt.MessageID, evt.StreamID, evt.Seq, evt.EventType,
			stripNullBytes(string(evt.RenderPayload)))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	var firstErr error
	for range events {
		if _, err := br.Exec(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("store: append events batch: %w", firstErr)
	}
	return nil
}

// UpdateMessageSnapshot overwrites a message's accumulated rendering state: the flattened
// display text, the full render-event snapshot, the last seq persisted, the stream's terminal
// status, and the running cost total.
func (s *Store) UpdateMessageSnapshot(ctx context.Context, messageID, contentText string, contentRender []byte, lastSeq int64, streamStatus string, totalCostUSD float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE messages
		 SET content_text = $1, content_render = $2::jsonb, last_seq = $3, stream_status = $4, total_cost_usd = $5
		 WHERE id = $6`,
		stripNullBytes(contentText), stripNullBytes(string(contentRender)), lastSeq, streamStatus, totalCostUSD, messageID)
	if err != nil {
		return fmt.Errorf("store: update message snapshot: %w", err)
	}
	return nil
}

// GetNextSeq returns one greater than the highest seq recorded for sessionID, or 1 if the
// session has no events yet.
func (s *Store) GetNextSeq(ctx context.Context, sessionID string) (int64, error) {
	var next int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM message_events WHERE session_id = $1`, sessionID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("store: get next seq: %w", err)
	}
	return next, nil
}

// HasPriorAssistant reports whether sessionID already has at least one completed assistant
// message, used to decide whether a turn is continuing an existing conversation or starting one.
func (s *Store) HasPriorAssistant(ctx context.Context, sessionID string) (bool, error) {
	var exists int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM messages WHERE session_id = $1 AND role = 'assistant' AND stream_status = 'completed' LIMIT 1`,
		sessionID,
	).Scan(&exists)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: has prior assistant: %w", err)
	}
	return true, nil
}

// PersistedEvent is one row read back from message_events, used to serve the SSE backlog replay;
// the largest Seq it returns seeds the HTTP edge's seq filter for live events.
type PersistedEvent struct {
	ID            string
	SessionID     string
	MessageID     string
	StreamID      string
	Seq           int64
	EventType     string
	RenderPayload []byte
	CreatedAt     time.Time
}

// GetEventsAfter returns every event recorded for sessionID with seq strictly greater than
// afterSeq, ordered ascending — the backlog half of the SSE catch-up-then-follow protocol.
func (s *Store) GetEventsAfter(ctx context.Context, sessionID string, afterSeq int64) ([]PersistedEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, message_id, stream_id, seq, event_type, render_payload, created_at
		 FROM message_events
		 WHERE session_id = $1 AND seq > $2
		 ORDER BY seq ASC`,
		sessionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("store: get events after: %w", err)
	}
	defer rows.Close()

	var events []PersistedEvent
	for rows.Next() {
		var e PersistedEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.MessageID, &e.StreamID, &e.Seq, &e.EventType, &e.RenderPayload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// stripNullBytes removes bytes Postgres text/jsonb columns cannot store.
func stripNullBytes(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
