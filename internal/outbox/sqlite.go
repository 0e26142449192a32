// Package outbox persists sessions the topic service has not confirmed yet.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"speakdrill/internal/domain"
	"speakdrill/internal/ports"

	_ "modernc.org/sqlite" // SQLite driver.
)

var ErrMissingSessionID = errors.New("pending session has no id")

// Store is a SQLite-backed ports.SessionOutbox.
type Store struct {
	db *sql.DB
}

// Open opens or creates the outbox database and applies migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pending_sessions (
			session_id TEXT PRIMARY KEY,
			topic_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			queued_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pending_sessions_queued_at ON pending_sessions(queued_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate outbox: %w", err)
		}
	}
	return nil
}

// Put inserts or replaces the record for the session id. The original queue time is kept.
func (s *Store) Put(ctx context.Context, pending ports.PendingSession) error {
	if pending.Session.ID == "" {
		return ErrMissingSessionID
	}
	if pending.QueuedAt.IsZero() {
		pending.QueuedAt = time.Now()
	}
	payload, err := json.Marshal(pending.Session)
	if err != nil {
		return fmt.Errorf("encode pending session: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_sessions (session_id, topic_id, payload, last_error, queued_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			topic_id = excluded.topic_id,
			payload = excluded.payload,
			last_error = excluded.last_error`,
		pending.Session.ID,
		pending.TopicID,
		string(payload),
		pending.LastError,
		pending.QueuedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put pending session: %w", err)
	}
	return nil
}

// Remove deletes the record; removing an unknown id is not an error.
func (s *Store) Remove(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("remove pending session: %w", err)
	}
	return nil
}

// RemoveTopic drops every record queued under topicID.
func (s *Store) RemoveTopic(ctx context.Context, topicID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_sessions WHERE topic_id = ?`, topicID); err != nil {
		return fmt.Errorf("remove pending sessions of topic: %w", err)
	}
	return nil
}

// List returns pending sessions oldest first.
func (s *Store) List(ctx context.Context) ([]ports.PendingSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT topic_id, payload, last_error, queued_at
		 FROM pending_sessions
		 ORDER BY queued_at ASC, session_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending sessions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []ports.PendingSession
	for rows.Next() {
		var (
			pending  ports.PendingSession
			payload  string
			queuedAt string
		)
		if err := rows.Scan(&pending.TopicID, &payload, &pending.LastError, &queuedAt); err != nil {
			return nil, err
		}
		var session domain.Session
		if err := json.Unmarshal([]byte(payload), &session); err != nil {
			return nil, fmt.Errorf("decode pending session: %w", err)
		}
		pending.Session = session.Clone()
		if pending.QueuedAt, err = time.Parse(time.RFC3339Nano, queuedAt); err != nil {
			return nil, fmt.Errorf("decode queued_at: %w", err)
		}
		out = append(out, pending)
	}
	return out, rows.Err()
}
