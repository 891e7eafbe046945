package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// It keeps session checkpoints and the step log in a single-file database,
// which makes it the default choice for a single process that must survive
// restarts. WAL mode is enabled so readers (GetState) do not block the writer.
//
// Schema:
//   - sessions: one row per (user, thread) with state JSON and pause marker
//   - session_steps: append-only step log
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./lexgraph.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// Example:
//
//	st, err := store.NewSQLiteStore[legal.State]("./lexgraph.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s := &SQLiteStore[S]{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	sessionsTable := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_key TEXT NOT NULL PRIMARY KEY,
			user_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			state TEXT NOT NULL,
			paused_at TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, sessionsTable); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	stepsTable := `
		CREATE TABLE IF NOT EXISTS session_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_key, run_id, step)
		)
	`
	if _, err := s.db.ExecContext(ctx, stepsTable); err != nil {
		return fmt.Errorf("failed to create session_steps table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_steps_session ON session_steps(session_key, id)"); err != nil {
		return fmt.Errorf("failed to create idx_steps_session: %w", err)
	}

	return nil
}

func (s *SQLiteStore[S]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore[S]) Load(ctx context.Context, key Key) (Checkpoint[S], error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	query := `
		SELECT state, paused_at, updated_at
		FROM sessions
		WHERE session_key = ?
	`

	var (
		stateJSON string
		pausedAt  string
		updated   int64
	)
	err := s.db.QueryRowContext(ctx, query, key.String()).Scan(&stateJSON, &pausedAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var state S
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return Checkpoint[S]{
		Key:       key,
		State:     state,
		PausedAt:  pausedAt,
		UpdatedAt: time.Unix(0, updated).UTC(),
	}, nil
}

// Save implements Store.
func (s *SQLiteStore[S]) Save(ctx context.Context, key Key, state S, pausedAt string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO sessions (session_key, user_id, thread_id, state, paused_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			state = excluded.state,
			paused_at = excluded.paused_at,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query, key.String(), key.UserID, key.ThreadID,
		string(stateJSON), pausedAt, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return nil
}

// ListPending implements Store.
func (s *SQLiteStore[S]) ListPending(ctx context.Context, key Key) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}

	var pausedAt string
	err := s.db.QueryRowContext(ctx, "SELECT paused_at FROM sessions WHERE session_key = ?", key.String()).Scan(&pausedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load pause marker: %w", err)
	}
	return pausedAt, nil
}

// SaveStep implements Store.
func (s *SQLiteStore[S]) SaveStep(ctx context.Context, key Key, runID string, step int, nodeID string, state S) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO session_steps (session_key, run_id, step, node_id, state)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_key, run_id, step) DO UPDATE SET
			node_id = excluded.node_id,
			state = excluded.state
	`

	if _, err := s.db.ExecContext(ctx, query, key.String(), runID, step, nodeID, string(stateJSON)); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// Steps implements Store.
func (s *SQLiteStore[S]) Steps(ctx context.Context, key Key) ([]StepRecord[S], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, step, node_id, state
		FROM session_steps
		WHERE session_key = ?
		ORDER BY id ASC
	`, key.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []StepRecord[S]
	for rows.Next() {
		var (
			rec       StepRecord[S]
			stateJSON string
		)
		if err := rows.Scan(&rec.RunID, &rec.Step, &rec.NodeID, &stateJSON); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &rec.State); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step %d: %w", rec.Step, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}
	return records, nil
}

// Close implements Store.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
