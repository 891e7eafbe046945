package store

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store[S].
//
// Use it when several process instances serve the same sessions: a session
// parked at an interrupt by one instance can be resumed by another.
//
// Schema:
//   - sessions: one row per (user, thread), state as JSON, pause marker
//   - session_steps: append-only step log
//
// Calls for one session are serialized across instances with a MySQL named
// lock (GET_LOCK) held for the duration of each Run or Resume.
type MySQLStore[S any] struct {
	db       *sql.DB
	mu       sync.RWMutex
	closed   bool
	lockWait time.Duration
}

// DefaultLockWait is how long Lock waits for another instance to release a
// session.
const DefaultLockWait = 30 * time.Second

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN uses the go-sql-driver format; parseTime is forced on.
//
// Example:
//
//	st, err := store.NewMySQLStore[legal.State]("user:pass@tcp(localhost:3306)/lexgraph")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLStore[S]{db: db, lockWait: DefaultLockWait}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return m, nil
}

func (m *MySQLStore[S]) createTables(ctx context.Context) error {
	sessionsTable := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_key VARCHAR(512) NOT NULL PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			thread_id VARCHAR(255) NOT NULL,
			state JSON NOT NULL,
			paused_at VARCHAR(64) NOT NULL DEFAULT '',
			updated_at TIMESTAMP(6) NOT NULL,
			INDEX idx_sessions_user (user_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, sessionsTable); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	stepsTable := `
		CREATE TABLE IF NOT EXISTS session_steps (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			session_key VARCHAR(512) NOT NULL,
			run_id VARCHAR(64) NOT NULL,
			step INT NOT NULL,
			node_id VARCHAR(64) NOT NULL,
			state JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_steps_session (session_key, id),
			UNIQUE KEY unique_session_run_step (session_key, run_id, step)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, stepsTable); err != nil {
		return fmt.Errorf("failed to create session_steps table: %w", err)
	}

	return nil
}

func (m *MySQLStore[S]) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Load implements Store.
func (m *MySQLStore[S]) Load(ctx context.Context, key Key) (Checkpoint[S], error) {
	if err := m.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	var (
		stateJSON []byte
		pausedAt  string
		updated   time.Time
	)
	err := m.db.QueryRowContext(ctx,
		"SELECT state, paused_at, updated_at FROM sessions WHERE session_key = ?",
		key.String(),
	).Scan(&stateJSON, &pausedAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var state S
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return Checkpoint[S]{Key: key, State: state, PausedAt: pausedAt, UpdatedAt: updated.UTC()}, nil
}

// Save implements Store.
func (m *MySQLStore[S]) Save(ctx context.Context, key Key, state S, pausedAt string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO sessions (session_key, user_id, thread_id, state, paused_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			state = VALUES(state),
			paused_at = VALUES(paused_at),
			updated_at = VALUES(updated_at)
	`
	_, err = m.db.ExecContext(ctx, query, key.String(), key.UserID, key.ThreadID,
		stateJSON, pausedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// ListPending implements Store.
func (m *MySQLStore[S]) ListPending(ctx context.Context, key Key) (string, error) {
	if err := m.checkOpen(); err != nil {
		return "", err
	}

	var pausedAt string
	err := m.db.QueryRowContext(ctx, "SELECT paused_at FROM sessions WHERE session_key = ?", key.String()).Scan(&pausedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load pause marker: %w", err)
	}
	return pausedAt, nil
}

// SaveStep implements Store.
func (m *MySQLStore[S]) SaveStep(ctx context.Context, key Key, runID string, step int, nodeID string, state S) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO session_steps (session_key, run_id, step, node_id, state)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			node_id = VALUES(node_id),
			state = VALUES(state)
	`
	if _, err := m.db.ExecContext(ctx, query, key.String(), runID, step, nodeID, stateJSON); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// Steps implements Store.
func (m *MySQLStore[S]) Steps(ctx context.Context, key Key) ([]StepRecord[S], error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx,
		"SELECT run_id, step, node_id, state FROM session_steps WHERE session_key = ? ORDER BY id ASC",
		key.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []StepRecord[S]
	for rows.Next() {
		var (
			rec       StepRecord[S]
			stateJSON []byte
		)
		if err := rows.Scan(&rec.RunID, &rec.Step, &rec.NodeID, &stateJSON); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if err := json.Unmarshal(stateJSON, &rec.State); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step %d: %w", rec.Step, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Lock implements Locker with GET_LOCK on a dedicated connection. The lock
// belongs to that connection, so the connection is held until unlock.
func (m *MySQLStore[S]) Lock(ctx context.Context, key Key) (func(), error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	name := lockName(key)
	var got sql.NullInt64
	err = conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", name, int(m.lockWait/time.Second)).Scan(&got)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to acquire session lock: %w", err)
	}
	if !got.Valid || got.Int64 != 1 {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}

	return func() {
		var released sql.NullInt64
		_ = conn.QueryRowContext(context.Background(), "SELECT RELEASE_LOCK(?)", name).Scan(&released)
		_ = conn.Close()
	}, nil
}

// lockName fits any key into MySQL's 64-character lock name limit.
func lockName(key Key) string {
	sum := sha1.Sum([]byte(key.String())) // #nosec G401 -- lock name, not a security hash
	return "lexgraph:" + hex.EncodeToString(sum[:])
}

// Ping verifies the database connection is alive.
func (m *MySQLStore[S]) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// Close implements Store. Calling Close multiple times is safe.
func (m *MySQLStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

var _ Locker = (*MySQLStore[struct{}])(nil)
