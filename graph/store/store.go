// Package store provides persistence implementations for session checkpoints.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session has no checkpoint.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// ErrLockTimeout is returned when another process holds a session for longer
// than the store is willing to wait.
var ErrLockTimeout = errors.New("session lock timeout")

// Key identifies a session: one user's conversation thread.
type Key struct {
	UserID   string `json:"user_id"`
	ThreadID string `json:"thread_id"`
}

// String returns the canonical "user:thread" form used as the storage key.
func (k Key) String() string {
	return k.UserID + ":" + k.ThreadID
}

// Valid reports whether both halves of the key are set.
func (k Key) Valid() bool {
	return k.UserID != "" && k.ThreadID != ""
}

// Checkpoint is the persisted state of a session plus where it is parked.
//
// PausedAt is non-empty only while the session waits at an interrupt point;
// a later Resume re-enters the step loop at that node.
type Checkpoint[S any] struct {
	Key       Key       `json:"key"`
	State     S         `json:"state"`
	PausedAt  string    `json:"paused_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Paused reports whether the session is parked at an interrupt point.
func (c Checkpoint[S]) Paused() bool {
	return c.PausedAt != ""
}

// StepRecord is one entry of a session's step log.
type StepRecord[S any] struct {
	RunID  string `json:"run_id"`
	Step   int    `json:"step"`
	NodeID string `json:"node_id"`
	State  S      `json:"state"`
}

// Store persists session checkpoints keyed by (userId, threadId).
//
// Implementations must be safe for concurrent use across different keys. The
// engine serializes calls for a single key within a process; a store shared
// by several processes also implements Locker.
//
// Type parameter S is the state type; it must be JSON-serializable.
type Store[S any] interface {
	// Load returns the latest checkpoint for key, or ErrNotFound.
	Load(ctx context.Context, key Key) (Checkpoint[S], error)

	// Save replaces the checkpoint for key. An empty pausedAt clears the
	// pause marker.
	Save(ctx context.Context, key Key, state S, pausedAt string) error

	// ListPending returns the node the session is parked at, or "" when it
	// is not parked. Returns ErrNotFound for an unknown key.
	ListPending(ctx context.Context, key Key) (string, error)

	// SaveStep appends an entry to the session's step log.
	SaveStep(ctx context.Context, key Key, runID string, step int, nodeID string, state S) error

	// Steps returns the session's step log in execution order.
	Steps(ctx context.Context, key Key) ([]StepRecord[S], error)

	// Close releases any resources held by the store.
	Close() error
}

// Locker is implemented by stores shared between processes. The engine holds
// the lock for the whole of a Run or Resume call, so two instances never
// interleave steps of the same session.
type Locker interface {
	// Lock blocks until the session is free and returns its release
	// function. It fails with ErrLockTimeout when the wait runs out.
	Lock(ctx context.Context, key Key) (unlock func(), err error)
}
