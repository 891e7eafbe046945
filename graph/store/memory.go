package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store[S].
//
// States are deep-copied through JSON on the way in and out, so neither the
// engine nor a caller ever shares a map or slice with a stored checkpoint.
//
// Limitations:
//   - Data is lost when the process terminates
//   - Not suitable for resuming from a different process instance
//
// Use SQLiteStore or MySQLStore when sessions must survive a restart.
type MemStore[S any] struct {
	mu          sync.RWMutex
	checkpoints map[string]memCheckpoint
	steps       map[string][]memStep
	closed      bool
}

type memCheckpoint struct {
	key       Key
	state     []byte
	pausedAt  string
	updatedAt time.Time
}

type memStep struct {
	runID  string
	step   int
	nodeID string
	state  []byte
}

// NewMemStore creates a new in-memory store.
//
// Example:
//
//	st := store.NewMemStore[legal.State]()
//	engine := graph.New(reducer, st, emitter)
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		checkpoints: make(map[string]memCheckpoint),
		steps:       make(map[string][]memStep),
	}
}

// Load implements Store.
func (m *MemStore[S]) Load(_ context.Context, key Key) (Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Checkpoint[S]{}, ErrClosed
	}

	cp, ok := m.checkpoints[key.String()]
	if !ok {
		return Checkpoint[S]{}, ErrNotFound
	}

	var state S
	if err := json.Unmarshal(cp.state, &state); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return Checkpoint[S]{
		Key:       cp.key,
		State:     state,
		PausedAt:  cp.pausedAt,
		UpdatedAt: cp.updatedAt,
	}, nil
}

// Save implements Store.
func (m *MemStore[S]) Save(_ context.Context, key Key, state S, pausedAt string) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.checkpoints[key.String()] = memCheckpoint{
		key:       key,
		state:     data,
		pausedAt:  pausedAt,
		updatedAt: time.Now().UTC(),
	}
	return nil
}

// ListPending implements Store.
func (m *MemStore[S]) ListPending(_ context.Context, key Key) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", ErrClosed
	}

	cp, ok := m.checkpoints[key.String()]
	if !ok {
		return "", ErrNotFound
	}
	return cp.pausedAt, nil
}

// SaveStep implements Store.
func (m *MemStore[S]) SaveStep(_ context.Context, key Key, runID string, step int, nodeID string, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	k := key.String()
	m.steps[k] = append(m.steps[k], memStep{runID: runID, step: step, nodeID: nodeID, state: data})
	return nil
}

// Steps implements Store.
func (m *MemStore[S]) Steps(_ context.Context, key Key) ([]StepRecord[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	raw := m.steps[key.String()]
	records := make([]StepRecord[S], 0, len(raw))
	for _, r := range raw {
		var state S
		if err := json.Unmarshal(r.state, &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step %d: %w", r.step, err)
		}
		records = append(records, StepRecord[S]{RunID: r.runID, Step: r.step, NodeID: r.nodeID, State: state})
	}
	return records, nil
}

// Close implements Store. Subsequent operations return ErrClosed.
func (m *MemStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
