package graph

import (
	"encoding/json"
	"fmt"
)

// Reducer merges a node's partial update into the previous state.
//
// Reducers must not mutate prev in place: maps and slices reachable from prev
// may be shared with persisted snapshots, so a reducer clones before it writes.
type Reducer[S, D any] func(prev S, delta D) S

// deepCopy creates a deep copy of state S using JSON round-trip serialization.
//
// Limitations:
//   - Unexported struct fields are not copied
//   - Channels, functions, and types that don't marshal to JSON will fail
func deepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return copied, nil
}
