package tool

import (
	"context"
	"sync"
)

// MockTool is a test implementation of Tool.
//
// Example:
//
//	mock := &tool.MockTool{
//	    ToolName:  "law_search",
//	    Responses: []map[string]interface{}{{"Expc": map[string]interface{}{"totalCnt": "1"}}},
//	}
type MockTool struct {
	// ToolName is returned by Name().
	ToolName string

	// Responses are returned in order; the last one repeats.
	Responses []map[string]interface{}

	// Err, if set, is returned instead of a response.
	Err error

	mu        sync.Mutex
	calls     []map[string]interface{}
	callIndex int
}

// Name implements Tool.
func (m *MockTool) Name() string {
	return m.ToolName
}

// Call implements Tool.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, input)

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Calls returns the recorded inputs.
func (m *MockTool) Calls() []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]interface{}, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of times Call has been invoked.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
