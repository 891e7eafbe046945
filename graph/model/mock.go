package model

import (
	"context"
	"fmt"
	"sync"
)

// MockModel is a scripted StructuredModel for tests and offline demos.
//
// Responses are keyed by shape name. Each call pops the next response for its
// shape; once the script is exhausted the last response repeats. A response
// that is an error is returned as the call's error.
//
// Example:
//
//	mock := model.NewMockModel()
//	mock.Script("plan", map[string]interface{}{"refined_query": "q", "pending": []interface{}{}})
//	mock.Script("action", errors.New("provider down"))
type MockModel struct {
	mu        sync.Mutex
	responses map[string][]interface{}
	next      map[string]int
	calls     []MockCall

	// SkipValidation returns scripted payloads as-is instead of validating
	// them against the requested shape.
	SkipValidation bool
}

// MockCall records one Generate invocation.
type MockCall struct {
	Prompt string
	Shape  string
}

// NewMockModel creates an empty MockModel.
func NewMockModel() *MockModel {
	return &MockModel{
		responses: make(map[string][]interface{}),
		next:      make(map[string]int),
	}
}

// Script appends responses for shape. Each response is either a
// map[string]interface{} payload or an error.
func (m *MockModel) Script(shape string, responses ...interface{}) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[shape] = append(m.responses[shape], responses...)
	return m
}

// Generate implements StructuredModel.
func (m *MockModel) Generate(ctx context.Context, prompt string, shape TypeDescriptor) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Prompt: prompt, Shape: shape.Name})
	script := m.responses[shape.Name]
	if len(script) == 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("mock: no response scripted for shape %q", shape.Name)
	}
	idx := m.next[shape.Name]
	if idx >= len(script) {
		idx = len(script) - 1
	} else {
		m.next[shape.Name]++
	}
	resp := script[idx]
	m.mu.Unlock()

	switch r := resp.(type) {
	case error:
		return nil, r
	case map[string]interface{}:
		if !m.SkipValidation {
			if err := shape.Validate(r); err != nil {
				return nil, err
			}
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: mock response for %q has type %T", ErrTypeMismatch, shape.Name, resp)
	}
}

// Calls returns a copy of the recorded invocations.
func (m *MockModel) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of calls made for shape, or for all shapes
// when shape is empty.
func (m *MockModel) CallCount(shape string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if shape == "" {
		return len(m.calls)
	}
	n := 0
	for _, c := range m.calls {
		if c.Shape == shape {
			n++
		}
	}
	return n
}

// Reset clears call history and rewinds every script.
func (m *MockModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.next = make(map[string]int)
}
