package emit

import "time"

// Event represents an observability event emitted during workflow execution.
//
// Events are emitted at key points:
//   - run started / resumed
//   - node completed, node error
//   - interrupted (session parked at an interrupt point)
//   - run completed
//
// Events are consumed by Emitter implementations for logging, tracing and
// returning a per-call event stream to clients.
type Event struct {
	// RunID identifies the Run or Resume call that emitted this event.
	RunID string `json:"run_id"`

	// Session is the "user:thread" key of the session.
	Session string `json:"session"`

	// Step is the sequential step number within the call (1-indexed).
	// Zero for call-level events (start, complete, interrupted).
	Step int `json:"step"`

	// NodeID identifies which node emitted this event.
	// Empty string for call-level events.
	NodeID string `json:"node_id,omitempty"`

	// Msg is a short description of the event.
	Msg string `json:"msg"`

	// Time is when the event was emitted.
	Time time.Time `json:"time"`

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": node execution duration
	//   - "error": error details
	//   - "paused_at": interrupt node
	//   - "next": routing decision
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// Message constants used by the engine.
const (
	MsgRunStarted    = "run started"
	MsgRunResumed    = "run resumed"
	MsgNodeCompleted = "node completed"
	MsgNodeError     = "node error"
	MsgInterrupted   = "interrupted"
	MsgRunCompleted  = "run completed"
)
