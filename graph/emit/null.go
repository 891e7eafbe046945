package emit

// NullEmitter discards all events.
//
// Useful for tests and for callers that do not need observability.
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit implements Emitter and does nothing.
func (n *NullEmitter) Emit(event Event) {}
