// Package tool provides the external-tool contract used by tool nodes.
package tool

import "context"

// Tool is an external capability a tool node invokes with LLM-generated
// arguments: a search API, a vector store, an HTTP endpoint.
//
// Inputs and outputs are JSON-shaped maps so results can be stored in
// workflow state and persisted without conversion.
//
// Implementations must respect ctx and report failures as errors; the
// calling node records them in state rather than aborting the workflow.
type Tool interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Call executes the tool.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Func adapts a function to the Tool interface.
type Func struct {
	ToolName string
	Fn       func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Name implements Tool.
func (f Func) Name() string { return f.ToolName }

// Call implements Tool.
func (f Func) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return f.Fn(ctx, input)
}
