// Package graph provides the step engine that drives durable, resumable workflows.
package graph

import "context"

// Node represents a single step in a workflow.
//
// A node receives the current state and returns a sparse update (the delta)
// that the engine merges through the configured reducer. Nodes should be
// deterministic with respect to their inputs; all external effects go through
// collaborators injected at construction time.
//
// Type parameters:
//   - S is the state type shared across the workflow.
//   - D is the partial update type a node produces.
//
// Example:
//
//	type Greeter struct{}
//
//	func (Greeter) Run(ctx context.Context, s MyState) graph.NodeResult[MyUpdate] {
//	    return graph.NodeResult[MyUpdate]{Delta: MyUpdate{Greeting: "hello " + s.Name}}
//	}
type Node[S, D any] interface {
	// Run executes the node's logic with the given context and state.
	Run(ctx context.Context, state S) NodeResult[D]
}

// NodeResult is the output of a single node execution.
type NodeResult[D any] struct {
	// Delta is the partial state update produced by this node.
	// It is merged into the current state using the engine's reducer.
	Delta D

	// Route optionally overrides edge-based routing. The zero value defers
	// to the edges and routers registered for the node.
	Route Next

	// Err is a hard failure. The engine stops, persists what it has and
	// returns the error to the caller. Recoverable failures belong in Delta.
	Err error
}

// Next specifies what the engine should do after a node completes.
type Next struct {
	// To names the next node explicitly.
	To string

	// Terminal ends the current Run or Resume call.
	Terminal bool
}

// Stop returns a Next that ends the current call.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto returns a Next that routes to nodeID.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// NodeFunc adapts an ordinary function to the Node interface.
//
// Example:
//
//	finalize := graph.NodeFunc[MyState, MyUpdate](func(ctx context.Context, s MyState) graph.NodeResult[MyUpdate] {
//	    return graph.NodeResult[MyUpdate]{Route: graph.Stop()}
//	})
type NodeFunc[S, D any] func(ctx context.Context, state S) NodeResult[D]

// Run implements Node.
func (f NodeFunc[S, D]) Run(ctx context.Context, state S) NodeResult[D] {
	return f(ctx, state)
}

// NodeError describes a hard failure raised by a node.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node produced this error.
	NodeID string

	// Cause is the underlying error.
	Cause error
}

func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

func (e *NodeError) Unwrap() error {
	return e.Cause
}
