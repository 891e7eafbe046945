package graph

// Edge represents a static connection between two nodes in the workflow graph.
//
// Edges can be:
//   - Unconditional: always traverse (When = nil).
//   - Conditional: only traverse if the predicate returns true.
//
// Edges are evaluated in registration order and the first match wins.
// A Router registered for the same node takes precedence over its edges.
type Edge[S any] struct {
	// From is the source node ID.
	From string

	// To is the destination node ID.
	To string

	// When is an optional predicate that determines if this edge is taken.
	When Predicate[S]
}

// Predicate evaluates state to decide whether an edge should be traversed.
// Predicates must be pure functions.
type Predicate[S any] func(state S) bool

// Router selects the next node from the current state.
//
// Routers are pure functions evaluated after the node they are attached to.
// Returning an error signals a broken invariant (for example an action value
// no branch understands); the engine wraps it as a contract violation and
// aborts the call rather than guessing a destination.
type Router[S any] func(state S) (string, error)
