package legal

// CircuitLimit is how many failed verifications an executor gets per cycle
// before the workflow moves on without it.
const CircuitLimit = 3

// Circuit counts failed verifications per executor node.
//
// A Circuit is never mutated after it is placed in State: Increase returns a
// new map.
type Circuit map[string]int

// NewCircuit returns an empty circuit.
func NewCircuit() Circuit {
	return Circuit{}
}

// Count returns the attempts recorded for id. Missing entries count as 0.
func (c Circuit) Count(id string) int {
	return c[id]
}

// Increase returns a copy of c with id's count incremented.
func (c Circuit) Increase(id string) Circuit {
	next := c.clone()
	next[id]++
	return next
}

// IsOverLimit reports whether id has used up its retries.
func (c Circuit) IsOverLimit(id string) bool {
	return c[id] >= CircuitLimit
}

func (c Circuit) clone() Circuit {
	next := make(Circuit, len(c)+1)
	for k, v := range c {
		next[k] = v
	}
	return next
}
