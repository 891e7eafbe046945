package graph

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// executeNode runs node under the configured per-node timeout and converts a
// panic into a contract-violation NodeError.
func executeNode[S, D any](ctx context.Context, node Node[S, D], nodeID string, state S, timeout time.Duration) (result NodeResult[D]) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = NodeResult[D]{Err: &NodeError{
				Message: fmt.Sprintf("panic: %v", r),
				Code:    "PANIC",
				NodeID:  nodeID,
				Cause:   fmt.Errorf("%w: panic in node %s: %v\n%s", ErrContractViolation, nodeID, r, debug.Stack()),
			}}
		}
	}()

	return node.Run(ctx, state)
}
