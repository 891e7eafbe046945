package legal

import (
	"context"
	"errors"

	"github.com/dshills/lexgraph/graph"
	"github.com/dshills/lexgraph/graph/store"
	"github.com/dshills/lexgraph/logger"
)

// stepFunc is the body of a node. A non-nil error may come with a partial
// update that is still merged.
type stepFunc func(ctx context.Context, s State) (Update, error)

// captured wraps a stepFunc with the uniform error channel.
//
// Success clears Errors. A security violation is recorded in Errors and
// logged at warn, any other failure is recorded and logged at error. Neither
// reaches the engine. Contract violations are the exception: they abort the
// call as a *graph.NodeError.
type captured struct {
	id   string
	fn   stepFunc
	log  logger.Logger
	stop bool
}

func capture(id string, fn stepFunc, log logger.Logger) *captured {
	return &captured{id: id, fn: fn, log: log}
}

// Run implements graph.Node.
func (c *captured) Run(ctx context.Context, s State) graph.NodeResult[Update] {
	u, err := c.fn(ctx, s)

	var route graph.Next
	if c.stop {
		route = graph.Stop()
	}

	if err == nil {
		u.Errors = ptr("")
		return graph.NodeResult[Update]{Delta: u, Route: route}
	}

	if graph.IsContractViolation(err) {
		return graph.NodeResult[Update]{
			Delta: u,
			Err: &graph.NodeError{
				Message: err.Error(),
				Code:    "CONTRACT_VIOLATION",
				NodeID:  c.id,
				Cause:   err,
			},
		}
	}

	details := map[string]interface{}{"node": c.id, "error": err.Error()}
	if key, ok := sessionFrom(ctx); ok {
		details["user_id"] = key.UserID
		details["thread_id"] = key.ThreadID
	}
	if errors.Is(err, ErrSecurityViolation) {
		c.log.Warn(c.id, "security alert", details)
	} else {
		c.log.Error(c.id, "node failed", details)
	}

	u.Errors = ptr(err.Error())
	return graph.NodeResult[Update]{Delta: u, Route: route}
}

type sessionKey struct{}

func withSession(ctx context.Context, key store.Key) context.Context {
	return context.WithValue(ctx, sessionKey{}, key)
}

func sessionFrom(ctx context.Context) (store.Key, bool) {
	key, ok := ctx.Value(sessionKey{}).(store.Key)
	return key, ok
}
