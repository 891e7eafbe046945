package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/lexgraph/graph/emit"
	"github.com/dshills/lexgraph/graph/store"
)

// Engine drives a durable, resumable workflow over a node graph.
//
// The Engine:
//   - Manages workflow topology (nodes, edges, routers, interrupt points)
//   - Executes one node at a time, merging each delta through the reducer
//   - Persists the session checkpoint and step log after every node
//   - Parks a session before an interrupt node and resumes it later
//   - Serializes calls for the same session
//   - Emits observability events and Prometheus metrics
//
// Type parameters:
//   - S is the state type shared across the workflow.
//   - D is the partial update type nodes produce.
//
// Example:
//
//	st := store.NewMemStore[MyState]()
//	engine, _ := graph.New(reduce, st, emit.NewNullEmitter())
//	_ = engine.Add("draft", draftNode)
//	_ = engine.Add("review", reviewNode)
//	_ = engine.StartAt("draft")
//	_ = engine.Connect("draft", "review", nil)
//	_ = engine.InterruptBefore("review")
//
//	key := store.Key{UserID: "u1", ThreadID: "t1"}
//	res, _ := engine.Run(ctx, key, MyUpdate{Query: "hello"})
//	// res.PausedAt == "review"
//	res, _ = engine.Resume(ctx, key, MyUpdate{Feedback: "ok"})
type Engine[S, D any] struct {
	mu sync.RWMutex

	// reducer merges partial state updates
	reducer Reducer[S, D]

	// nodes maps node IDs to Node implementations
	nodes map[string]Node[S, D]

	// edges defines conditional transitions between nodes
	edges []Edge[S]

	// routers select the next node and take precedence over edges
	routers map[string]Router[S]

	// interrupts lists nodes the engine parks before
	interrupts map[string]bool

	// startNode is the entry point of every Run
	startNode string

	store   store.Store[S]
	emitter emit.Emitter
	metrics *PrometheusMetrics
	opts    Options

	sessions *sessionLocks
}

// Result is what a Run or Resume call hands back.
type Result[S any] struct {
	// State is the session state when the call returned.
	State S

	// PausedAt names the interrupt node the session is parked before, or
	// is empty when the cycle ran to completion.
	PausedAt string

	// RunID identifies this call in emitted events and the step log.
	RunID string

	// Steps is the number of nodes executed by this call.
	Steps int
}

// Paused reports whether the call ended parked at an interrupt point.
func (r Result[S]) Paused() bool {
	return r.PausedAt != ""
}

// New creates an Engine.
//
// Parameters:
//   - reducer: merges node deltas into the state (required)
//   - st: persistence backend for checkpoints (required)
//   - emitter: observability event receiver (nil discards events)
//   - options: functional options (WithMaxSteps, WithMetrics, ...)
func New[S, D any](reducer Reducer[S, D], st store.Store[S], emitter emit.Emitter, options ...Option) (*Engine[S, D], error) {
	if reducer == nil {
		return nil, &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}
	if st == nil {
		return nil, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	cfg := &engineConfig{}
	for _, opt := range options {
		if err := opt(cfg); err != nil {
			return nil, &EngineError{Message: "invalid option: " + err.Error(), Code: "INVALID_OPTION", Cause: err}
		}
	}
	if cfg.opts.MaxSteps == 0 {
		cfg.opts.MaxSteps = DefaultMaxSteps
	}

	return &Engine[S, D]{
		reducer:    reducer,
		nodes:      make(map[string]Node[S, D]),
		routers:    make(map[string]Router[S]),
		interrupts: make(map[string]bool),
		store:      st,
		emitter:    emitter,
		metrics:    cfg.metrics,
		opts:       cfg.opts,
		sessions:   newSessionLocks(),
	}, nil
}

// Add registers a node in the workflow graph.
//
// Returns error if nodeID is empty, node is nil or the ID is already taken.
func (e *Engine[S, D]) Add(nodeID string, node Node[S, D]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{Message: "duplicate node ID: " + nodeID, Code: "DUPLICATE_NODE"}
	}
	e.nodes[nodeID] = node
	return nil
}

// StartAt sets the entry point for Run. The node must already be registered.
func (e *Engine[S, D]) StartAt(nodeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{Message: "start node does not exist: " + nodeID, Code: "NODE_NOT_FOUND"}
	}
	e.startNode = nodeID
	return nil
}

// Connect creates an edge between two nodes.
//
// Edges are evaluated in registration order and the first match wins. A nil
// predicate always matches. Node existence is checked lazily at run time so
// the graph can be declared in any order.
func (e *Engine[S, D]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// Branch attaches a router to a node. After the node completes, the router
// picks the next node from the merged state. A node has at most one router.
func (e *Engine[S, D]) Branch(from string, router Router[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if router == nil {
		return &EngineError{Message: "router cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.routers[from]; exists {
		return &EngineError{Message: "router already registered for " + from, Code: "DUPLICATE_ROUTER"}
	}
	e.routers[from] = router
	return nil
}

// InterruptBefore marks nodes the engine must not enter without an explicit
// Resume. When routing reaches one of them, the session is checkpointed with
// the node as its pause marker and the call returns.
func (e *Engine[S, D]) InterruptBefore(nodeIDs ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range nodeIDs {
		if id == "" {
			return &EngineError{Message: "interrupt node ID cannot be empty"}
		}
		e.interrupts[id] = true
	}
	return nil
}

// Run starts a new cycle for the session.
//
// The stored state (or the zero state for a new session) is merged with
// input and execution begins at the start node. A session parked at an
// interrupt point is un-parked: Run always starts a fresh cycle.
func (e *Engine[S, D]) Run(ctx context.Context, key store.Key, input D) (Result[S], error) {
	if err := e.validate(key); err != nil {
		return Result[S]{}, err
	}

	unlock, err := e.acquire(ctx, key)
	if err != nil {
		return Result[S]{}, err
	}
	defer unlock()

	var state S
	cp, err := e.store.Load(ctx, key)
	switch {
	case err == nil:
		state = cp.State
	case errors.Is(err, store.ErrNotFound):
	default:
		return Result[S]{}, &EngineError{Message: "failed to load checkpoint: " + err.Error(), Code: "STORE_ERROR", Cause: err}
	}

	e.mu.RLock()
	start := e.startNode
	e.mu.RUnlock()

	state = e.reducer(state, input)
	return e.execute(ctx, "run", key, state, start, "")
}

// Resume continues a session parked at an interrupt point.
//
// input is merged into the stored state (typically the human's answer) and
// execution re-enters the step loop at the parked node itself.
//
// Returns ErrNoCheckpoint for an unknown session and ErrNotPaused when the
// session is not parked.
func (e *Engine[S, D]) Resume(ctx context.Context, key store.Key, input D) (Result[S], error) {
	if err := e.validate(key); err != nil {
		return Result[S]{}, err
	}

	unlock, err := e.acquire(ctx, key)
	if err != nil {
		return Result[S]{}, err
	}
	defer unlock()

	pausedAt, err := e.store.ListPending(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return Result[S]{}, &EngineError{Message: "cannot resume " + key.String(), Code: "NO_CHECKPOINT", Cause: ErrNoCheckpoint}
	}
	if err != nil {
		return Result[S]{}, &EngineError{Message: "failed to load pause marker: " + err.Error(), Code: "STORE_ERROR", Cause: err}
	}
	if pausedAt == "" {
		return Result[S]{}, &EngineError{Message: "cannot resume " + key.String(), Code: "NOT_PAUSED", Cause: ErrNotPaused}
	}

	cp, err := e.store.Load(ctx, key)
	if err != nil {
		return Result[S]{}, &EngineError{Message: "failed to load checkpoint: " + err.Error(), Code: "STORE_ERROR", Cause: err}
	}

	state := e.reducer(cp.State, input)
	return e.execute(ctx, "resume", key, state, cp.PausedAt, cp.PausedAt)
}

// State returns the latest checkpoint of a session.
func (e *Engine[S, D]) State(ctx context.Context, key store.Key) (store.Checkpoint[S], error) {
	cp, err := e.store.Load(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return store.Checkpoint[S]{}, &EngineError{Message: "no state for " + key.String(), Code: "NO_CHECKPOINT", Cause: ErrNoCheckpoint}
	}
	return cp, err
}

// Steps returns the session's step log.
func (e *Engine[S, D]) Steps(ctx context.Context, key store.Key) ([]store.StepRecord[S], error) {
	return e.store.Steps(ctx, key)
}

func (e *Engine[S, D]) validate(key store.Key) error {
	if !key.Valid() {
		return &EngineError{Message: "session key requires user and thread IDs", Code: "INVALID_KEY"}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.startNode == "" {
		return &EngineError{Message: "start node not set (call StartAt before Run)", Code: "NO_START_NODE"}
	}
	return nil
}

// acquire serializes calls for key inside this process and, when the store
// is shared between processes, across them.
func (e *Engine[S, D]) acquire(ctx context.Context, key store.Key) (func(), error) {
	unlock := e.sessions.lock(key.String())

	release := func() {}
	if locker, ok := e.store.(store.Locker); ok {
		r, err := locker.Lock(ctx, key)
		if err != nil {
			unlock()
			return nil, &EngineError{Message: "failed to lock session " + key.String() + ": " + err.Error(), Code: "LOCK_FAILED", Cause: err}
		}
		release = r
	}

	e.metrics.UpdateInflight(1)
	return func() {
		e.metrics.UpdateInflight(-1)
		release()
		unlock()
	}, nil
}

// execute is the step loop shared by Run and Resume.
//
// resumedAt is the interrupt node the call was resumed at; it is entered
// without parking again. On a hard failure the merged state is persisted
// with the pause marker the failing step started with, so a session that
// fails at its resumed interrupt node stays parked there.
func (e *Engine[S, D]) execute(ctx context.Context, mode string, key store.Key, state S, start, resumedAt string) (Result[S], error) {
	if e.opts.RunWallClockBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RunWallClockBudget)
		defer cancel()
	}

	runID := uuid.NewString()
	session := key.String()
	marker := resumedAt
	current := start

	startMsg := emit.MsgRunStarted
	if mode == "resume" {
		startMsg = emit.MsgRunResumed
	}
	e.emit(runID, session, 0, "", startMsg, map[string]interface{}{"start": start})

	fail := func(step int, nodeID string, err error) (Result[S], error) {
		if saveErr := e.store.Save(context.WithoutCancel(ctx), key, state, marker); saveErr != nil {
			err = errors.Join(err, saveErr)
		}
		e.emit(runID, session, step, nodeID, emit.MsgNodeError, map[string]interface{}{"error": err.Error()})
		e.metrics.IncrementRuns(mode, "error")
		return Result[S]{State: state, PausedAt: marker, RunID: runID, Steps: step}, err
	}

	for step := 1; ; step++ {
		if step > e.opts.MaxSteps {
			return fail(step-1, current, &EngineError{
				Message: fmt.Sprintf("workflow exceeded MaxSteps limit of %d", e.opts.MaxSteps),
				Code:    "MAX_STEPS_EXCEEDED",
				Cause:   ErrMaxStepsExceeded,
			})
		}
		if err := ctx.Err(); err != nil {
			return fail(step-1, current, err)
		}

		e.mu.RLock()
		node, exists := e.nodes[current]
		interrupt := e.interrupts[current]
		e.mu.RUnlock()

		if !exists {
			return fail(step-1, current, &EngineError{
				Message: "node not found during execution: " + current,
				Code:    "NODE_NOT_FOUND",
				Cause:   ErrContractViolation,
			})
		}

		if interrupt && !(step == 1 && current == resumedAt) {
			if err := e.store.Save(ctx, key, state, current); err != nil {
				return fail(step-1, current, &EngineError{Message: "failed to save checkpoint: " + err.Error(), Code: "STORE_ERROR", Cause: err})
			}
			e.emit(runID, session, 0, current, emit.MsgInterrupted, map[string]interface{}{"paused_at": current})
			e.metrics.IncrementInterrupts(current)
			e.metrics.IncrementRuns(mode, "paused")
			return Result[S]{State: state, PausedAt: current, RunID: runID, Steps: step - 1}, nil
		}

		input, err := deepCopy(state)
		if err != nil {
			return fail(step-1, current, &EngineError{Message: "failed to copy state: " + err.Error(), Code: "STATE_COPY", Cause: err})
		}

		began := time.Now()
		result := executeNode(ctx, node, current, input, e.opts.DefaultNodeTimeout)
		latency := time.Since(began)

		state = e.reducer(state, result.Delta)

		if result.Err != nil {
			e.metrics.RecordStepLatency(current, latency, "error")
			e.metrics.IncrementNodeErrors(current, errorKind(result.Err))
			return fail(step, current, result.Err)
		}

		next, terminal, err := e.route(current, state, result.Route)
		if err != nil {
			e.metrics.RecordStepLatency(current, latency, "error")
			e.metrics.IncrementNodeErrors(current, "contract_violation")
			return fail(step, current, err)
		}

		if err := e.store.SaveStep(ctx, key, runID, step, current, state); err != nil {
			return fail(step, current, &EngineError{Message: "failed to save step: " + err.Error(), Code: "STORE_ERROR", Cause: err})
		}
		if err := e.store.Save(ctx, key, state, ""); err != nil {
			return fail(step, current, &EngineError{Message: "failed to save checkpoint: " + err.Error(), Code: "STORE_ERROR", Cause: err})
		}
		marker = ""

		e.metrics.RecordStepLatency(current, latency, "success")
		e.emit(runID, session, step, current, emit.MsgNodeCompleted, map[string]interface{}{
			"duration_ms": latency.Milliseconds(),
			"next":        next,
		})

		if terminal {
			e.emit(runID, session, 0, "", emit.MsgRunCompleted, map[string]interface{}{"steps": step})
			e.metrics.IncrementRuns(mode, "completed")
			return Result[S]{State: state, RunID: runID, Steps: step}, nil
		}
		current = next
	}
}

// route resolves the next node. Precedence: explicit Stop, explicit Goto,
// the node's router, then edges in registration order.
func (e *Engine[S, D]) route(from string, state S, explicit Next) (string, bool, error) {
	if explicit.Terminal {
		return "", true, nil
	}

	e.mu.RLock()
	router := e.routers[from]
	e.mu.RUnlock()

	next := explicit.To
	if next == "" && router != nil {
		target, err := router(state)
		if err != nil {
			return "", false, &EngineError{
				Message: "routing after " + from + " failed: " + err.Error(),
				Code:    "CONTRACT_VIOLATION",
				Cause:   fmt.Errorf("%w: %w", ErrContractViolation, err),
			}
		}
		next = target
	}
	if next == "" {
		next = e.evaluateEdges(from, state)
	}
	if next == "" {
		return "", false, &EngineError{Message: "no valid route from node: " + from, Code: "NO_ROUTE", Cause: ErrContractViolation}
	}

	e.mu.RLock()
	_, exists := e.nodes[next]
	e.mu.RUnlock()
	if !exists {
		return "", false, &EngineError{Message: "route from " + from + " targets unknown node: " + next, Code: "NODE_NOT_FOUND", Cause: ErrContractViolation}
	}
	return next, false, nil
}

// evaluateEdges returns the target of the first matching edge from fromNode,
// or "" when none matches.
func (e *Engine[S, D]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

func (e *Engine[S, D]) emit(runID, session string, step int, nodeID, msg string, meta map[string]interface{}) {
	e.emitter.Emit(emit.Event{
		RunID:   runID,
		Session: session,
		Step:    step,
		NodeID:  nodeID,
		Msg:     msg,
		Time:    time.Now(),
		Meta:    meta,
	})
}

func errorKind(err error) string {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) && nodeErr.Code == "PANIC" {
		return "panic"
	}
	if IsContractViolation(err) {
		return "contract_violation"
	}
	return "failure"
}
